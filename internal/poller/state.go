package poller

// State is the phase of the poll cycle.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateReconciling
	StatePersisting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateReconciling:
		return "reconciling"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
