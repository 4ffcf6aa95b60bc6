package poller

import (
	"errors"
	"fmt"
)

// ErrInvalidWindow reports window parameters that can never produce a window.
var ErrInvalidWindow = errors.New("invalid window parameters")

// Window is the inclusive block range scanned by one cycle.
type Window struct {
	FromBlock uint64
	ToBlock   uint64
}

// ComputeWindow anchors a lookback of lookbackSeconds at currentHeight,
// assuming one block every avgBlockSeconds. FromBlock is clamped at zero.
func ComputeWindow(currentHeight, lookbackSeconds, avgBlockSeconds uint64) (Window, error) {
	if avgBlockSeconds == 0 {
		return Window{}, fmt.Errorf("%w: average block seconds must be greater than zero", ErrInvalidWindow)
	}

	blocksBack := lookbackSeconds / avgBlockSeconds
	var from uint64
	if currentHeight > blocksBack {
		from = currentHeight - blocksBack
	}
	return Window{FromBlock: from, ToBlock: currentHeight}, nil
}
