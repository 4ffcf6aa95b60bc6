package poller

import (
	"eventWatch/internal/model"
	"eventWatch/internal/store"
)

// Partition splits events into those whose hash is not yet recorded and
// those already known. Relative order is kept in both. A hash repeated
// within events is new only on its first occurrence.
func Partition(events []model.RawEvent, known store.HashSet) (fresh, seen []model.RawEvent) {
	taken := make(store.HashSet, len(events))
	for _, ev := range events {
		if known.Has(ev.TxHash) || taken.Has(ev.TxHash) {
			seen = append(seen, ev)
			continue
		}
		taken.Add(ev.TxHash)
		fresh = append(fresh, ev)
	}
	return fresh, seen
}

func txHashes(events []model.RawEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.TxHash)
	}
	return out
}
