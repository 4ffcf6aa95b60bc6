package model

import (
	"encoding/json"
	"fmt"
)

// EventRecord is a decoded, persisted occurrence of the watched event.
type EventRecord struct {
	TransactionHash string  `json:"transactionHash"`
	BlockNumber     uint64  `json:"blockNumber"`
	Timestamp       uint64  `json:"timestamp"`
	Event           string  `json:"event"`
	Payload         Payload `json:"payload"`
}

// RawEvent is a matching log as returned by the event source, before timestamp enrichment.
type RawEvent struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint64
	Payload     Payload
}

// NewEventRecord assembles a record from a raw event and its block timestamp.
func NewEventRecord(ev RawEvent, timestamp uint64) EventRecord {
	rec := EventRecord{
		TransactionHash: ev.TxHash,
		BlockNumber:     ev.BlockNumber,
		Timestamp:       timestamp,
		Payload:         ev.Payload,
	}
	if ev.Payload != nil {
		rec.Event = ev.Payload.EventName()
	}
	return rec
}

// MarshalJSON ensures the event tag always matches the payload variant.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	type Alias EventRecord
	a := Alias(r)
	if r.Payload != nil {
		a.Event = r.Payload.EventName()
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes the payload into the variant named by the event tag.
func (r *EventRecord) UnmarshalJSON(data []byte) error {
	var a struct {
		TransactionHash string          `json:"transactionHash"`
		BlockNumber     uint64          `json:"blockNumber"`
		Timestamp       uint64          `json:"timestamp"`
		Event           string          `json:"event"`
		Payload         json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.TransactionHash == "" {
		return fmt.Errorf("missing transaction hash")
	}

	payload, err := DecodePayload(a.Event, a.Payload)
	if err != nil {
		return err
	}

	*r = EventRecord{
		TransactionHash: a.TransactionHash,
		BlockNumber:     a.BlockNumber,
		Timestamp:       a.Timestamp,
		Event:           a.Event,
		Payload:         payload,
	}
	return nil
}
