package model

import (
	"encoding/json"
	"fmt"
)

// Event names with a typed payload.
const (
	EventTokensBought = "TokensBought"
)

// Payload is the event-specific part of a record. Each watched event kind has its own type.
type Payload interface {
	EventName() string
}

// TokensBought is the decoded TokensBought event payload. Amounts are base-10 strings.
type TokensBought struct {
	Buyer          string `json:"buyer"`
	TokenAmount    string `json:"tokenAmount"`
	TotalCost      string `json:"totalCost"`
	Fee            string `json:"fee"`
	Price          string `json:"price"`
	ProjectAddress string `json:"projectAddress"`
}

func (TokensBought) EventName() string { return EventTokensBought }

var payloadTypes = map[string]func() Payload{
	EventTokensBought: func() Payload { return &TokensBought{} },
}

// SupportedEvent reports whether name has a registered payload type.
func SupportedEvent(name string) bool {
	_, ok := payloadTypes[name]
	return ok
}

// DecodePayload decodes raw JSON into the payload type registered for event.
func DecodePayload(event string, raw json.RawMessage) (Payload, error) {
	newPayload, ok := payloadTypes[event]
	if !ok {
		return nil, fmt.Errorf("unsupported event: %q", event)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing payload for %s", event)
	}

	p := newPayload()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event, err)
	}

	switch typed := p.(type) {
	case *TokensBought:
		return *typed, nil
	default:
		return p, nil
	}
}
