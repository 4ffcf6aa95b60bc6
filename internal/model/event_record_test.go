package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestEventRecordJSONRoundTrip(t *testing.T) {
	original := NewEventRecord(RawEvent{
		TxHash:      "0xdef456",
		BlockNumber: 36000000,
		LogIndex:    3,
		Payload: TokensBought{
			Buyer:          "0x1111111111111111111111111111111111111111",
			TokenAmount:    "12345678901234567890123",
			TotalCost:      "5000000000000000000",
			Fee:            "25000000000000000",
			Price:          "405000000000000",
			ProjectAddress: "0x2222222222222222222222222222222222222222",
		},
	}, 1700000000)

	if original.Event != EventTokensBought {
		t.Fatalf("event tag mismatch: %q", original.Event)
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded EventRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestEventRecordJSONFieldNames(t *testing.T) {
	rec := NewEventRecord(RawEvent{TxHash: "0xabc", BlockNumber: 7, Payload: TokensBought{TokenAmount: "1"}}, 9)

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"transactionHash", "blockNumber", "timestamp", "event", "payload"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %s in %s", key, b)
		}
	}
	payload, ok := decoded["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload should be an object")
	}
	if _, ok := payload["tokenAmount"].(string); !ok {
		t.Fatalf("tokenAmount should be string")
	}
}

func TestEventRecordUnmarshalRejectsUnknownEvent(t *testing.T) {
	input := `{"transactionHash":"0x1","blockNumber":1,"timestamp":2,"event":"Mystery","payload":{}}`

	var rec EventRecord
	err := json.Unmarshal([]byte(input), &rec)
	if err == nil {
		t.Fatalf("expected error for unknown event")
	}
	if !strings.Contains(err.Error(), "unsupported event") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEventRecordUnmarshalRequiresHash(t *testing.T) {
	input := `{"blockNumber":1,"timestamp":2,"event":"TokensBought","payload":{}}`

	var rec EventRecord
	if err := json.Unmarshal([]byte(input), &rec); err == nil {
		t.Fatalf("expected error for missing hash")
	}
}
