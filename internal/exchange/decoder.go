package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eventWatch/internal/model"
)

type payloadBuilder func(values map[string]interface{}) (model.Payload, error)

var builders = map[string]payloadBuilder{
	model.EventTokensBought: buildTokensBought,
}

// Decoder turns logs of one contract event into typed payloads.
type Decoder struct {
	event abi.Event
	build payloadBuilder
}

// NewDecoder builds a decoder for eventName from contractABI.
func NewDecoder(contractABI abi.ABI, eventName string) (*Decoder, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("event %s not found in abi", eventName)
	}
	build, ok := builders[eventName]
	if !ok || !model.SupportedEvent(eventName) {
		return nil, fmt.Errorf("unsupported event: %s", eventName)
	}
	return &Decoder{event: event, build: build}, nil
}

// EventName returns the decoded event name.
func (d *Decoder) EventName() string {
	return d.event.Name
}

// Topic0 returns the event signature hash used to filter logs.
func (d *Decoder) Topic0() common.Hash {
	return d.event.ID
}

// Decode converts a log into the payload of the watched event.
func (d *Decoder) Decode(log types.Log) (model.Payload, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	if log.Topics[0] != d.event.ID {
		return nil, fmt.Errorf("unexpected topic0: %s", log.Topics[0].Hex())
	}

	indexed := indexedArguments(d.event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}

	values := make(map[string]interface{}, len(d.event.Inputs))
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if err := d.event.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", d.event.Name, err)
	}

	return d.build(values)
}

func buildTokensBought(values map[string]interface{}) (model.Payload, error) {
	buyer, err := addressField(values, "buyer")
	if err != nil {
		return nil, err
	}
	project, err := addressField(values, "projectAddress")
	if err != nil {
		return nil, err
	}

	amounts := make(map[string]string, 4)
	for _, name := range []string{"tokenAmount", "totalCost", "fee", "price"} {
		value, err := bigIntField(values, name)
		if err != nil {
			return nil, err
		}
		amounts[name] = value.String()
	}

	return model.TokensBought{
		Buyer:          buyer.Hex(),
		TokenAmount:    amounts["tokenAmount"],
		TotalCost:      amounts["totalCost"],
		Fee:            amounts["fee"],
		Price:          amounts["price"],
		ProjectAddress: project.Hex(),
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func addressField(values map[string]interface{}, name string) (common.Address, error) {
	raw, ok := values[name]
	if !ok {
		return common.Address{}, fmt.Errorf("missing field %s", name)
	}
	addr, ok := raw.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("field %s: expected address, got %T", name, raw)
	}
	return addr, nil
}

func bigIntField(values map[string]interface{}, name string) (*big.Int, error) {
	raw, ok := values[name]
	if !ok {
		return nil, fmt.Errorf("missing field %s", name)
	}
	value, ok := raw.(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("field %s: expected integer, got %T", name, raw)
	}
	return value, nil
}
