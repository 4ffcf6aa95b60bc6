package exchange

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eventWatch/internal/model"
)

func TestDecoderTokensBought(t *testing.T) {
	exchangeABI, err := ExchangeABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	decoder, err := NewDecoder(exchangeABI, model.EventTokensBought)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	buyer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	project := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenAmount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	event := exchangeABI.Events[model.EventTokensBought]
	data, err := event.Inputs.NonIndexed().Pack(
		tokenAmount,
		big.NewInt(5000),
		big.NewInt(25),
		big.NewInt(405),
	)
	if err != nil {
		t.Fatalf("pack tokens bought: %v", err)
	}

	log := buildLog(event.ID, data, []common.Hash{topicFromAddress(buyer), topicFromAddress(project)})

	payload, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode tokens bought: %v", err)
	}

	bought, ok := payload.(model.TokensBought)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", payload)
	}
	if bought.TokenAmount != "123456789012345678901234567890" {
		t.Fatalf("token amount mismatch: %+v", bought)
	}
	if bought.TotalCost != "5000" || bought.Fee != "25" || bought.Price != "405" {
		t.Fatalf("amounts mismatch: %+v", bought)
	}
	if bought.Buyer != buyer.Hex() || bought.ProjectAddress != project.Hex() {
		t.Fatalf("address mismatch: %+v", bought)
	}
	if decoder.Topic0() != event.ID {
		t.Fatalf("topic0 mismatch")
	}
}

func TestDecoderRejectsMalformedLogs(t *testing.T) {
	exchangeABI, err := ExchangeABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(exchangeABI, model.EventTokensBought)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	event := exchangeABI.Events[model.EventTokensBought]
	buyer := topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	if _, err := decoder.Decode(types.Log{}); err == nil {
		t.Fatalf("expected error for missing topics")
	}
	if _, err := decoder.Decode(buildLog(common.HexToHash("0x01"), nil, []common.Hash{buyer, buyer})); err == nil {
		t.Fatalf("expected error for foreign topic0")
	}
	if _, err := decoder.Decode(buildLog(event.ID, nil, []common.Hash{buyer})); err == nil {
		t.Fatalf("expected error for missing indexed topic")
	}
	if _, err := decoder.Decode(buildLog(event.ID, []byte{0x01}, []common.Hash{buyer, buyer})); err == nil {
		t.Fatalf("expected error for truncated data")
	}
}

func TestNewDecoderUnknownEvent(t *testing.T) {
	exchangeABI, err := ExchangeABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if _, err := NewDecoder(exchangeABI, "TokensSold"); err == nil {
		t.Fatalf("expected error for event missing from abi")
	}
}

func TestLoadABIArtifact(t *testing.T) {
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "Exchange.json")
	if err := os.WriteFile(rawPath, []byte(exchangeABIJSON), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	artifactPath := filepath.Join(dir, "artifact.json")
	if err := os.WriteFile(artifactPath, []byte(`{"contractName":"Exchange","abi":`+exchangeABIJSON+`}`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	for _, path := range []string{rawPath, artifactPath} {
		parsed, err := LoadABI(path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if _, ok := parsed.Events[model.EventTokensBought]; !ok {
			t.Fatalf("event missing from %s", path)
		}
	}

	if err := os.WriteFile(artifactPath, []byte(`{"contractName":"Exchange"}`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if _, err := LoadABI(artifactPath); err == nil {
		t.Fatalf("expected error for artifact without abi")
	}
}

func buildLog(topic0 common.Hash, data []byte, indexed []common.Hash) types.Log {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)

	return types.Log{
		Address:     common.HexToAddress("0x29afc9bcce5a78fC266f184f9BA8b39E66289c61"),
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdef"),
		Index:       1,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
