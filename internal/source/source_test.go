package source

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eventWatch/internal/model"
)

var (
	testContract = common.HexToAddress("0x29afc9bcce5a78fC266f184f9BA8b39E66289c61")
	testTopic0   = common.HexToHash("0xfeed")
)

type fakeChain struct {
	height     uint64
	logs       []types.Log
	timestamps map[uint64]uint64
	failures   int
	calls      []BlockRange
}

func (f *fakeChain) fail() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.height, nil
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.timestamps[number], nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if len(addresses) != 1 || addresses[0] != testContract {
		return nil, errors.New("unexpected address filter")
	}
	if len(topic0) != 1 || topic0[0] != testTopic0 {
		return nil, errors.New("unexpected topic filter")
	}
	f.calls = append(f.calls, BlockRange{From: fromBlock, To: toBlock})

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

type fakeDecoder struct{}

func (fakeDecoder) Topic0() common.Hash { return testTopic0 }

func (fakeDecoder) Decode(log types.Log) (model.Payload, error) {
	if string(log.Data) == "bad" {
		return nil, errors.New("unpack failed")
	}
	return model.TokensBought{TokenAmount: string(log.Data)}, nil
}

func newTestSource(t *testing.T, chain Chain, batchSize uint64) *ChainSource {
	t.Helper()
	src, err := NewChainSource(Config{
		Contract:     testContract,
		BatchSize:    batchSize,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, chain, fakeDecoder{}, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return src
}

func testLog(block uint64, index uint, tx string, data string) types.Log {
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{testTopic0},
		Data:        []byte(data),
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Index:       index,
	}
}

func TestFetchEventsSplitsWindowAndKeepsOrder(t *testing.T) {
	chain := &fakeChain{logs: []types.Log{
		testLog(10, 0, "0xa", "1"),
		testLog(12, 3, "0xb", "2"),
		testLog(12, 4, "0xc", "3"),
		testLog(19, 0, "0xd", "4"),
	}}
	src := newTestSource(t, chain, 5)

	result, err := src.FetchEvents(context.Background(), 10, 19)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	events := result.Events

	wantCalls := []BlockRange{{From: 10, To: 14}, {From: 15, To: 19}}
	if !reflect.DeepEqual(chain.calls, wantCalls) {
		t.Fatalf("calls mismatch: %+v != %+v", chain.calls, wantCalls)
	}

	var hashes []string
	for _, ev := range events {
		hashes = append(hashes, ev.TxHash)
	}
	want := []string{
		common.HexToHash("0xa").Hex(),
		common.HexToHash("0xb").Hex(),
		common.HexToHash("0xc").Hex(),
		common.HexToHash("0xd").Hex(),
	}
	if !reflect.DeepEqual(hashes, want) {
		t.Fatalf("order mismatch: %v != %v", hashes, want)
	}
	if events[2].LogIndex != 4 || events[2].BlockNumber != 12 {
		t.Fatalf("event metadata mismatch: %+v", events[2])
	}
	if events[3].Payload.(model.TokensBought).TokenAmount != "4" {
		t.Fatalf("payload mismatch: %+v", events[3].Payload)
	}
}

func TestFetchEventsSkipsRemovedAndUndecodable(t *testing.T) {
	removed := testLog(2, 0, "0xa", "1")
	removed.Removed = true
	chain := &fakeChain{logs: []types.Log{
		removed,
		testLog(3, 0, "0xb", "bad"),
		testLog(4, 0, "0xc", "7"),
	}}

	var decodeFailures int
	src, err := NewChainSource(Config{
		Contract:      testContract,
		BatchSize:     100,
		OnDecodeError: func(types.Log, error) { decodeFailures++ },
	}, chain, fakeDecoder{}, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	result, err := src.FetchEvents(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(result.Events) != 1 || result.Events[0].TxHash != common.HexToHash("0xc").Hex() {
		t.Fatalf("unexpected events: %+v", result.Events)
	}
	if result.Undecodable != 1 {
		t.Fatalf("expected one undecodable log in result, got %d", result.Undecodable)
	}
	if decodeFailures != 1 {
		t.Fatalf("expected one decode failure, got %d", decodeFailures)
	}
}

func TestSourceRetriesTransientFailures(t *testing.T) {
	chain := &fakeChain{height: 500, failures: 2}
	src := newTestSource(t, chain, 10)

	height, err := src.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("current height: %v", err)
	}
	if height != 500 {
		t.Fatalf("height mismatch: %d", height)
	}
}

func TestSourceWrapsUnavailable(t *testing.T) {
	chain := &fakeChain{height: 500, failures: 100}
	src := newTestSource(t, chain, 10)
	ctx := context.Background()

	if _, err := src.CurrentHeight(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := src.FetchEvents(ctx, 0, 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := src.BlockTimestamp(ctx, 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewChainSourceValidation(t *testing.T) {
	if _, err := NewChainSource(Config{BatchSize: 1}, nil, fakeDecoder{}, nil); err == nil {
		t.Fatalf("expected error for nil chain")
	}
	if _, err := NewChainSource(Config{BatchSize: 1}, &fakeChain{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil decoder")
	}
	if _, err := NewChainSource(Config{}, &fakeChain{}, fakeDecoder{}, nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}
