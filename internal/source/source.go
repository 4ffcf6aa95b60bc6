package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"eventWatch/internal/model"
)

// ErrUnavailable marks failures talking to the ledger RPC.
var ErrUnavailable = errors.New("source unavailable")

// Source is the ledger capability the poller depends on.
type Source interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, fromBlock, toBlock uint64) (FetchResult, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
}

// FetchResult is what a window scan returned. Undecodable counts logs that
// matched the filter but were skipped because their payload did not decode.
type FetchResult struct {
	Events      []model.RawEvent
	Undecodable int
}

// Chain is the subset of the RPC client used by ChainSource.
type Chain interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Decoder decodes a matching log into a typed payload.
type Decoder interface {
	Topic0() common.Hash
	Decode(log types.Log) (model.Payload, error)
}

// Config holds settings for ChainSource.
type Config struct {
	Contract     common.Address
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	// OnDecodeError is called for every log that matched the filter but failed to decode.
	OnDecodeError func(log types.Log, err error)
}

// ChainSource fetches and decodes contract events over JSON-RPC.
type ChainSource struct {
	cfg     Config
	chain   Chain
	decoder Decoder
	logger  *zap.Logger
}

var _ Source = (*ChainSource)(nil)

// NewChainSource builds a ChainSource with its dependencies.
func NewChainSource(cfg Config, chain Chain, decoder Decoder, logger *zap.Logger) (*ChainSource, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainSource{cfg: cfg, chain: chain, decoder: decoder, logger: logger}, nil
}

// CurrentHeight returns the latest block number.
func (s *ChainSource) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.retry(ctx, "latest block", func(ctx context.Context) error {
		var err error
		height, err = s.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: latest block: %w", ErrUnavailable, err)
	}
	return height, nil
}

// BlockTimestamp returns the timestamp of blockNumber in unix seconds.
func (s *ChainSource) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := s.retry(ctx, "block timestamp", func(ctx context.Context) error {
		var err error
		ts, err = s.chain.BlockTimestamp(ctx, blockNumber)
		return err
	}, zap.Uint64("block_number", blockNumber))
	if err != nil {
		return 0, fmt.Errorf("%w: block timestamp %d: %w", ErrUnavailable, blockNumber, err)
	}
	return ts, nil
}

// FetchEvents returns decoded events in [fromBlock, toBlock], in node order.
func (s *ChainSource) FetchEvents(ctx context.Context, fromBlock, toBlock uint64) (FetchResult, error) {
	var result FetchResult

	ranges, err := SplitRange(fromBlock, toBlock, s.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	addresses := []common.Address{s.cfg.Contract}
	topic0 := []common.Hash{s.decoder.Topic0()}

	for _, blockRange := range ranges {
		var logs []types.Log
		err := s.retry(ctx, "filter logs", func(ctx context.Context) error {
			var err error
			logs, err = s.chain.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topic0)
			return err
		}, zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		if err != nil {
			return FetchResult{}, fmt.Errorf("%w: filter logs %d-%d: %w", ErrUnavailable, blockRange.From, blockRange.To, err)
		}

		for _, log := range logs {
			if log.Removed {
				continue
			}
			payload, err := s.decoder.Decode(log)
			if err != nil {
				s.logger.Warn("skip undecodable log",
					zap.Error(err),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint64("block_number", log.BlockNumber),
					zap.Uint("log_index", log.Index),
				)
				if s.cfg.OnDecodeError != nil {
					s.cfg.OnDecodeError(log, err)
				}
				result.Undecodable++
				continue
			}
			result.Events = append(result.Events, model.RawEvent{
				TxHash:      log.TxHash.Hex(),
				BlockNumber: log.BlockNumber,
				LogIndex:    uint64(log.Index),
				Payload:     payload,
			})
		}

		s.logger.Debug("fetched logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To), zap.Int("logs", len(logs)))
	}

	return result, nil
}

func (s *ChainSource) retry(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	onRetry := func(attempt uint, err error) {
		logFields := append([]zap.Field{zap.Error(err), zap.Uint("attempt", attempt+1)}, fields...)
		s.logger.Warn(op+" failed", logFields...)
	}
	return withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, onRetry, fn)
}
