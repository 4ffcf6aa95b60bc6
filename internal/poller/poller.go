package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eventWatch/internal/metrics"
	"eventWatch/internal/model"
	"eventWatch/internal/source"
	"eventWatch/internal/store"
)

// ErrCycleInProgress is returned to a RunCycle caller while another caller's cycle is in flight.
// Run never overlaps its own cycles.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// Config holds runtime settings for the poller.
type Config struct {
	LookbackSeconds  uint64
	AvgBlockSeconds  uint64
	TimestampWorkers int
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID          string
	Window      Window
	Fetched     int
	Undecodable int
	New         []model.EventRecord
	Known       []string
	Duration    time.Duration
}

// Poller scans the recent window for events and records the ones not seen before.
type Poller struct {
	cfg     Config
	source  source.Source
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	running sync.Mutex
	state   atomic.Int32
}

// New builds a Poller. Window parameters are validated here so a bad
// configuration fails at startup rather than on every cycle.
func New(cfg Config, src source.Source, st store.Store, m *metrics.Metrics, logger *zap.Logger) (*Poller, error) {
	if src == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if _, err := ComputeWindow(0, cfg.LookbackSeconds, cfg.AvgBlockSeconds); err != nil {
		return nil, err
	}
	if cfg.TimestampWorkers < 1 {
		cfg.TimestampWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		cfg:     cfg,
		source:  src,
		store:   st,
		metrics: m,
		logger:  logger,
	}, nil
}

// State returns the current cycle phase.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run executes a cycle now and then once per interval until ctx is done.
// Ticks that fire while a cycle is running are coalesced. Run stops and
// returns the error when the store reports corruption; other cycle errors
// are logged and polling continues.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); errors.Is(err, store.ErrCorrupt) {
			return fmt.Errorf("halt polling: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one scan, reconcile and persist pass.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	if !p.running.TryLock() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer p.running.Unlock()

	report := CycleReport{ID: uuid.NewString()}
	logger := p.logger.With(zap.String("cycle_id", report.ID))
	start := time.Now()

	err := p.cycle(ctx, logger, &report)
	report.Duration = time.Since(start)
	p.observe(report, err)

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("poll cycle interrupted by shutdown",
			zap.Stringer("state", p.State()),
			zap.Duration("duration", report.Duration),
		)
	case err != nil:
		failedIn := p.State()
		p.setState(StateFailed)
		logger.Error("poll cycle failed",
			zap.Error(err),
			zap.Stringer("state", failedIn),
			zap.Duration("duration", report.Duration),
		)
	}
	p.setState(StateIdle)

	return report, err
}

func (p *Poller) cycle(ctx context.Context, logger *zap.Logger, report *CycleReport) error {
	p.setState(StateScanning)

	height, err := p.source.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("current height: %w", err)
	}
	window, err := ComputeWindow(height, p.cfg.LookbackSeconds, p.cfg.AvgBlockSeconds)
	if err != nil {
		return err
	}
	report.Window = window

	logger.Info("scan window", zap.Uint64("from", window.FromBlock), zap.Uint64("to", window.ToBlock))

	fetched, err := p.source.FetchEvents(ctx, window.FromBlock, window.ToBlock)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	events := fetched.Events
	report.Fetched = len(events)
	report.Undecodable = fetched.Undecodable

	if err := ctx.Err(); err != nil {
		return err
	}
	p.setState(StateReconciling)

	known, err := p.store.LoadKnownHashes(ctx)
	if err != nil {
		return fmt.Errorf("load known hashes: %w", err)
	}

	fresh, seen := Partition(events, known)
	report.Known = txHashes(seen)

	records, err := p.buildRecords(ctx, fresh)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		switch {
		case len(seen) > 0:
			logger.Info("no new events",
				zap.Int("fetched", report.Fetched),
				zap.Int("undecodable", report.Undecodable),
				zap.Int("known", len(seen)),
				zap.Strings("known_tx_hashes", report.Known),
			)
		case report.Undecodable > 0:
			logger.Warn("matching events observed but none decoded",
				zap.Int("undecodable", report.Undecodable),
				zap.Uint64("from", window.FromBlock),
				zap.Uint64("to", window.ToBlock),
			)
		default:
			logger.Info("nothing observed in window",
				zap.Uint64("from", window.FromBlock),
				zap.Uint64("to", window.ToBlock),
			)
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	p.setState(StatePersisting)

	if err := p.store.AppendRecords(ctx, records); err != nil {
		return fmt.Errorf("append records: %w", err)
	}
	report.New = records

	newHashes := make([]string, 0, len(records))
	for _, rec := range records {
		newHashes = append(newHashes, rec.TransactionHash)
	}
	logger.Info("new events recorded",
		zap.Int("fetched", report.Fetched),
		zap.Int("undecodable", report.Undecodable),
		zap.Int("count", len(records)),
		zap.Strings("tx_hashes", newHashes),
		zap.Int("known", len(seen)),
	)

	return nil
}

// buildRecords resolves block timestamps for events, one lookup per distinct
// block, and returns the records in the order of events.
func (p *Poller) buildRecords(ctx context.Context, events []model.RawEvent) ([]model.EventRecord, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var blocks []uint64
	slot := make(map[uint64]int, len(events))
	for _, ev := range events {
		if _, ok := slot[ev.BlockNumber]; ok {
			continue
		}
		slot[ev.BlockNumber] = len(blocks)
		blocks = append(blocks, ev.BlockNumber)
	}

	timestamps := make([]uint64, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.TimestampWorkers)
	for i, block := range blocks {
		g.Go(func() error {
			ts, err := p.source.BlockTimestamp(gctx, block)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", block, err)
			}
			timestamps[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, model.NewEventRecord(ev, timestamps[slot[ev.BlockNumber]]))
	}
	return records, nil
}

func (p *Poller) observe(report CycleReport, err error) {
	if p.metrics == nil {
		return
	}

	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "canceled"
	case err != nil:
		status = "failed"
	}
	p.metrics.CyclesTotal.WithLabelValues(status).Inc()
	p.metrics.CycleDuration.Observe(report.Duration.Seconds())
	p.metrics.RecordsAppended.Add(float64(len(report.New)))
	p.metrics.KnownEventsSeen.Add(float64(len(report.Known)))
	if report.Window.ToBlock > 0 {
		p.metrics.LastScannedBlock.Set(float64(report.Window.ToBlock))
	}
}
