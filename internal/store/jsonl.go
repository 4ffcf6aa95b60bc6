package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"eventWatch/internal/model"
)

// journalLine is one line of the JSONL journal: either a record of batch
// Batch, or the commit marker closing that batch.
type journalLine struct {
	Batch  uint64             `json:"batch"`
	Record *model.EventRecord `json:"record,omitempty"`
	Commit bool               `json:"commit,omitempty"`
	Count  int                `json:"count,omitempty"`
}

// FileStore keeps records in an append-only JSONL journal.
//
// A batch is visible only once its commit line is on disk. Complete record
// lines of the next batch after the last commit, plus an unterminated final
// line, are leftovers of an interrupted append and are discarded. Anything
// else that does not parse is ErrCorrupt.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex

	// wrapWriter lets tests inject write faults.
	wrapWriter func(io.Writer) io.Writer
}

var (
	_ Store  = (*FileStore)(nil)
	_ Reader = (*FileStore)(nil)
)

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// LoadKnownHashes implements Store.
func (s *FileStore) LoadKnownHashes(ctx context.Context) (HashSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(HashSet)
	if _, err := s.scan(func(rec model.EventRecord) { known.Add(rec.TransactionHash) }); err != nil {
		return nil, err
	}
	return known, nil
}

// Records implements Reader.
func (s *FileStore) Records(ctx context.Context) ([]model.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []model.EventRecord
	if _, err := s.scan(func(rec model.EventRecord) { records = append(records, rec) }); err != nil {
		return nil, err
	}
	return records, nil
}

// AppendRecords implements Store.
func (s *FileStore) AppendRecords(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.scan(nil)
	if err != nil {
		return err
	}

	batch := state.lastBatch + 1
	buf, err := encodeBatch(batch, records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create output dir: %w", ErrWrite, err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open journal: %w", ErrWrite, err)
	}
	defer file.Close()

	if state.size > state.committed {
		s.logger.Warn("discard uncommitted journal tail",
			zap.String("path", s.path),
			zap.Int64("committed", state.committed),
			zap.Int64("size", state.size),
		)
	}
	if err := file.Truncate(state.committed); err != nil {
		return fmt.Errorf("%w: truncate journal: %w", ErrWrite, err)
	}
	if _, err := file.Seek(state.committed, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek journal: %w", ErrWrite, err)
	}

	var w io.Writer = file
	if s.wrapWriter != nil {
		w = s.wrapWriter(w)
	}

	if _, err := w.Write(buf); err != nil {
		return s.rollback(file, state.committed, fmt.Errorf("write batch: %w", err))
	}
	if err := file.Sync(); err != nil {
		return s.rollback(file, state.committed, fmt.Errorf("sync journal: %w", err))
	}

	return nil
}

func (s *FileStore) rollback(file *os.File, committed int64, cause error) error {
	if err := file.Truncate(committed); err != nil {
		s.logger.Error("journal rollback failed", zap.String("path", s.path), zap.Error(err))
	} else {
		_ = file.Sync()
	}
	return fmt.Errorf("%w: %w", ErrWrite, cause)
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func encodeBatch(batch uint64, records []model.EventRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if records[i].TransactionHash == "" {
			return nil, fmt.Errorf("record %d has no transaction hash", i)
		}
		if err := enc.Encode(journalLine{Batch: batch, Record: &records[i]}); err != nil {
			return nil, fmt.Errorf("marshal record %s: %w", records[i].TransactionHash, err)
		}
	}
	if err := enc.Encode(journalLine{Batch: batch, Commit: true, Count: len(records)}); err != nil {
		return nil, fmt.Errorf("marshal commit: %w", err)
	}
	return buf.Bytes(), nil
}

type journalState struct {
	committed int64
	size      int64
	lastBatch uint64
}

// scan replays committed batches to fn and reports where the committed part of the journal ends.
func (s *FileStore) scan(fn func(model.EventRecord)) (journalState, error) {
	var state journalState

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, fmt.Errorf("%w: open journal: %w", ErrCorrupt, err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)

	var (
		offset  int64
		lineNo  int
		pending []model.EventRecord
	)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return state, fmt.Errorf("%w: read journal: %w", ErrCorrupt, err)
		}
		if errors.Is(err, io.EOF) {
			// Only the final, unterminated line can be torn by a crash.
			state.size = offset + int64(len(line))
			break
		}
		offset += int64(len(line))
		lineNo++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		var entry journalLine
		if err := json.Unmarshal(trimmed, &entry); err != nil {
			return state, fmt.Errorf("%w: %s line %d: malformed entry: %w", ErrCorrupt, s.path, lineNo, err)
		}

		switch {
		case entry.Commit:
			if entry.Batch != state.lastBatch+1 {
				return state, fmt.Errorf("%w: %s line %d: batch %d out of order", ErrCorrupt, s.path, lineNo, entry.Batch)
			}
			if entry.Count != len(pending) {
				return state, fmt.Errorf("%w: %s line %d: batch %d has %d records, commit says %d",
					ErrCorrupt, s.path, lineNo, entry.Batch, len(pending), entry.Count)
			}
			if fn != nil {
				for _, rec := range pending {
					fn(rec)
				}
			}
			pending = pending[:0]
			state.lastBatch = entry.Batch
			state.committed = offset
		case entry.Record != nil:
			if entry.Batch != state.lastBatch+1 {
				return state, fmt.Errorf("%w: %s line %d: record of batch %d, expected %d",
					ErrCorrupt, s.path, lineNo, entry.Batch, state.lastBatch+1)
			}
			pending = append(pending, *entry.Record)
		default:
			return state, fmt.Errorf("%w: %s line %d: entry is neither record nor commit", ErrCorrupt, s.path, lineNo)
		}
	}

	return state, nil
}
