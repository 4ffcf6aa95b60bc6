package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/ccoveille/go-safecast"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventWatch/internal/model"
	"eventWatch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps event records in the event_records table.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

// NewStore connects to dsn and applies the embedded schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

// LoadKnownHashes implements store.Store.
func (s *Store) LoadKnownHashes(ctx context.Context) (store.HashSet, error) {
	rows, err := s.pool.Query(ctx, `SELECT transaction_hash FROM event_records`)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	known := make(store.HashSet)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("%w: scan hash: %w", store.ErrCorrupt, err)
		}
		known.Add(hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hashes: %w", err)
	}
	return known, nil
}

// AppendRecords implements store.Store. The batch is inserted in one transaction.
func (s *Store) AppendRecords(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		blockNumber, err := safecast.ToInt64(rec.BlockNumber)
		if err != nil {
			return fmt.Errorf("%w: block number %d: %w", store.ErrWrite, rec.BlockNumber, err)
		}
		timestamp, err := safecast.ToInt64(rec.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: timestamp %d: %w", store.ErrWrite, rec.Timestamp, err)
		}
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload %s: %w", store.ErrWrite, rec.TransactionHash, err)
		}

		batch.Queue(`
			INSERT INTO event_records (
				transaction_hash, block_number, block_timestamp, event_name, payload
			) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (transaction_hash) DO NOTHING
		`,
			rec.TransactionHash,
			blockNumber,
			timestamp,
			rec.Event,
			payload,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", store.ErrWrite, err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: insert record: %w", store.ErrWrite, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: close batch: %w", store.ErrWrite, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", store.ErrWrite, err)
	}
	return nil
}

// Records implements store.Reader.
func (s *Store) Records(ctx context.Context) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transaction_hash, block_number, block_timestamp, event_name, payload
		FROM event_records
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.EventRecord
	for rows.Next() {
		var (
			rec         model.EventRecord
			blockNumber int64
			timestamp   int64
			payload     []byte
		)
		if err := rows.Scan(&rec.TransactionHash, &blockNumber, &timestamp, &rec.Event, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan record: %w", store.ErrCorrupt, err)
		}
		if rec.BlockNumber, err = safecast.ToUint64(blockNumber); err != nil {
			return nil, fmt.Errorf("%w: record %s block number: %w", store.ErrCorrupt, rec.TransactionHash, err)
		}
		if rec.Timestamp, err = safecast.ToUint64(timestamp); err != nil {
			return nil, fmt.Errorf("%w: record %s timestamp: %w", store.ErrCorrupt, rec.TransactionHash, err)
		}
		if rec.Payload, err = model.DecodePayload(rec.Event, payload); err != nil {
			return nil, fmt.Errorf("%w: record %s: %w", store.ErrCorrupt, rec.TransactionHash, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
