package redis

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"eventWatch/internal/model"
	"eventWatch/internal/store"
)

// DefaultPrefix namespaces the keys written by Store.
const DefaultPrefix = "eventwatch"

// Store keeps records in a Redis hash (hash -> JSON record) plus a list holding append order.
type Store struct {
	conn   *redis.Client
	prefix string
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

// NewStore connects to the redis:// or rediss:// url and verifies the connection.
func NewStore(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{conn: conn, prefix: prefix}, nil
}

// recordsKey is "<prefix>:records".
func (s *Store) recordsKey() string {
	return s.prefix + ":records"
}

// orderKey is "<prefix>:order".
func (s *Store) orderKey() string {
	return s.prefix + ":order"
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.conn.Close()
}

// LoadKnownHashes implements store.Store.
func (s *Store) LoadKnownHashes(ctx context.Context) (store.HashSet, error) {
	hashes, err := s.conn.HKeys(ctx, s.recordsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}
	return store.NewHashSet(hashes...), nil
}

// appendScript inserts each hash/record pair that is not stored yet and
// queues it on the order list. Existing records are left untouched.
var appendScript = redis.NewScript(`
local added = 0
for i = 1, #ARGV, 2 do
	if redis.call("HSETNX", KEYS[1], ARGV[i], ARGV[i + 1]) == 1 then
		redis.call("RPUSH", KEYS[2], ARGV[i])
		added = added + 1
	end
end
return added
`)

// AppendRecords implements store.Store. The batch runs as one Lua script, so it
// is applied atomically, and records whose hash is already stored are skipped.
func (s *Store) AppendRecords(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(records)*2)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: marshal record %s: %w", store.ErrWrite, rec.TransactionHash, err)
		}
		args = append(args, rec.TransactionHash, data)
	}

	keys := []string{s.recordsKey(), s.orderKey()}
	if err := appendScript.Run(ctx, s.conn, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	return nil
}

// Records implements store.Reader.
func (s *Store) Records(ctx context.Context) ([]model.EventRecord, error) {
	order, err := s.conn.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if len(order) == 0 {
		return nil, nil
	}

	raw, err := s.conn.HMGet(ctx, s.recordsKey(), order...).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	seen := make(store.HashSet, len(order))
	records := make([]model.EventRecord, 0, len(order))
	for i, hash := range order {
		if seen.Has(hash) {
			continue
		}
		seen.Add(hash)

		data, ok := raw[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: record %s listed but missing", store.ErrCorrupt, hash)
		}
		var rec model.EventRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("%w: record %s: %w", store.ErrCorrupt, hash, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
