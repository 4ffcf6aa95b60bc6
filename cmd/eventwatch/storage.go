package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"eventWatch/internal/store"
	"eventWatch/internal/store/postgres"
	"eventWatch/internal/store/redis"
)

type recordStore interface {
	store.Store
	store.Reader
}

type storeKind int

const (
	storeFile storeKind = iota
	storePostgres
	storeRedis
)

func storeKindOf(location string) storeKind {
	lower := strings.ToLower(location)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return storePostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return storeRedis
	default:
		return storeFile
	}
}

// openStore picks the backend from the location scheme. Plain paths are JSONL files.
func openStore(ctx context.Context, location, redisPrefix string, logger *zap.Logger) (recordStore, error) {
	switch storeKindOf(location) {
	case storePostgres:
		st, err := postgres.NewStore(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("open postgres store %s: %w", redactDSN(location), err)
		}
		return st, nil
	case storeRedis:
		st, err := redis.NewStore(ctx, location, redisPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store %s: %w", redactDSN(location), err)
		}
		return st, nil
	default:
		return store.NewFileStore(location, logger), nil
	}
}

// redactDSN hides the password in URL-style locations.
func redactDSN(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	return u.Redacted()
}
