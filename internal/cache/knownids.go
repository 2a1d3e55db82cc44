package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/repository"
)

const keyLogID = "certharvest:logid:%d"

type certStore interface {
	ExistsLogID(ctx context.Context, logID int64) (bool, error)
	Insert(ctx context.Context, p model.Partition, cert *model.Certificate) error
}

// KnownIDs puts a Redis cache of stored log IDs in front of the certificate
// store. Only positive answers are cached. Redis failures fall through to the
// store.
type KnownIDs struct {
	rdb  *redis.Client
	next certStore
	ttl  time.Duration
	log  *zap.Logger
}

func NewKnownIDs(rdb *redis.Client, next certStore, ttl time.Duration, log *zap.Logger) *KnownIDs {
	return &KnownIDs{rdb: rdb, next: next, ttl: ttl, log: log}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (k *KnownIDs) ExistsLogID(ctx context.Context, logID int64) (bool, error) {
	key := fmt.Sprintf(keyLogID, logID)
	if err := k.rdb.Get(ctx, key).Err(); err == nil {
		return true, nil
	} else if !errors.Is(err, redis.Nil) {
		k.log.Warn("failed to query log id cache", zap.Int64("log_id", logID), zap.Error(err))
	}

	exists, err := k.next.ExistsLogID(ctx, logID)
	if err != nil {
		return false, err
	}
	if exists {
		k.mark(ctx, logID)
	}
	return exists, nil
}

func (k *KnownIDs) Insert(ctx context.Context, p model.Partition, cert *model.Certificate) error {
	err := k.next.Insert(ctx, p, cert)
	if err == nil || errors.Is(err, repository.ErrAlreadyExists) {
		k.mark(ctx, cert.LogID)
	}
	return err
}

func (k *KnownIDs) mark(ctx context.Context, logID int64) {
	if err := k.rdb.Set(ctx, fmt.Sprintf(keyLogID, logID), 1, k.ttl).Err(); err != nil {
		k.log.Warn("failed to cache log id", zap.Int64("log_id", logID), zap.Error(err))
	}
}
