package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "showrunner:event:seen:"
	dedupeTTL       = 24 * time.Hour
	dedupeCacheSize = 4096
)

// EventDedupe tracks which event ids a consumer already processed, so a
// redelivered event (the bus is at-least-once) does not produce a duplicate
// history row or webhook. Redis SETNX gives cross-restart dedupe; when Redis
// is down an in-process LRU takes over.
type EventDedupe struct {
	rdb      *redis.Client
	fallback *lru.Cache[string, struct{}]
	helper   *log.Helper
}

// NewEventDedupe creates the dedupe tracker. Redis may be absent.
func NewEventDedupe(d *Data, logger log.Logger) (*EventDedupe, error) {
	cache, err := lru.New[string, struct{}](dedupeCacheSize)
	if err != nil {
		return nil, err
	}
	return &EventDedupe{
		rdb:      d.GetRedisClient(),
		fallback: cache,
		helper:   log.NewHelper(logger),
	}, nil
}

// Seen marks the event id as processed and reports whether it had been seen
// before. Marking and checking are one atomic step so two consumers racing
// on the same id agree on the winner.
func (d *EventDedupe) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	if d.rdb != nil {
		fresh, err := d.rdb.SetNX(ctx, dedupeKeyPrefix+eventID, "1", dedupeTTL).Result()
		if err == nil {
			return !fresh
		}
		d.helper.Warnf("dedupe check degraded to in-process cache: %v", err)
	}

	if _, dup := d.fallback.Get(eventID); dup {
		return true
	}
	d.fallback.Add(eventID, struct{}{})
	return false
}
