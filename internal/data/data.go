// Package data provides the outward-facing half of the resilience core:
// HTTP proxies for the monitored services, the Redis-backed event dedupe,
// the MySQL incident history and the webhook notifier.
package data

import (
	"Showrunner/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewEventDedupe,
	NewIncidentHistoryRepo,
	NewProxySet,
	NewWebhookNotifier,
)

// Data bundles the shared connections. Both are optional: a missing Redis
// degrades dedupe to in-process, a missing MySQL disables incident history.
type Data struct {
	redisClient *redis.Client
	db          *gorm.DB
}

// NewData creates the Data bundle. Connection failures were already handled
// by the individual clients; this only reports what the process ended up with.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis unavailable, event dedupe falls back to in-process cache")
	}
	if db == nil {
		helper.Warn("MySQL unavailable, incident history is disabled")
	}

	d := &Data{redisClient: rdb, db: db}
	cleanup := func() {
		helper.Info("closing the data resources")
	}
	return d, cleanup, nil
}

// GetRedisClient returns the Redis client, nil when Redis is unavailable.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the GORM handle, nil when MySQL is unavailable.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
