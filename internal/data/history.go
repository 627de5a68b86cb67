package data

import (
	"context"
	"fmt"
	"time"

	"Showrunner/internal/model"
	"Showrunner/pkg/bus"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// IncidentRecord is one persisted incident event: a health flip, a breaker
// transition or a recovery outcome.
type IncidentRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	EventID       string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Topic         string    `gorm:"type:varchar(64);index;not null"`
	Service       string    `gorm:"type:varchar(128);index"`
	CorrelationID string    `gorm:"type:varchar(64);index"`
	Detail        string    `gorm:"type:varchar(512)"`
	OccurredAt    time.Time `gorm:"index;not null"`
	CreatedAt     time.Time
}

// TableName sets the table name for GORM.
func (IncidentRecord) TableName() string {
	return "incident_history"
}

// IncidentHistoryRepo subscribes to the incident-relevant topics and appends
// a row per event. It is a pure observer: losing it (nil database) changes
// nothing about monitoring or recovery.
type IncidentHistoryRepo struct {
	db     *gorm.DB
	dedupe *EventDedupe
	b      *bus.Bus
	helper *log.Helper
	subs   []*bus.Subscription
}

// NewIncidentHistoryRepo creates the repo and, when a database is present,
// subscribes it to the bus. The cleanup removes the subscriptions.
func NewIncidentHistoryRepo(d *Data, dedupe *EventDedupe, b *bus.Bus, logger log.Logger) (*IncidentHistoryRepo, func(), error) {
	db := d.GetDB()
	repo := &IncidentHistoryRepo{
		db:     db,
		dedupe: dedupe,
		b:      b,
		helper: log.NewHelper(logger),
	}
	if db == nil {
		return repo, func() {}, nil
	}

	if err := db.AutoMigrate(&IncidentRecord{}); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate incident_history: %w", err)
	}

	for _, topic := range []string{
		model.TopicHealthChanged,
		model.TopicCircuitStateChanged,
		model.TopicRecoverySucceeded,
		model.TopicRecoveryExhausted,
	} {
		repo.subs = append(repo.subs, b.Subscribe(topic, repo.record))
	}

	cleanup := func() {
		for _, sub := range repo.subs {
			b.Unsubscribe(sub)
		}
	}
	return repo, cleanup, nil
}

// Enabled reports whether history rows are being written.
func (r *IncidentHistoryRepo) Enabled() bool {
	return r.db != nil
}

func (r *IncidentHistoryRepo) record(evt model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// At-least-once delivery: the same event id may arrive twice.
	if r.dedupe.Seen(ctx, evt.ID) {
		return
	}

	service, detail := describeIncident(evt)
	rec := &IncidentRecord{
		EventID:       evt.ID,
		Topic:         evt.Topic,
		Service:       service,
		CorrelationID: evt.CorrelationID,
		Detail:        detail,
		OccurredAt:    evt.OccurredAt,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		r.helper.Warnf("failed to persist incident event %s: %v", evt.ID, err)
	}
}

// describeIncident flattens a payload into the service column and a short
// human-readable detail line.
func describeIncident(evt model.Event) (service, detail string) {
	switch p := evt.Payload.(type) {
	case *model.HealthChange:
		return p.Service, fmt.Sprintf("healthy %t -> %t (class=%s)", p.Before, p.After, p.Class)
	case *model.CircuitTransition:
		return p.Service, fmt.Sprintf("circuit %s -> %s", p.From, p.To)
	case *model.RecoveryOutcome:
		return p.Service, fmt.Sprintf("item %s %s after %d attempts: %s",
			p.ItemID, p.Outcome, p.Attempts, p.Reason)
	default:
		return "", fmt.Sprintf("%v", evt.Payload)
	}
}

// Recent returns the newest records, newest first.
func (r *IncidentHistoryRepo) Recent(ctx context.Context, limit int) ([]*IncidentRecord, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*IncidentRecord
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TrimBefore deletes records older than the cutoff and returns how many rows
// went away. Used by the maintenance cron.
func (r *IncidentHistoryRepo) TrimBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Delete(&IncidentRecord{})
	return res.RowsAffected, res.Error
}
