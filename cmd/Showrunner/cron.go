package main

import (
	"context"
	"time"

	"Showrunner/internal/biz"
	"Showrunner/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	// staleRecoveryAge is how long a recovery record may sit without an
	// armed timer before the sweep reclaims it.
	staleRecoveryAge = 2 * time.Hour
	// historyRetention is how long incident rows are kept.
	historyRetention = 30 * 24 * time.Hour
)

// newMaintenanceCron starts the periodic housekeeping: sweeping leaked
// recovery records hourly and trimming old incident history nightly.
// The cleanup stops the scheduler.
func newMaintenanceCron(engine *biz.RecoveryUseCase, history *data.IncidentHistoryRepo, logger log.Logger) (*cron.Cron, func()) {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	// Cron expression: sec min hour dom month dow
	_, err := c.AddFunc("0 0 * * * *", func() {
		if removed := engine.SweepStale(staleRecoveryAge); removed > 0 {
			helper.Infow("msg", "swept stale recovery records", "removed", removed)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register recovery sweep job", "error", err)
	}

	_, err = c.AddFunc("0 30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		removed, err := history.TrimBefore(ctx, time.Now().Add(-historyRetention))
		if err != nil {
			helper.Errorw("msg", "incident history trim failed", "error", err)
			return
		}
		if removed > 0 {
			helper.Infow("msg", "trimmed incident history", "rows", removed)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register history trim job", "error", err)
	}

	c.Start()
	helper.Info("maintenance cron started: hourly recovery sweep, nightly history trim")

	return c, func() {
		c.Stop()
	}
}
