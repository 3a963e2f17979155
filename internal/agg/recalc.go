package agg

import (
	"context"
	"time"

	"github.com/lumenlog/activityd/internal/metrics"
	"github.com/lumenlog/activityd/internal/storage"
	"github.com/rs/zerolog"
)

// Recalculator rebuilds the per-classification and per-application totals for
// the current calendar day. It is a full rescan, not an incremental update:
// correctness over efficiency, and it self-heals from any prior inconsistency.
type Recalculator struct {
	sessions storage.SessionStore
	totals   storage.TotalsStore
	clock    Clock
	logger   zerolog.Logger
}

// NewRecalculator creates a new totals recalculator
func NewRecalculator(sessions storage.SessionStore, totals storage.TotalsStore, clock Clock, logger zerolog.Logger) *Recalculator {
	if clock == nil {
		clock = RealClock{}
	}
	return &Recalculator{
		sessions: sessions,
		totals:   totals,
		clock:    clock,
		logger:   logger.With().Str("component", "recalculator").Logger(),
	}
}

// Rebuild clears all totals and re-accumulates them from every session whose
// end falls on today's local date. Totals are integer seconds, truncated.
func (rc *Recalculator) Rebuild(ctx context.Context) error {
	started := time.Now()

	ids, err := rc.sessions.Known(ctx)
	if err != nil {
		return err
	}
	metrics.KnownSessions.Set(float64(len(ids)))

	if err := rc.totals.Reset(ctx); err != nil {
		return err
	}

	sessions, err := rc.sessions.GetMany(ctx, ids)
	if err != nil {
		return err
	}

	now := rc.clock.Now()
	counted := 0
	for _, session := range sessions {
		if session.Open() || !sameLocalDay(*session.End, now) {
			continue
		}

		if err := rc.totals.AddClassification(ctx, session.Classification, session.Duration); err != nil {
			return err
		}
		for _, app := range session.Apps {
			if err := rc.totals.AddApp(ctx, app.Name, app.Duration); err != nil {
				return err
			}
		}
		counted++
	}

	metrics.RebuildDuration.Observe(time.Since(started).Seconds())
	rc.logger.Debug().
		Int("sessions", len(sessions)).
		Int("counted_today", counted).
		Msg("Rebuilt daily totals")

	return nil
}
