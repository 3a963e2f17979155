package agg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lumenlog/activityd/internal/metrics"
	"github.com/lumenlog/activityd/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the sleep after a cycle that processed events
	DefaultPollInterval = 5 * time.Second

	// DefaultIdleInterval is the sleep after an empty read
	DefaultIdleInterval = 15 * time.Second

	// DefaultRetryInterval is the backoff after a store failure
	DefaultRetryInterval = 10 * time.Second
)

// Config holds consumer configuration
type Config struct {
	PollInterval    time.Duration
	IdleInterval    time.Duration
	RetryInterval   time.Duration
	BatchCount      int64
	ReplayCacheSize int
}

// Consumer is the single-threaded processing loop: poll the log, apply each
// event in order, advance the checkpoint per event, rebuild totals, sleep.
// Exactly one instance may run against a given log; two would race on the
// checkpoint and double-apply events.
type Consumer struct {
	log         storage.EventLog
	checkpoints storage.CheckpointStore
	rec         *Reconstructor
	recalc      *Recalculator
	cfg         Config
	seen        *lru.Cache[string, struct{}]
	logger      zerolog.Logger
}

// NewConsumer creates a new log consumer
func NewConsumer(store storage.Store, rec *Reconstructor, recalc *Recalculator, cfg Config, logger zerolog.Logger) *Consumer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.BatchCount == 0 {
		cfg.BatchCount = 100
	}

	c := &Consumer{
		log:         store.Events(),
		checkpoints: store.Checkpoints(),
		rec:         rec,
		recalc:      recalc,
		cfg:         cfg,
		logger:      logger.With().Str("component", "consumer").Logger(),
	}

	// Purely observational: flags redelivered entries in the logs. The
	// engine is idempotent on durations, so correctness never depends on it.
	if cfg.ReplayCacheSize > 0 {
		c.seen, _ = lru.New[string, struct{}](cfg.ReplayCacheSize)
	}

	return c
}

// Run drives the poll loop until ctx is cancelled. Store failures are logged
// and retried with backoff; the checkpoint is never advanced past a failed
// event. Cancellation is honored between events, never mid-mutation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("Consumer started")

	for {
		processed, err := c.runCycle(ctx)
		if ctx.Err() != nil {
			c.logger.Info().Msg("Consumer stopped")
			return ctx.Err()
		}

		switch {
		case err != nil:
			metrics.CycleFailures.Inc()
			c.logger.Error().Err(err).Int("applied", processed).Msg("Cycle failed, backing off")
			if !c.sleep(ctx, c.cfg.RetryInterval) {
				return ctx.Err()
			}

		case processed > 0:
			if err := c.recalc.Rebuild(ctx); err != nil {
				metrics.CycleFailures.Inc()
				c.logger.Error().Err(err).Msg("Totals rebuild failed")
				if !c.sleep(ctx, c.cfg.RetryInterval) {
					return ctx.Err()
				}
				continue
			}
			if !c.sleep(ctx, c.cfg.PollInterval) {
				return ctx.Err()
			}

		default:
			if !c.sleep(ctx, c.cfg.IdleInterval) {
				return ctx.Err()
			}
		}
	}
}

// runCycle fetches events after the checkpoint and applies them one at a
// time, acknowledging each durably applied event before touching the next.
func (c *Consumer) runCycle(ctx context.Context) (int, error) {
	cp, err := c.checkpoints.Get(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := c.log.ReadAfter(ctx, cp.Cursor, c.cfg.BatchCount)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, entry := range entries {
		// Finish the in-flight event before honoring cancellation.
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		lineage, err := c.apply(ctx, entry)
		if err != nil {
			return applied, err
		}

		if err := c.checkpoints.Advance(ctx, entry.ID, lineage); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}

// apply decodes and applies one log entry. Validation failures are absorbed
// here (the entry still gets acknowledged); store failures propagate.
func (c *Consumer) apply(ctx context.Context, entry storage.LogEntry) (string, error) {
	if c.seen != nil {
		if _, dup := c.seen.Get(entry.ID); dup {
			metrics.EventRedeliveries.Inc()
			c.logger.Debug().Str("entry_id", entry.ID).Msg("Entry redelivered")
		} else {
			c.seen.Add(entry.ID, struct{}{})
		}
	}

	var ev storage.ActivityEvent
	if err := json.Unmarshal([]byte(entry.Data), &ev); err != nil {
		metrics.EventsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		c.logger.Warn().Str("entry_id", entry.ID).Err(err).Msg("Dropping malformed event")
		return "", nil
	}

	lineage, err := c.rec.Apply(ctx, ev)
	switch {
	case err == nil:
		metrics.EventsTotal.WithLabelValues(metrics.ResultApplied).Inc()
		return lineage, nil

	case IsValidation(err):
		result := metrics.ResultInvalid
		if errors.Is(err, ErrNoOpenSession) {
			result = metrics.ResultOrphanClose
		}
		metrics.EventsTotal.WithLabelValues(result).Inc()
		c.logger.Warn().
			Str("entry_id", entry.ID).
			Str("event_id", ev.ID).
			Err(err).
			Msg("Dropping invalid event")
		return "", nil

	default:
		return "", err
	}
}

// sleep waits for d or cancellation, reporting false when cancelled.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
