package agg

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumenlog/activityd/internal/metrics"
	"github.com/lumenlog/activityd/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingID marks an event without a lineage id. Non-fatal: the
	// consumer logs it and moves on.
	ErrMissingID = errors.New("agg: event has no id")

	// ErrNoOpenSession marks a close event with nothing to close. Non-fatal.
	ErrNoOpenSession = errors.New("agg: close event for unknown session")
)

// IsValidation reports whether err is a non-fatal per-event validation error,
// as opposed to a store failure that must abort the cycle.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingID) || errors.Is(err, ErrNoOpenSession)
}

// Reconstructor applies one event at a time to the session model: it decides
// whether the event opens, continues, or closes a session and keeps the
// derived duration fields consistent with the authoritative timestamps.
type Reconstructor struct {
	sessions    storage.SessionStore
	checkpoints storage.CheckpointStore
	logger      zerolog.Logger
}

// NewReconstructor creates a new session reconstructor
func NewReconstructor(sessions storage.SessionStore, checkpoints storage.CheckpointStore, logger zerolog.Logger) *Reconstructor {
	return &Reconstructor{
		sessions:    sessions,
		checkpoints: checkpoints,
		logger:      logger.With().Str("component", "reconstructor").Logger(),
	}
}

// Apply processes a single event and returns the id of the session document
// it touched. Any returned error other than a validation error is a store
// failure; the caller must not acknowledge the event in that case.
func (r *Reconstructor) Apply(ctx context.Context, ev storage.ActivityEvent) (string, error) {
	if ev.ID == "" {
		return "", ErrMissingID
	}

	if err := r.sessions.Register(ctx, ev.ID); err != nil {
		return "", fmt.Errorf("failed to register lineage %s: %w", ev.ID, err)
	}

	working, err := r.sessions.Get(ctx, ev.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First time this lineage id is seen: the prior session continues
		// under its own id when the classification matches, merging
		// back-to-back periods of identical activity.
		working, err = r.continuation(ctx, ev)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}

	id := ev.ID
	if working != nil {
		id = working.ID
	}

	if ev.State {
		if err := r.open(ctx, id, working, ev); err != nil {
			return "", err
		}
	} else {
		if working == nil {
			// Nothing to close; drop the event.
			return "", ErrNoOpenSession
		}
		if err := r.close(ctx, id, working, ev); err != nil {
			return "", err
		}
	}

	// Recompute every derived duration from the stored timestamps. This step
	// is idempotent: replaying the same event yields the same numbers.
	if err := r.recomputeDurations(ctx, id, ev.Timestamp); err != nil {
		return "", err
	}

	return id, nil
}

// continuation decides whether a fresh lineage extends the previous session.
// Returns the adopted working document, or nil to start from scratch.
func (r *Reconstructor) continuation(ctx context.Context, ev storage.ActivityEvent) (*storage.Session, error) {
	cp, err := r.checkpoints.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cp.LastLineage == "" || cp.LastLineage == ev.ID {
		return nil, nil
	}

	prior, err := r.sessions.Get(ctx, cp.LastLineage)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if prior.Classification != ev.Classification {
		return nil, nil
	}

	metrics.SessionMerges.Inc()
	r.logger.Debug().
		Str("lineage", ev.ID).
		Str("session_id", prior.ID).
		Str("classification", ev.Classification).
		Msg("Merging lineage into prior session")

	return prior, nil
}

// open upserts the session document and appends a fresh interval for the
// newly focused application.
func (r *Reconstructor) open(ctx context.Context, id string, working *storage.Session, ev storage.ActivityEvent) error {
	doc := storage.Session{
		ID:             id,
		Start:          ev.Timestamp,
		Classification: ev.Classification,
	}
	if working != nil {
		// Preserve the original start and app history across continuations.
		doc.Start = working.Start
		doc.Apps = working.Apps
	}

	if err := r.sessions.Put(ctx, doc); err != nil {
		return err
	}

	return r.sessions.AppendInterval(ctx, id, storage.AppInterval{
		Name:       ev.AppName,
		Title:      ev.WinTitle,
		Start:      ev.Timestamp,
		Screenshot: ev.Screenshot,
		Icon:       ev.Icon,
	})
}

// close ends the session and every interval still open inside it.
func (r *Reconstructor) close(ctx context.Context, id string, working *storage.Session, ev storage.ActivityEvent) error {
	if err := r.sessions.SetEnd(ctx, id, ev.Timestamp); err != nil {
		return err
	}

	for i, app := range working.Apps {
		if app.End != nil {
			continue
		}
		if err := r.sessions.CloseInterval(ctx, id, i, ev.Timestamp); err != nil {
			return err
		}
	}

	r.logger.Debug().
		Str("session_id", id).
		Float64("end", ev.Timestamp).
		Msg("Closed session")

	return nil
}

// recomputeDurations re-reads the document and rewrites the session duration
// and every interval duration from the timestamps. Durations are derived,
// never incremented.
func (r *Reconstructor) recomputeDurations(ctx context.Context, id string, now float64) error {
	doc, err := r.sessions.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.sessions.SetDuration(ctx, id, int64(now-doc.Start)); err != nil {
		return err
	}

	for i, app := range doc.Apps {
		end := now
		if app.End != nil {
			end = *app.End
		}
		duration := end - app.Start
		if duration < 0 {
			duration = 0
		}
		if err := r.sessions.SetIntervalDuration(ctx, id, i, int64(duration)); err != nil {
			return err
		}
	}

	return nil
}
