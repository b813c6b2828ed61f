package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/timeline"
)

// WatchInterval is the effective refresh interval: the tuned interval
// scaled by the backoff factor, stretched further by consecutive refresh
// errors, and never below MinWatchInterval.
func WatchInterval(base time.Duration, a breaker.Assessment, errorCount int) time.Duration {
	factor := a.BackoffFactor
	if factor < breaker.MinBackoff {
		factor = breaker.MinBackoff
	}
	if errorCount > 0 {
		factor = min(breaker.MaxBackoff, factor*float64(1+errorCount))
	}
	d := time.Duration(float64(base) * factor)
	return max(MinWatchInterval, d)
}

// Watch refreshes until ctx is cancelled, sleeping WatchInterval between
// passes. Tuning changes apply from the next pass. It returns ctx.Err().
func (o *Orchestrator) Watch(ctx context.Context, tick func(context.Context)) error {
	log := o.log.With("loop", "watch")
	for {
		if err := o.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("refresh failed", "error", err)
		}
		if tick != nil {
			tick(ctx)
		}

		o.mu.Lock()
		d := WatchInterval(o.tuning.RefreshInterval, o.assessment, o.errorCount)
		o.mu.Unlock()
		if err := o.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Replay plays the recorded timeline onto the bus at speed. Cancelling
// ctx stops playback after the current event.
func (o *Orchestrator) Replay(ctx context.Context, speed float64) error {
	evs := o.Timeline.Events()
	o.note("replay: %d events at %.1fx", len(evs), speed)
	return timeline.Replay(ctx, evs, speed, func(ev timeline.Event) {
		o.bus.PublishSync(events.Event{
			Timestamp: ev.TS,
			Type:      events.TypeTimeline,
			Route:     ev.Route,
			Target:    ev.Target,
			Message:   ev.Prompt,
			Data:      map[string]any{"kind": string(ev.Kind), "summary": ev.Summary},
		})
	})
}
