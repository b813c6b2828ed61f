package timeline

import (
	"context"
	"time"
)

// MaxReplayGap caps the wait between two replayed events.
const MaxReplayGap = 5 * time.Second

// Replay emits events in timestamp order, waiting the original gap
// divided by speed between them (capped at MaxReplayGap). It returns
// ctx.Err() when cancelled; the event being emitted always completes.
func Replay(ctx context.Context, events []Event, speed float64, emit func(Event)) error {
	if speed <= 0 {
		speed = 1
	}
	sorted := Sorted(events)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i, e := range sorted {
		if i > 0 {
			gap := time.Duration(float64(e.TS.Sub(sorted[i-1].TS)) / speed)
			if gap > MaxReplayGap {
				gap = MaxReplayGap
			}
			if gap > 0 {
				timer.Reset(gap)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(e)
	}
	return nil
}
