package export

import (
	"context"
	"time"
)

// pacer keeps at least gap between the end of one download and the start of
// the next. It reads the monotonic clock, never the injected Clock.
type pacer struct {
	gap  time.Duration
	last time.Time
}

// wait blocks until gap has passed since the last mark.
func (p *pacer) wait(ctx context.Context) error {
	if p.last.IsZero() {
		return ctx.Err()
	}
	for {
		d := time.Until(p.last.Add(p.gap))
		if d <= 0 {
			return ctx.Err()
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// mark anchors the next gap at now.
func (p *pacer) mark() { p.last = time.Now() }
