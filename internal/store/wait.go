package store

import (
	"context"
	"time"
)

const (
	DefaultAttempts = 20
	DefaultInterval = 300 * time.Millisecond
)

// Wait is the polling schedule of GetUntilAvailable.
type Wait struct {
	Attempts int
	Interval time.Duration
}

func (w Wait) withDefaults() Wait {
	if w.Attempts <= 0 {
		w.Attempts = DefaultAttempts
	}
	if w.Interval <= 0 {
		w.Interval = DefaultInterval
	}
	return w
}

// WaitOption adjusts the schedule of a single GetUntilAvailable call.
type WaitOption func(*Wait)

func Attempts(n int) WaitOption {
	return func(w *Wait) { w.Attempts = n }
}

func Interval(d time.Duration) WaitOption {
	return func(w *Wait) { w.Interval = d }
}

// Getter is anything values can be read from by account and key.
type Getter interface {
	Get(ctx context.Context, account, key string) (string, bool, error)
}

// Poll reads from g up to w.Attempts times, w.Interval apart, and returns
// the first value found. ok is false when every attempt came back empty.
func Poll(ctx context.Context, g Getter, account, key string, w Wait) (string, bool, error) {
	w = w.withDefaults()

	var timer *time.Timer
	for attempt := 1; ; attempt++ {
		v, ok, err := g.Get(ctx, account, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
		if attempt >= w.Attempts {
			return "", false, nil
		}

		if timer == nil {
			timer = time.NewTimer(w.Interval)
			defer timer.Stop()
		} else {
			timer.Reset(w.Interval)
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
		}
	}
}
