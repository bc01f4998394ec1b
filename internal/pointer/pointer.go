package pointer

import "time"

func To[T any](v T) *T {
	return &v
}

// Value returns *p, or def when p is nil.
func Value[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// UnixMilli returns t in unix milliseconds, or nil for the zero time.
func UnixMilli(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	return To(t.UnixMilli())
}
