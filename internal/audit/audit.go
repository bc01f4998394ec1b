// Package audit records which secret operations were performed, by whom and
// with what outcome. Secret values are never part of an event.
package audit

import (
	"context"
	"time"
)

// Outcomes of an operation.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeStored  = "stored"
	OutcomeRemoved = "removed"
	OutcomeCleared = "cleared"
	OutcomeError   = "error"
)

// Event describes one relayed operation.
type Event struct {
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id"`
	Caller    string    `json:"caller"`
	Op        string    `json:"op"`
	Account   string    `json:"account,omitempty"`
	Key       string    `json:"key,omitempty"`
	Outcome   string    `json:"outcome"`
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }
