package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/rugwirobaker/ember/internal/audit"
	"github.com/rugwirobaker/ember/internal/secret"
)

// RegisterStore answers every store operation from p and records each
// one on rec. A nil rec records nothing.
func RegisterStore(srv *Server, p secret.Provider, rec audit.Recorder, logger *slog.Logger) {
	if rec == nil {
		rec = audit.Nop{}
	}
	h := &storeHandlers{rec: rec, logger: logger}

	srv.Handle(OpStoreGet, h.get(p))
	srv.Handle(OpStoreSet, h.set(p))
	srv.Handle(OpStoreClear, h.clear(p))
	srv.Handle(OpSessionGet, h.get(p.Session()))
	srv.Handle(OpSessionSet, h.set(p.Session()))
	srv.Handle(OpSessionClear, h.clear(p.Session()))
}

type storeHandlers struct {
	rec    audit.Recorder
	logger *slog.Logger
}

func (h *storeHandlers) get(st secret.Store) HandlerFunc {
	return func(ctx context.Context, req *Request) ([]byte, error) {
		scope, err := req.Scope()
		if err != nil {
			h.record(ctx, req, audit.OutcomeError)
			return nil, err
		}

		v, ok, err := st.Get(ctx, scope)
		if err != nil {
			h.record(ctx, req, audit.OutcomeError)
			return nil, err
		}
		if !ok {
			h.record(ctx, req, audit.OutcomeMiss)
			return nil, nil
		}

		h.record(ctx, req, audit.OutcomeHit)
		return v, nil
	}
}

func (h *storeHandlers) set(st secret.Store) HandlerFunc {
	now := time.Now
	if c, ok := st.(secret.Clock); ok {
		now = c.Now
	}
	return func(ctx context.Context, req *Request) ([]byte, error) {
		scope, err := req.Scope()
		if err != nil {
			h.record(ctx, req, audit.OutcomeError)
			return nil, err
		}

		expiresAt := req.ExpiresAt()
		removed := req.Value == nil || (!expiresAt.IsZero() && !expiresAt.After(now()))

		err = st.Set(ctx, scope, req.Value, expiresAt)
		secret.Wipe(req.Value)
		if err != nil {
			h.record(ctx, req, audit.OutcomeError)
			return nil, err
		}

		outcome := audit.OutcomeStored
		if removed {
			outcome = audit.OutcomeRemoved
		}
		h.record(ctx, req, outcome)
		return nil, nil
	}
}

func (h *storeHandlers) clear(st secret.Store) HandlerFunc {
	return func(ctx context.Context, req *Request) ([]byte, error) {
		if err := st.Clear(ctx); err != nil {
			h.record(ctx, req, audit.OutcomeError)
			return nil, err
		}
		h.record(ctx, req, audit.OutcomeCleared)
		return nil, nil
	}
}

func (h *storeHandlers) record(ctx context.Context, req *Request, outcome string) {
	ev := audit.Event{
		Time:      time.Now(),
		RequestID: req.RequestID,
		Caller:    req.Caller,
		Op:        string(req.Op),
		Account:   req.Account,
		Key:       req.Key,
		Outcome:   outcome,
	}
	// The request may already be canceled; the trail should still be written.
	if err := h.rec.Record(context.WithoutCancel(ctx), ev); err != nil {
		h.logger.Warn("Failed to record audit event", "error", err, "request_id", req.RequestID)
	}
}
