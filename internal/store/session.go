package store

import (
	"log/slog"
)

// SessionStore holds values that live as long as the authoritative
// process. Inside that process it writes to the process-local session
// table; everywhere else it relays and keeps no copy of its own.
type SessionStore struct {
	*facade
}

func NewSessionStore(d Dispatch, logger *slog.Logger, opts ...Option) (*SessionStore, error) {
	p, err := d.provider()
	if err != nil {
		return nil, err
	}
	return &SessionStore{facade: newFacade("session", d.Role, p.Session(), logger, opts)}, nil
}
