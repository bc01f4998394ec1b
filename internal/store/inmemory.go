package store

import (
	"log/slog"
)

// InMemoryStore holds time-bounded secrets such as private key
// pass-phrases and decrypted keys.
type InMemoryStore struct {
	*facade
}

func NewInMemoryStore(d Dispatch, logger *slog.Logger, opts ...Option) (*InMemoryStore, error) {
	p, err := d.provider()
	if err != nil {
		return nil, err
	}
	return &InMemoryStore{facade: newFacade("inmemory", d.Role, p, logger, opts)}, nil
}
