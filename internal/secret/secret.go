// Package secret provides the core interfaces and types for the in-memory
// secret store.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrInvalidScope is returned for a malformed account or key.
	ErrInvalidScope = errors.New("invalid secret scope")

	// ErrUnavailable is returned when the authoritative process cannot be reached.
	ErrUnavailable = errors.New("secret store unavailable")

	// ErrClosed is returned by a store that has been closed.
	ErrClosed = errors.New("secret store closed")
)

// scopeSeparator joins the parts of a scope identity. Validation rejects
// control characters, so the join is unambiguous.
const scopeSeparator = "\x1f"

// Scope identifies one secret slot: an account and a logical key within it,
// e.g. the pass-phrase for one private key of one mailbox.
type Scope struct {
	Account string
	Key     string
}

// NewScope returns a validated scope.
func NewScope(account, key string) (Scope, error) {
	s := Scope{Account: account, Key: key}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate reports whether both parts are usable.
func (s Scope) Validate() error {
	if err := validPart("account", s.Account); err != nil {
		return err
	}
	return validPart("key", s.Key)
}

func validPart(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidScope, name)
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %s contains control characters", ErrInvalidScope, name)
	}
	return nil
}

// ID is the cache identity of the scope.
func (s Scope) ID() string {
	return s.Account + scopeSeparator + s.Key
}

func (s Scope) String() string {
	return s.Account + "/" + s.Key
}

// Store is the storage interface shared by the authoritative backend and the
// relay client. Absence is not an error: Get reports it with ok == false.
type Store interface {
	// Get returns a copy of the value stored for scope.
	Get(ctx context.Context, scope Scope) (value []byte, ok bool, err error)

	// Set stores value for scope until expiresAt. A nil value removes the
	// entry; a zero expiresAt applies the configured default TTL.
	Set(ctx context.Context, scope Scope, value []byte, expiresAt time.Time) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// Provider is a Store that also exposes the session table.
type Provider interface {
	Store

	// Session returns the store backing SessionStore.
	Session() Store
}

// Clock is implemented by stores that judge expiry against their own
// clock rather than the wall clock.
type Clock interface {
	Now() time.Time
}

// Role tells a facade whether it runs inside the authoritative process.
type Role int

const (
	// RoleRelay facades forward every call to the authoritative process.
	RoleRelay Role = iota
	// RoleAuthoritative facades call the in-process backend directly.
	RoleAuthoritative
)

func (r Role) String() string {
	switch r {
	case RoleRelay:
		return "relay"
	case RoleAuthoritative:
		return "authoritative"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
