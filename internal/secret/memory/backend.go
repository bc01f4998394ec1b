// Package memory provides the authoritative, process-memory implementation
// of the secret store. Nothing it holds is ever written to disk.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rugwirobaker/ember/internal/expiry"
	"github.com/rugwirobaker/ember/internal/secret"
)

// DefaultTTL is how long a secret is retained when neither the caller nor
// the configuration says otherwise.
const DefaultTTL = 4 * time.Hour

// Config configures a Backend.
type Config struct {
	// TTL applies to secrets set without an explicit expiry.
	TTL time.Duration

	// IdleTimeout wipes every table after this long without a Get or Set.
	// Zero disables the idle wipe.
	IdleTimeout time.Duration

	// SlideOnRead makes a successful Get restart the entry's expiry.
	SlideOnRead bool

	// SessionTTL applies to session values set without an explicit expiry.
	// Zero keeps them until Clear or process exit.
	SessionTTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Backend owns the canonical secret and session tables of the
// authoritative process.
type Backend struct {
	secrets *table
	session *table
	idle    *expiry.Countdown
	now     func() time.Time
	logger  *slog.Logger

	lockOnce sync.Once
}

var (
	_ secret.Provider = (*Backend)(nil)
	_ secret.Clock    = (*Backend)(nil)
)

// New creates an empty backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = expiry.Never
	}

	b := &Backend{
		now:    cfg.Now,
		logger: logger,
	}
	b.secrets = b.newTable("secrets", cfg.TTL, cfg.SlideOnRead)
	b.session = b.newTable("session", sessionTTL, false)
	b.idle = expiry.NewCountdown(cfg.IdleTimeout, func() {
		logger.Info("Idle timeout reached, wiping secrets", "idle_timeout", cfg.IdleTimeout)
		b.clear()
	})

	logger.Info("Memory backend initialized",
		"ttl", cfg.TTL,
		"idle_timeout", cfg.IdleTimeout,
		"slide_on_read", cfg.SlideOnRead,
	)
	return b
}

func (b *Backend) newTable(name string, ttl time.Duration, slide bool) *table {
	return &table{
		name:  name,
		slide: slide,
		b:     b,
		cache: expiry.NewWithConfig(expiry.Config[[]byte]{
			TTL:     ttl,
			Now:     b.now,
			OnEvict: release,
		}),
	}
}

// Get retrieves a copy of a secret.
func (b *Backend) Get(ctx context.Context, scope secret.Scope) ([]byte, bool, error) {
	return b.secrets.Get(ctx, scope)
}

// Set stores, replaces or (with a nil value) removes a secret.
func (b *Backend) Set(ctx context.Context, scope secret.Scope, value []byte, expiresAt time.Time) error {
	return b.secrets.Set(ctx, scope, value, expiresAt)
}

// Clear wipes the secret and session tables.
func (b *Backend) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.clear()
	b.logger.Info("All secrets cleared")
	return nil
}

func (b *Backend) clear() {
	b.secrets.cache.Clear()
	b.session.cache.Clear()
}

// Session returns the session table.
func (b *Backend) Session() secret.Store {
	return b.session
}

// Stats holds live entry counts per table.
type Stats struct {
	Secrets int `json:"secrets"`
	Session int `json:"session"`
}

// Stats returns the number of live entries per table, purging expired
// entries on the way.
func (b *Backend) Stats() Stats {
	b.secrets.cache.Purge()
	b.session.cache.Purge()
	return Stats{
		Secrets: b.secrets.cache.Len(),
		Session: b.session.cache.Len(),
	}
}

// Close stops the idle countdown and wipes everything.
// Now is the clock expiry is judged against.
func (b *Backend) Now() time.Time {
	return b.now()
}

func (b *Backend) Close() error {
	b.idle.Stop()
	b.clear()
	b.logger.Info("Memory backend closed")
	return nil
}

func (b *Backend) activity() {
	b.idle.Reset()
}

func (b *Backend) retain(value []byte) []byte {
	cp := make([]byte, len(value))
	copy(cp, value)
	if err := lock(cp); err != nil {
		b.lockOnce.Do(func() {
			b.logger.Warn("Failed to lock secret memory, secrets may be swapped", "error", err)
		})
	}
	return cp
}

// release is the eviction hook of every table.
func release(_ string, value []byte) {
	secret.Wipe(value)
	unlock(value)
}

// table is one expiring map of the backend.
type table struct {
	name  string
	slide bool
	cache *expiry.Cache[[]byte]
	b     *Backend
}

func (t *table) Get(ctx context.Context, scope secret.Scope) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if err := scope.Validate(); err != nil {
		return nil, false, err
	}
	t.b.activity()

	var out []byte
	ok := t.cache.With(scope.ID(), func(v []byte) {
		out = make([]byte, len(v))
		copy(out, v)
	})
	if !ok {
		t.b.logger.Debug("Secret not found", "table", t.name, "scope", scope)
		return nil, false, nil
	}
	if t.slide {
		t.cache.Touch(scope.ID())
	}

	t.b.logger.Debug("Secret retrieved", "table", t.name, "scope", scope)
	return out, true, nil
}

func (t *table) Set(ctx context.Context, scope secret.Scope, value []byte, expiresAt time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	t.b.activity()

	if value == nil {
		t.cache.Remove(scope.ID())
		t.b.logger.Debug("Secret removed", "table", t.name, "scope", scope)
		return nil
	}

	ttl := t.cache.TTL()
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(t.b.now())
	}
	if ttl <= 0 {
		t.cache.Remove(scope.ID())
		t.b.logger.Debug("Secret already expired, not stored", "table", t.name, "scope", scope)
		return nil
	}

	t.cache.SetWithTTL(scope.ID(), t.b.retain(value), ttl)
	t.b.logger.Debug("Secret stored", "table", t.name, "scope", scope, "ttl", fmtTTL(ttl))
	return nil
}

func (t *table) Now() time.Time {
	return t.b.now()
}

func (t *table) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.cache.Clear()
	t.b.logger.Info("Table cleared", "table", t.name)
	return nil
}

func fmtTTL(ttl time.Duration) string {
	if ttl == expiry.Never {
		return "never"
	}
	return fmt.Sprint(ttl.Round(time.Millisecond))
}
