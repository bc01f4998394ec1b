// Package store exposes the secret store to callers in any process. A
// facade built for the authoritative process calls the backend directly;
// one built anywhere else relays every call to it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rugwirobaker/ember/internal/secret"
)

// Dispatch selects where a facade sends its calls.
type Dispatch struct {
	Role secret.Role

	// Local is the in-process backend; required for RoleAuthoritative.
	Local secret.Provider

	// Remote reaches the authoritative process; required for RoleRelay.
	Remote secret.Provider
}

func (d Dispatch) provider() (secret.Provider, error) {
	switch d.Role {
	case secret.RoleAuthoritative:
		if d.Local == nil {
			return nil, errors.New("authoritative facade needs a local backend")
		}
		return d.Local, nil
	case secret.RoleRelay:
		if d.Remote == nil {
			return nil, errors.New("relay facade needs a remote store")
		}
		return d.Remote, nil
	default:
		return nil, fmt.Errorf("unknown role %s", d.Role)
	}
}

// Option configures a facade.
type Option func(*facade)

// WithWait sets the default polling schedule of GetUntilAvailable.
func WithWait(w Wait) Option {
	return func(f *facade) {
		f.wait = w.withDefaults()
	}
}

// facade holds what InMemoryStore and SessionStore share.
type facade struct {
	name   string
	role   secret.Role
	target secret.Store
	logger *slog.Logger
	wait   Wait

	mu    sync.Mutex
	polls map[string]*poll
}

func newFacade(name string, role secret.Role, target secret.Store, logger *slog.Logger, opts []Option) *facade {
	f := &facade{
		name:   name,
		role:   role,
		target: target,
		logger: logger.With("store", name, "role", role.String()),
		wait:   Wait{}.withDefaults(),
		polls:  make(map[string]*poll),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Role reports whether the facade calls the backend directly or relays.
func (f *facade) Role() secret.Role {
	return f.role
}

// Get returns the value stored for (account, key). A store that cannot be
// reached is reported as "not available" rather than as an error.
func (f *facade) Get(ctx context.Context, account, key string) (string, bool, error) {
	scope, err := secret.NewScope(account, key)
	if err != nil {
		return "", false, err
	}

	v, ok, err := f.target.Get(ctx, scope)
	if errors.Is(err, secret.ErrUnavailable) || errors.Is(err, secret.ErrClosed) {
		f.logger.Warn("Secret store unreachable, treating value as unavailable",
			"scope", scope.String(),
			"error", err)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	value := string(v)
	secret.Wipe(v)
	return value, true, nil
}

// Set stores value for (account, key) until expiresAt; a zero expiresAt
// applies the store's default TTL and a past one removes the entry.
func (f *facade) Set(ctx context.Context, account, key, value string, expiresAt time.Time) error {
	scope, err := secret.NewScope(account, key)
	if err != nil {
		return err
	}

	b := []byte(value)
	defer secret.Wipe(b)
	if err := f.target.Set(ctx, scope, b, expiresAt); err != nil {
		return fmt.Errorf("failed to store %s: %w", scope, err)
	}
	return nil
}

// Remove deletes the value stored for (account, key).
func (f *facade) Remove(ctx context.Context, account, key string) error {
	scope, err := secret.NewScope(account, key)
	if err != nil {
		return err
	}
	if err := f.target.Set(ctx, scope, nil, time.Time{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", scope, err)
	}
	return nil
}

// Clear wipes every entry, e.g. on logout or lock.
func (f *facade) Clear(ctx context.Context) error {
	if err := f.target.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear %s store: %w", f.name, err)
	}
	f.logger.Info("Store cleared")
	return nil
}

// GetUntilAvailable polls Get until a value shows up or the attempts run
// out. Concurrent callers waiting on the same scope with the same interval
// share one loop; each caller still gets at least its own number of reads
// counted from when it joined.
func (f *facade) GetUntilAvailable(ctx context.Context, account, key string, opts ...WaitOption) (string, bool, error) {
	scope, err := secret.NewScope(account, key)
	if err != nil {
		return "", false, err
	}

	w := f.wait
	for _, opt := range opts {
		opt(&w)
	}
	w = w.withDefaults()

	deadline := time.Now().Add(time.Duration(w.Attempts-1) * w.Interval)
	p := f.join(ctx, scope, w.Interval, deadline)

	for {
		f.mu.Lock()
		tick := p.tick
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-p.done:
			return p.value, p.ok, p.err
		case <-tick:
			f.mu.Lock()
			at := p.readAt
			f.mu.Unlock()
			if !at.Before(deadline) {
				return "", false, nil
			}
		}
	}
}

// poll is a polling loop shared by the waiters of one scope and interval.
// Fields other than done and the results are guarded by facade.mu.
type poll struct {
	interval time.Duration
	until    time.Time     // latest deadline of any waiter
	readAt   time.Time     // start of the last completed read
	tick     chan struct{} // closed after each read

	done  chan struct{}
	value string
	ok    bool
	err   error
}

// join returns the loop for scope, starting one or extending its deadline.
func (f *facade) join(ctx context.Context, scope secret.Scope, interval time.Duration, deadline time.Time) *poll {
	id := fmt.Sprintf("%s:%d", scope.ID(), interval)

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.polls[id]; ok {
		if deadline.After(p.until) {
			p.until = deadline
		}
		return p
	}

	p := &poll{
		interval: interval,
		until:    deadline,
		tick:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	f.polls[id] = p
	// Bounded by the waiters' deadlines, so it may outlive the one that started it.
	go f.run(context.WithoutCancel(ctx), id, p, scope)
	return p
}

func (f *facade) run(ctx context.Context, id string, p *poll, scope secret.Scope) {
	timer := time.NewTimer(p.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		start := time.Now()
		v, ok, err := f.Get(ctx, scope.Account, scope.Key)

		f.mu.Lock()
		if err != nil || ok || !start.Before(p.until) {
			delete(f.polls, id)
			p.value, p.ok, p.err = v, ok, err
			f.mu.Unlock()
			close(p.done)
			return
		}
		p.readAt = start
		close(p.tick)
		p.tick = make(chan struct{})
		f.mu.Unlock()

		timer.Reset(p.interval)
		<-timer.C
	}
}
