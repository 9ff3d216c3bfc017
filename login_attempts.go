package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AttemptCounter tracks failed logins for one identity key within a window
type AttemptCounter struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// AttemptKey builds the lockout key for a login identifier inside a tenant
func AttemptKey(scope TenantScope, identifier string) string {
	return scope.TenantID + "/" + scope.SchoolID + "/" + NormalizeIdentifier(identifier)
}

// LoginAttemptPolicy locks an identity once threshold failures happen
// inside window. Locks clear on window expiry or an explicit Unlock.
type LoginAttemptPolicy struct {
	store     AttemptStore
	threshold int
	window    time.Duration
	now       func() time.Time
	logger    Logger
}

// LoginAttemptOption customizes the policy
type LoginAttemptOption func(*LoginAttemptPolicy)

// WithAttemptClock injects a clock
func WithAttemptClock(now func() time.Time) LoginAttemptOption {
	return func(p *LoginAttemptPolicy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithAttemptLogger sets the policy logger
func WithAttemptLogger(logger Logger) LoginAttemptOption {
	return func(p *LoginAttemptPolicy) {
		p.logger = normalizeLogger(logger)
	}
}

// NewLoginAttemptPolicy creates a policy. A threshold below one disables lockout.
func NewLoginAttemptPolicy(store AttemptStore, threshold int, window time.Duration, opts ...LoginAttemptOption) *LoginAttemptPolicy {
	p := &LoginAttemptPolicy{
		store:     store,
		threshold: threshold,
		window:    window,
		now:       time.Now,
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Threshold returns the configured failure threshold
func (p *LoginAttemptPolicy) Threshold() int {
	return p.threshold
}

// IsLocked reports whether key reached the threshold inside the current window
func (p *LoginAttemptPolicy) IsLocked(ctx context.Context, key string) (bool, error) {
	if p.threshold < 1 {
		return false, nil
	}

	counter, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Error("login attempts read failed: %v", err)
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read login attempts")
	}

	return p.locked(counter), nil
}

// RecordFailure atomically increments the counter and reports whether the
// key is now locked.
func (p *LoginAttemptPolicy) RecordFailure(ctx context.Context, key string) (AttemptCounter, bool, error) {
	counter, err := p.store.Increment(ctx, key, p.now(), p.window)
	if err != nil {
		p.logger.Error("login attempts increment failed: %v", err)
		return AttemptCounter{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record login attempt")
	}

	locked := p.locked(counter)
	if locked {
		p.logger.Warn("login attempts threshold reached for key %s", key)
	}
	return counter, locked, nil
}

// RecordSuccess resets the counter
func (p *LoginAttemptPolicy) RecordSuccess(ctx context.Context, key string) error {
	if err := p.store.Reset(ctx, key); err != nil {
		p.logger.Error("login attempts reset failed: %v", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset login attempts")
	}
	return nil
}

// Unlock clears a lock before the window expires
func (p *LoginAttemptPolicy) Unlock(ctx context.Context, key string) error {
	return p.RecordSuccess(ctx, key)
}

func (p *LoginAttemptPolicy) locked(counter AttemptCounter) bool {
	if p.threshold < 1 || counter.Count < p.threshold {
		return false
	}
	if p.window > 0 && !counter.WindowStart.IsZero() && !p.now().Before(counter.WindowStart.Add(p.window)) {
		return false
	}
	return true
}
