package auth

import (
	"context"
	"maps"
	"time"
)

// ActorRef identifies who or what triggered a transition
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks
type TransitionContext struct {
	Actor    ActorRef
	Identity *Identity
	From     IdentityStatus
	To       IdentityStatus
	Deleted  bool
	Meta     TransitionMetadata
}

// TransitionHook is executed before or after a transition
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// TransitionOption customizes a single transition
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human readable reason for the transition
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(opts.metadata.Metadata, metadata)
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: maps.Clone(o.metadata.Metadata),
	}
}

// IdentityLifecycle moves identities between statuses. Leaving the active
// status revokes every token issued to the identity so far.
type IdentityLifecycle struct {
	writer           IdentityStatusWriter
	revocations      *RevocationRegistry
	identities       *IdentityStore
	auditor          *Auditor
	transitions      map[IdentityStatus]map[IdentityStatus]struct{}
	now              func() time.Time
	logger           Logger
	hookErrorHandler HookErrorHandler
}

// LifecycleOption customizes lifecycle construction
type LifecycleOption func(*IdentityLifecycle)

// WithLifecycleClock injects a custom clock
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(l *IdentityLifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithLifecycleAuditor sets where status changes are recorded
func WithLifecycleAuditor(a *Auditor) LifecycleOption {
	return func(l *IdentityLifecycle) {
		if a != nil {
			l.auditor = a
		}
	}
}

// WithLifecycleIdentityStore drops cached identities after each transition
func WithLifecycleIdentityStore(s *IdentityStore) LifecycleOption {
	return func(l *IdentityLifecycle) {
		l.identities = s
	}
}

// WithLifecycleLogger sets the lifecycle logger
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *IdentityLifecycle) {
		l.logger = normalizeLogger(logger)
	}
}

// WithLifecycleHookErrorHandler overrides how hook failures are propagated.
// By default the hook error is returned as is.
func WithLifecycleHookErrorHandler(handler HookErrorHandler) LifecycleOption {
	return func(l *IdentityLifecycle) {
		if handler != nil {
			l.hookErrorHandler = handler
		}
	}
}

// NewIdentityLifecycle creates a lifecycle over writer. revocations may be
// nil when tokens are never issued for the managed identities.
func NewIdentityLifecycle(writer IdentityStatusWriter, revocations *RevocationRegistry, opts ...LifecycleOption) *IdentityLifecycle {
	l := &IdentityLifecycle{
		writer:      writer,
		revocations: revocations,
		transitions: map[IdentityStatus]map[IdentityStatus]struct{}{
			StatusPending: {
				StatusActive: {},
			},
			StatusActive: {
				StatusSuspended: {},
			},
			StatusSuspended: {
				StatusActive: {},
			},
		},
		auditor: NewAuditor(nil),
		now:     time.Now,
		logger:  defLogger{},
		hookErrorHandler: func(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
			return err
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	return l
}

// CanTransition reports whether from may move to to
func (l *IdentityLifecycle) CanTransition(from, to IdentityStatus) bool {
	_, ok := l.transitions[from][to]
	return ok
}

// Transition moves identity to target. Deleted identities are terminal.
func (l *IdentityLifecycle) Transition(ctx context.Context, actor ActorRef, identity *Identity, target IdentityStatus, opts ...TransitionOption) (*Identity, error) {
	if identity == nil {
		return nil, withDetail(ErrInvalidTransition, nil, map[string]any{
			"target": target,
			"reason": "identity is nil",
		})
	}
	if identity.IsDeleted {
		return nil, withDetail(ErrInvalidTransition, nil, map[string]any{
			"target": target,
			"reason": "identity is deleted",
		})
	}

	from := identity.Status
	if from == target {
		return identity, nil
	}
	if !l.CanTransition(from, target) {
		return nil, withDetail(ErrInvalidTransition, nil, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	options := buildTransitionOptions(opts...)
	tc := TransitionContext{
		Actor:    actor,
		Identity: identity,
		From:     from,
		To:       target,
		Meta:     options.cloneMetadata(),
	}

	if err := l.apply(ctx, tc, options, func(ctx context.Context) error {
		return l.writer.UpdateStatus(ctx, identity.Scope(), identity.ID.String(), target, tc.Meta.Reason)
	}); err != nil {
		return nil, err
	}

	identity.Status = target
	identity.StatusReason = tc.Meta.Reason
	now := l.now()
	identity.UpdatedAt = &now
	return identity, nil
}

// Delete marks identity deleted and revokes its tokens
func (l *IdentityLifecycle) Delete(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) error {
	if identity == nil {
		return withDetail(ErrInvalidTransition, nil, map[string]any{"reason": "identity is nil"})
	}
	if identity.IsDeleted {
		return nil
	}

	options := buildTransitionOptions(opts...)
	tc := TransitionContext{
		Actor:    actor,
		Identity: identity,
		From:     identity.Status,
		To:       identity.Status,
		Deleted:  true,
		Meta:     options.cloneMetadata(),
	}

	if err := l.apply(ctx, tc, options, func(ctx context.Context) error {
		return l.writer.MarkDeleted(ctx, identity.Scope(), identity.ID.String())
	}); err != nil {
		return err
	}

	identity.IsDeleted = true
	return nil
}

func (l *IdentityLifecycle) apply(ctx context.Context, tc TransitionContext, options *transitionOptions, write func(context.Context) error) error {
	if err := l.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return err
	}

	if err := write(ctx); err != nil {
		if IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return err
	}

	scope := tc.Identity.Scope()
	subjectID := tc.Identity.ID.String()

	if l.revokes(tc) && l.revocations != nil {
		reason := tc.Meta.Reason
		if reason == "" {
			reason = "identity " + string(tc.To)
			if tc.Deleted {
				reason = "identity deleted"
			}
		}
		if err := l.revocations.Revoke(ctx, ScopeUser, UserRevocationKey(scope.TenantID, subjectID), reason); err != nil {
			l.logger.Error("identity %s status committed but revocation failed: %v", subjectID, err)
			l.record(ctx, tc, OutcomeError, "revocation failed", err)
			return err
		}
	}

	if l.identities != nil {
		l.identities.Invalidate(scope, subjectID)
	}

	if err := l.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		l.record(ctx, tc, OutcomeError, "after hook failed", err)
		return err
	}

	l.record(ctx, tc, OutcomeGranted, tc.Meta.Reason, nil)
	return nil
}

// record audits a committed status change
func (l *IdentityLifecycle) record(ctx context.Context, tc TransitionContext, outcome Outcome, reason string, cause error) {
	meta := map[string]any{
		"from":     tc.From,
		"to":       tc.To,
		"actor_id": tc.Actor.ID,
	}
	if tc.Actor.Type != "" {
		meta["actor_type"] = tc.Actor.Type
	}
	if tc.Deleted {
		meta["deleted"] = true
	}
	maps.Copy(meta, tc.Meta.Metadata)
	if cause != nil {
		meta["error"] = cause.Error()
	}

	ctx, cid := EnsureCorrelationID(ctx)
	l.auditor.Record(ctx, AuditEvent{
		EventType:     EventIdentityStatusChanged,
		TenantID:      tc.Identity.Scope().TenantID,
		SubjectID:     tc.Identity.ID.String(),
		Outcome:       outcome,
		Reason:        reason,
		CorrelationID: cid,
		Metadata:      meta,
	})
}

// revokes reports whether the transition takes the identity out of service
func (l *IdentityLifecycle) revokes(tc TransitionContext) bool {
	return tc.Deleted || tc.To != StatusActive
}

func (l *IdentityLifecycle) runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if err := hook(ctx, tc); err != nil {
			l.logger.Warn("%s hook failed for %s: %v", phase, tc.Identity.ID, err)
			return l.hookErrorHandler(ctx, phase, err, tc)
		}
	}
	return nil
}

func buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}
