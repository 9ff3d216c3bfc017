package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-tenant-auth"

// Dependencies are the collaborators a Coordinator orchestrates
type Dependencies struct {
	Codec       TokenCodec
	Verifier    CredentialVerifier
	Revocations *RevocationRegistry
	Tenants     *TenantResolver
	Identities  *IdentityStore
	Attempts    *LoginAttemptPolicy
	Policy      *AccessPolicyEngine
	Auditor     *Auditor
}

func (d Dependencies) validate() error {
	switch {
	case d.Codec == nil:
		return goerrors.New("token codec is required", goerrors.CategoryBadInput)
	case d.Revocations == nil:
		return goerrors.New("revocation registry is required", goerrors.CategoryBadInput)
	case d.Tenants == nil:
		return goerrors.New("tenant resolver is required", goerrors.CategoryBadInput)
	case d.Identities == nil:
		return goerrors.New("identity store is required", goerrors.CategoryBadInput)
	case d.Attempts == nil:
		return goerrors.New("login attempt policy is required", goerrors.CategoryBadInput)
	case d.Policy == nil:
		return goerrors.New("access policy engine is required", goerrors.CategoryBadInput)
	}
	return nil
}

// Coordinator orchestrates login, refresh, authenticate, authorize and
// logout. Every decision it makes is audited exactly once before it returns.
type Coordinator struct {
	codec       TokenCodec
	verifier    CredentialVerifier
	revocations *RevocationRegistry
	tenants     *TenantResolver
	identities  *IdentityStore
	attempts    *LoginAttemptPolicy
	policy      *AccessPolicyEngine
	auditor     *Auditor
	assertions  AssertionVerifier

	logger        Logger
	metrics       *Metrics
	tracer        trace.Tracer
	now           func() time.Time
	staleness     time.Duration
	rotateRefresh bool
}

// CoordinatorOption customizes the coordinator
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger
func WithLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = normalizeLogger(logger)
	}
}

// WithClock injects the clock used for staleness checks
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records lockouts and revocations
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracerProvider sets where spans are created
func WithTracerProvider(tp trace.TracerProvider) CoordinatorOption {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithAssertionVerifier enables LoginWithAssertion
func WithAssertionVerifier(v AssertionVerifier) CoordinatorOption {
	return func(c *Coordinator) {
		c.assertions = v
	}
}

// WithRefreshRotation overrides the configured refresh rotation
func WithRefreshRotation(rotate bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.rotateRefresh = rotate
	}
}

// WithIdentityStaleness overrides the configured staleness tolerance
func WithIdentityStaleness(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.staleness = d
	}
}

// NewCoordinator wires a coordinator from explicit dependencies
func NewCoordinator(deps Dependencies, cfg Config, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		codec:       deps.Codec,
		verifier:    deps.Verifier,
		revocations: deps.Revocations,
		tenants:     deps.Tenants,
		identities:  deps.Identities,
		attempts:    deps.Attempts,
		policy:      deps.Policy,
		auditor:     deps.Auditor,
		logger:      defLogger{},
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}

	if c.verifier == nil {
		c.verifier = BcryptVerifier{}
	}
	if c.auditor == nil {
		c.auditor = NewAuditor(nil)
	}
	if cfg != nil {
		c.staleness = cfg.GetIdentityStaleness()
		c.rotateRefresh = cfg.GetRotateRefreshTokens()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Login verifies credentials for a tenant and issues an access and refresh
// pair bound to a new session. Every credential related failure is reported
// as ErrInvalidCredentials.
func (c *Coordinator) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	ctx, cid := EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.login", trace.WithAttributes(
		attribute.String("tenant.id", creds.TenantID),
	))
	defer span.End()

	event := AuditEvent{EventType: EventLoginFailed, TenantID: creds.TenantID, CorrelationID: cid}

	if err := creds.Validate(); err != nil {
		return nil, c.fail(ctx, span, event, ErrInvalidCredentials, map[string]any{"validation": err.Error()})
	}

	tenant, err := c.tenants.Resolve(ctx, creds.TenantID)
	if err != nil {
		if isDecision(err) {
			return nil, c.fail(ctx, span, event, ErrInvalidCredentials, map[string]any{"cause": TextCode(err)})
		}
		return nil, c.fail(ctx, span, event, err, nil)
	}

	scope := TenantScope{TenantID: tenant.ID.String(), SchoolID: tenant.SchoolID}
	identity, err := c.identities.FindByIdentifier(ctx, scope, creds.Identifier)
	if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	return c.completeLogin(ctx, span, event, tenant, identity, creds.Identifier, func() bool {
		stored := ""
		if identity != nil {
			stored = identity.SecretHash
		}
		return c.verifier.Verify(creds.Secret, stored)
	})
}

// LoginFederated issues tokens for an identity asserted by an external
// provider. The assertion stands in for the secret comparison, lockout is
// still enforced.
func (c *Coordinator) LoginFederated(ctx context.Context, ext ExternalIdentity) (*LoginResult, error) {
	ctx, cid := EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.login_federated", trace.WithAttributes(
		attribute.String("tenant.id", ext.TenantID),
		attribute.String("provider", ext.Provider),
	))
	defer span.End()

	event := AuditEvent{
		EventType:     EventLoginFailed,
		TenantID:      ext.TenantID,
		CorrelationID: cid,
		Metadata:      map[string]any{"provider": ext.Provider},
	}

	if err := ext.Validate(); err != nil {
		return nil, c.fail(ctx, span, event, ErrInvalidCredentials, map[string]any{"validation": err.Error()})
	}

	tenant, err := c.tenants.Resolve(ctx, ext.TenantID)
	if err != nil {
		if isDecision(err) {
			return nil, c.fail(ctx, span, event, ErrInvalidCredentials, map[string]any{"cause": TextCode(err)})
		}
		return nil, c.fail(ctx, span, event, err, nil)
	}

	scope := TenantScope{TenantID: tenant.ID.String(), SchoolID: tenant.SchoolID}
	identity, err := c.identities.FindByIdentifier(ctx, scope, ext.Identifier)
	if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	return c.completeLogin(ctx, span, event, tenant, identity, ext.Identifier, func() bool {
		return identity != nil
	})
}

// LoginWithAssertion verifies a raw external assertion and logs its identity in
func (c *Coordinator) LoginWithAssertion(ctx context.Context, assertion string) (*LoginResult, error) {
	if c.assertions == nil {
		return nil, goerrors.New("assertion verifier not configured", goerrors.CategoryBadInput)
	}

	ext, err := c.assertions.VerifyAssertion(ctx, assertion)
	if err != nil {
		ctx, cid := EnsureCorrelationID(ctx)
		c.auditor.Record(ctx, AuditEvent{
			EventType:     EventLoginFailed,
			Outcome:       OutcomeDenied,
			Reason:        TextCodeInvalidCredentials,
			CorrelationID: cid,
			Metadata:      map[string]any{"assertion_error": err.Error()},
		})
		return nil, ErrInvalidCredentials
	}

	return c.LoginFederated(ctx, ext)
}

func (c *Coordinator) completeLogin(ctx context.Context, span trace.Span, event AuditEvent, tenant *Tenant, identity *Identity, identifier string, verified func() bool) (*LoginResult, error) {
	scope := TenantScope{TenantID: tenant.ID.String(), SchoolID: tenant.SchoolID}
	key := AttemptKey(scope, identifier)
	if identity != nil {
		event.SubjectID = identity.ID.String()
	}

	locked, err := c.attempts.IsLocked(ctx, key)
	if err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}
	if locked {
		return nil, c.fail(ctx, span, event, ErrAccountLocked, nil)
	}

	if ok := verified(); !ok || identity == nil {
		meta := map[string]any{}
		counter, nowLocked, ferr := c.attempts.RecordFailure(ctx, key)
		if ferr != nil {
			meta["attempt_write_error"] = ferr.Error()
		} else {
			meta["failed_attempts"] = counter.Count
		}
		if nowLocked {
			meta["locked"] = true
			c.metrics.lockout()
		}
		return nil, c.fail(ctx, span, event, ErrInvalidCredentials, meta)
	}

	if err := c.attempts.RecordSuccess(ctx, key); err != nil {
		c.logger.Warn("login could not reset attempts for %s: %v", event.SubjectID, err)
	}

	pair, err := c.issuePair(ctx, PayloadFromIdentity(identity))
	if err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	event.EventType = EventLoginSuccess
	event.Outcome = OutcomeGranted
	event.Metadata = mergeMeta(event.Metadata, map[string]any{"session_id": pair.SessionID()})
	c.auditor.Record(ctx, event)

	return &LoginResult{
		Tokens:        pair,
		Identity:      identity,
		Tenant:        tenant,
		CorrelationID: event.CorrelationID,
	}, nil
}

// Refresh mints a new access token from a refresh token. The identity is
// reloaded so role and status changes since issuance apply. With rotation
// enabled a new refresh token is issued and the presented one revoked.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	ctx, cid := EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	event := AuditEvent{EventType: EventRefreshFailed, CorrelationID: cid}

	payload, err := c.codec.Verify(refreshToken, ClassRefresh)
	if err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}
	event.TenantID = payload.TenantID
	event.SubjectID = payload.SubjectID

	if err := c.revocations.CheckPayload(ctx, payload); err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	if _, err := c.tenants.ResolveScope(ctx, payload.Scope()); err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	c.identities.Invalidate(payload.Scope(), payload.SubjectID)
	identity, err := c.identities.Load(ctx, payload.SubjectID, payload.TenantID, payload.SchoolID)
	if err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	next := PayloadFromIdentity(identity)
	next.SessionID = payload.SessionID

	access, accessPayload, err := c.codec.Issue(ctx, next, ClassAccess)
	if err != nil {
		return nil, c.fail(ctx, span, event, err, nil)
	}

	result := &RefreshResult{
		AccessToken:   access,
		Access:        accessPayload,
		CorrelationID: cid,
	}

	meta := map[string]any{"session_id": payload.SessionID, "rotated": false}
	if c.rotateRefresh {
		refresh, refreshPayload, err := c.codec.Issue(ctx, next, ClassRefresh)
		if err != nil {
			return nil, c.fail(ctx, span, event, err, nil)
		}
		if err := c.revocations.Revoke(ctx, ScopeToken, payload.JTI, "refresh rotated"); err != nil {
			return nil, c.fail(ctx, span, event, err, nil)
		}
		c.metrics.revocation(ScopeToken)
		result.RefreshToken = refresh
		result.Refresh = &refreshPayload
		meta["rotated"] = true
	}

	event.EventType = EventTokenRefreshed
	event.Outcome = OutcomeGranted
	event.Metadata = meta
	c.auditor.Record(ctx, event)

	return result, nil
}

// Authenticate verifies an access token and returns the request principal.
// Token, session and user revocations are all checked.
func (c *Coordinator) Authenticate(ctx context.Context, accessToken string) (*IdentityContext, error) {
	ctx, _ = EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.authenticate")
	defer span.End()

	principal, event, err := c.authenticate(ctx, accessToken)
	c.auditor.Record(ctx, event)
	if err != nil {
		c.traceFailure(span, event, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("tenant.id", principal.TenantID()))
	return principal, nil
}

// authenticate runs the authentication decision and returns the event that
// describes it without recording it.
func (c *Coordinator) authenticate(ctx context.Context, accessToken string) (*IdentityContext, AuditEvent, error) {
	event := AuditEvent{EventType: EventAuthFailed, CorrelationID: CorrelationIDFromContext(ctx)}

	payload, err := c.codec.Verify(accessToken, ClassAccess)
	if err != nil {
		return nil, c.failure(event, err, nil), err
	}
	event.TenantID = payload.TenantID
	event.SubjectID = payload.SubjectID

	if err := c.revocations.CheckPayload(ctx, payload); err != nil {
		return nil, c.failure(event, err, nil), err
	}

	tenant, err := c.tenants.ResolveScope(ctx, payload.Scope())
	if err != nil {
		return nil, c.failure(event, err, nil), err
	}

	var identity *Identity
	if c.staleness > 0 && c.now().Sub(payload.IssuedAt) > c.staleness {
		identity, err = c.identities.Load(ctx, payload.SubjectID, payload.TenantID, payload.SchoolID)
	} else {
		identity, err = identityFromPayload(payload)
	}
	if err != nil {
		return nil, c.failure(event, err, nil), err
	}

	event.EventType = EventAuthSuccess
	event.Outcome = OutcomeGranted
	event.Metadata = map[string]any{"session_id": payload.SessionID}

	return &IdentityContext{
		Payload:       payload,
		Identity:      identity,
		Tenant:        tenant,
		CorrelationID: event.CorrelationID,
	}, event, nil
}

// Authorize checks role and plan requirements for an authenticated principal
func (c *Coordinator) Authorize(ctx context.Context, principal *IdentityContext, requiredRoles []Role, op ...OperationContext) Decision {
	if principal != nil && principal.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, principal.CorrelationID)
	}
	ctx, _ = EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.authorize")
	defer span.End()

	var opCtx OperationContext
	if len(op) > 0 {
		opCtx = op[0]
	}

	decision, event := c.authorize(ctx, principal, requiredRoles, opCtx)
	c.auditor.Record(ctx, event)
	if !decision.Allowed {
		c.traceFailure(span, event, decision.Err)
	}
	return decision
}

// authorize runs the authorization decision and returns the event that
// describes it without recording it.
func (c *Coordinator) authorize(ctx context.Context, principal *IdentityContext, requiredRoles []Role, op OperationContext) (Decision, AuditEvent) {
	event := AuditEvent{EventType: EventAccessDenied, CorrelationID: CorrelationIDFromContext(ctx)}
	meta := map[string]any{"required_roles": requiredRoles}
	if op.Operation != "" {
		meta["operation"] = op.Operation
	}

	if principal == nil {
		err := withDetail(ErrRoleDenied, nil, map[string]any{"reason": "no principal"})
		return deny(err), c.failure(event, err, meta)
	}
	event.TenantID = principal.TenantID()
	event.SubjectID = principal.SubjectID()

	tenant := principal.Tenant
	if tenant == nil {
		t, err := c.tenants.ResolveScope(ctx, principal.Payload.Scope())
		if err != nil {
			return deny(err), c.failure(event, err, meta)
		}
		tenant = t
	}

	decision := c.policy.Authorize(principal.Identity, tenant, requiredRoles, op)
	if !decision.Allowed {
		return decision, c.failure(event, decision.Err, meta)
	}

	event.EventType = EventAccessGranted
	event.Outcome = OutcomeGranted
	event.Metadata = meta
	return decision, event
}

// Logout revokes the session. Tokens already issued for it stop being
// trusted, nothing else is deleted.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) error {
	ctx, cid := EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.logout")
	defer span.End()

	event := AuditEvent{EventType: EventLogout, CorrelationID: cid}
	if principal, ok := PrincipalFromContext(ctx); ok {
		event.TenantID = principal.TenantID()
		event.SubjectID = principal.SubjectID()
	}

	if err := c.revocations.Revoke(ctx, ScopeSession, sessionID, "logout"); err != nil {
		return c.fail(ctx, span, event, err, map[string]any{"session_id": sessionID})
	}
	c.metrics.revocation(ScopeSession)

	event.Outcome = OutcomeGranted
	event.Metadata = map[string]any{"session_id": sessionID}
	c.auditor.Record(ctx, event)
	return nil
}

// RevokeIdentity revokes every token issued to a subject so far. Tokens
// issued after this call are trusted again.
func (c *Coordinator) RevokeIdentity(ctx context.Context, scope TenantScope, subjectID, reason string) error {
	ctx, cid := EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "auth.revoke_identity")
	defer span.End()

	event := AuditEvent{
		EventType:     EventIdentityRevoked,
		TenantID:      scope.TenantID,
		SubjectID:     subjectID,
		CorrelationID: cid,
	}

	if err := c.revocations.Revoke(ctx, ScopeUser, UserRevocationKey(scope.TenantID, subjectID), reason); err != nil {
		return c.fail(ctx, span, event, err, nil)
	}
	c.metrics.revocation(ScopeUser)
	c.identities.Invalidate(scope, subjectID)

	event.Outcome = OutcomeGranted
	event.Reason = reason
	c.auditor.Record(ctx, event)
	return nil
}

// UnlockIdentity clears the lockout for a login identifier
func (c *Coordinator) UnlockIdentity(ctx context.Context, scope TenantScope, identifier string) error {
	ctx, cid := EnsureCorrelationID(ctx)
	event := AuditEvent{
		EventType:     EventIdentityUnlocked,
		TenantID:      scope.TenantID,
		CorrelationID: cid,
		Metadata:      map[string]any{"identifier": NormalizeIdentifier(identifier)},
	}

	if err := c.attempts.Unlock(ctx, AttemptKey(scope, identifier)); err != nil {
		return c.fail(ctx, trace.SpanFromContext(ctx), event, err, nil)
	}

	event.Outcome = OutcomeGranted
	c.auditor.Record(ctx, event)
	return nil
}

func (c *Coordinator) issuePair(ctx context.Context, payload TokenPayload) (TokenPair, error) {
	if issuer, ok := c.codec.(interface {
		IssuePair(context.Context, TokenPayload) (TokenPair, error)
	}); ok {
		return issuer.IssuePair(ctx, payload)
	}

	access, accessPayload, err := c.codec.Issue(ctx, payload, ClassAccess)
	if err != nil {
		return TokenPair{}, err
	}
	payload.SessionID = accessPayload.SessionID
	refresh, refreshPayload, err := c.codec.Issue(ctx, payload, ClassRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, Access: accessPayload, Refresh: refreshPayload}, nil
}

// fail audits a failed decision and returns err
func (c *Coordinator) fail(ctx context.Context, span trace.Span, event AuditEvent, err error, meta map[string]any) error {
	event = c.failure(event, err, meta)
	c.auditor.Record(ctx, event)
	c.traceFailure(span, event, err)
	return err
}

// failure fills the outcome of a failed decision. Denials carry the taxonomy
// reason, anything else is recorded with the error outcome.
func (c *Coordinator) failure(event AuditEvent, err error, meta map[string]any) AuditEvent {
	event.Outcome = OutcomeDenied
	if !isDecision(err) {
		event.Outcome = OutcomeError
		c.logger.Error("%s failed: %v", event.EventType, err)
	}
	event.Reason = TextCode(err)
	if event.Reason == "" && err != nil {
		event.Reason = err.Error()
	}
	event.Metadata = mergeMeta(event.Metadata, meta)
	return event
}

func (c *Coordinator) traceFailure(span trace.Span, event AuditEvent, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, event.Reason)
}

var decisionCodes = map[string]struct{}{
	TextCodeInvalidCredentials:    {},
	TextCodeAccountLocked:         {},
	TextCodeTenantNotFound:        {},
	TextCodeTenantInactive:        {},
	TextCodeIdentityNotFound:      {},
	TextCodeIdentityInactive:      {},
	TextCodeTokenInvalidSignature: {},
	TextCodeTokenExpired:          {},
	TextCodeTokenWrongClass:       {},
	TextCodeTokenMalformed:        {},
	TextCodeTokenRevoked:          {},
	TextCodeRoleDenied:            {},
	TextCodePermissionDenied:      {},
	TextCodePlanInsufficient:      {},
}

// isDecision reports whether err is a denial from the taxonomy rather than
// an operational failure
func isDecision(err error) bool {
	_, ok := decisionCodes[TextCode(err)]
	return ok
}

func mergeMeta(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
