package auth

import (
	"context"
	"errors"
	"hash/fnv"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditEventType enumerates recorded decisions
type AuditEventType string

const (
	EventLoginSuccess          AuditEventType = "LOGIN_SUCCESS"
	EventLoginFailed           AuditEventType = "LOGIN_FAILED"
	EventTokenRefreshed        AuditEventType = "TOKEN_REFRESHED"
	EventRefreshFailed         AuditEventType = "REFRESH_FAILED"
	EventAuthSuccess           AuditEventType = "AUTH_SUCCESS"
	EventAuthFailed            AuditEventType = "AUTH_FAILED"
	EventAccessGranted         AuditEventType = "ACCESS_GRANTED"
	EventAccessDenied          AuditEventType = "ACCESS_DENIED"
	EventLogout                AuditEventType = "LOGOUT"
	EventIdentityRevoked       AuditEventType = "IDENTITY_REVOKED"
	EventIdentityStatusChanged AuditEventType = "IDENTITY_STATUS_CHANGED"
	EventIdentityUnlocked      AuditEventType = "IDENTITY_UNLOCKED"
)

// Outcome is the result of a recorded decision
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// AuditEvent is an append only record of one auth or authz decision
type AuditEvent struct {
	ID            string
	EventType     AuditEventType
	TenantID      string
	SubjectID     string
	Outcome       Outcome
	Reason        string
	Timestamp     time.Time
	CorrelationID string
	Metadata      map[string]any
}

// AuditSink consumes audit events. Implementations must only append.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, event AuditEvent) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, event AuditEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditEvent) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// MultiAuditSink fans an event out to every sink and joins their errors
type MultiAuditSink []AuditSink

// Record implements AuditSink.
func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const auditStripes = 64

// Auditor stamps events and hands them to a sink. Timestamps are strictly
// increasing and ids sort in the same order. Events of one tenant reach the
// sink in timestamp order. Sink failures are logged and counted, never returned.
type Auditor struct {
	sink    AuditSink
	logger  Logger
	metrics *Metrics
	now     func() time.Time

	mu      sync.Mutex
	last    time.Time
	entropy *ulid.MonotonicEntropy

	tenants [auditStripes]sync.Mutex
}

// AuditorOption customizes the auditor
type AuditorOption func(*Auditor)

// WithAuditorClock injects a clock
func WithAuditorClock(now func() time.Time) AuditorOption {
	return func(a *Auditor) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuditorLogger sets the logger used for sink failures
func WithAuditorLogger(logger Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = normalizeLogger(logger)
	}
}

// WithAuditorMetrics counts sink failures
func WithAuditorMetrics(m *Metrics) AuditorOption {
	return func(a *Auditor) {
		a.metrics = m
	}
}

// NewAuditor creates an auditor writing to sink
func NewAuditor(sink AuditSink, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		sink:    normalizeAuditSink(sink),
		logger:  defLogger{},
		now:     time.Now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Record stamps event and writes it synchronously. The returned event is what
// was handed to the sink.
func (a *Auditor) Record(ctx context.Context, event AuditEvent) AuditEvent {
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationIDFromContext(ctx)
	}

	event, err := a.deliver(ctx, event)
	if err != nil {
		a.logger.Error("%s: event=%s id=%s tenant=%s: %v",
			ErrAuditWriteFailed.Message, event.EventType, event.ID, event.TenantID, err)
		a.metrics.auditFailure(event.EventType)
	}

	a.metrics.decision(event.EventType, event.Outcome)
	return event
}

// deliver stamps and writes under the tenant stripe so a later stamp never
// reaches the sink first
func (a *Auditor) deliver(ctx context.Context, event AuditEvent) (AuditEvent, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(event.TenantID))
	stripe := &a.tenants[h.Sum32()%auditStripes]

	stripe.Lock()
	defer stripe.Unlock()

	event = a.stamp(event)
	return event, a.sink.Record(ctx, event)
}

func (a *Auditor) stamp(event AuditEvent) AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now().UTC()
	if !ts.After(a.last) {
		ts = a.last.Add(time.Nanosecond)
	}
	a.last = ts

	event.Timestamp = ts
	event.ID = ulid.MustNew(ulid.Timestamp(ts), a.entropy).String()
	return event
}

// AuditLog is an in memory append only sink. Events can be read but never
// changed or removed.
type AuditLog struct {
	mu     sync.RWMutex
	events []AuditEvent
	ids    map[string]struct{}
}

// NewAuditLog creates an empty log
func NewAuditLog() *AuditLog {
	return &AuditLog{ids: map[string]struct{}{}}
}

// Record appends event, rejecting duplicate ids
func (l *AuditLog) Record(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		return withDetail(ErrInvalidRequest, nil, map[string]any{"reason": "audit event id required"})
	}
	if _, exists := l.ids[event.ID]; exists {
		return withDetail(ErrInvalidRequest, nil, map[string]any{"reason": "audit event already recorded", "id": event.ID})
	}

	l.ids[event.ID] = struct{}{}
	l.events = append(l.events, cloneEvent(event))
	return nil
}

// Events returns a copy of all events in append order
func (l *AuditLog) Events() []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AuditEvent, len(l.events))
	for i, e := range l.events {
		out[i] = cloneEvent(e)
	}
	return out
}

// ByCorrelation returns the events sharing correlationID
func (l *AuditLog) ByCorrelation(correlationID string) []AuditEvent {
	var out []AuditEvent
	for _, e := range l.Events() {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func cloneEvent(e AuditEvent) AuditEvent {
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		e.Metadata = meta
	}
	return e
}
