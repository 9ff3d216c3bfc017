package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/uptrace/bun"
)

// AuditEventRecord is the bun model for persisted audit events
type AuditEventRecord struct {
	bun.BaseModel `bun:"table:audit_events,alias:aev"`

	ID            string         `bun:"id,pk"`
	EventType     string         `bun:"event_type,notnull"`
	TenantID      string         `bun:"tenant_id"`
	SubjectID     string         `bun:"subject_id"`
	Outcome       string         `bun:"outcome,notnull"`
	Reason        string         `bun:"reason"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
	CorrelationID string         `bun:"correlation_id"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
}

func newAuditEventRecord(e auth.AuditEvent) *AuditEventRecord {
	return &AuditEventRecord{
		ID:            e.ID,
		EventType:     string(e.EventType),
		TenantID:      e.TenantID,
		SubjectID:     e.SubjectID,
		Outcome:       string(e.Outcome),
		Reason:        e.Reason,
		OccurredAt:    e.Timestamp.UTC(),
		CorrelationID: e.CorrelationID,
		Metadata:      e.Metadata,
	}
}

func (r *AuditEventRecord) toEvent() auth.AuditEvent {
	return auth.AuditEvent{
		ID:            r.ID,
		EventType:     auth.AuditEventType(r.EventType),
		TenantID:      r.TenantID,
		SubjectID:     r.SubjectID,
		Outcome:       auth.Outcome(r.Outcome),
		Reason:        r.Reason,
		Timestamp:     r.OccurredAt.UTC(),
		CorrelationID: r.CorrelationID,
		Metadata:      r.Metadata,
	}
}

// AuditEventSink appends audit events to a table. It never updates or
// deletes rows.
type AuditEventSink struct {
	db *bun.DB
}

var _ auth.AuditSink = (*AuditEventSink)(nil)

func NewAuditEventSink(db *bun.DB) *AuditEventSink {
	return &AuditEventSink{db: db}
}

func (s *AuditEventSink) Record(ctx context.Context, event auth.AuditEvent) error {
	_, err := s.db.NewInsert().
		Model(newAuditEventRecord(event)).
		Exec(ctx)
	return err
}

// ListByTenant returns up to limit events of a tenant in recording order.
// Event ids sort by creation time.
func (s *AuditEventSink) ListByTenant(ctx context.Context, tenantID string, limit int) ([]auth.AuditEvent, error) {
	var records []AuditEventRecord
	q := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	events := make([]auth.AuditEvent, 0, len(records))
	for i := range records {
		events = append(events, records[i].toEvent())
	}
	return events, nil
}

// ListByCorrelation returns the events recorded for one request
func (s *AuditEventSink) ListByCorrelation(ctx context.Context, correlationID string) ([]auth.AuditEvent, error) {
	var records []AuditEventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.correlation_id = ?", correlationID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]auth.AuditEvent, 0, len(records))
	for i := range records {
		events = append(events, records[i].toEvent())
	}
	return events, nil
}
