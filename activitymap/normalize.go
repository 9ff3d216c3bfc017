package activitymap

import (
	"fmt"
	"strings"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
)

const (
	// MetadataKeyActorType stores the actor type of lifecycle transitions.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStatus stores the source identity status for lifecycle transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target identity status for lifecycle transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "identity"
	defaultActorID    = "anonymous"
)

// Normalized is a transport agnostic shape of an audit event for
// downstream consumers.
type Normalized struct {
	EventID       string         `json:"event_id"`
	ActorID       string         `json:"actor_id"`
	Verb          string         `json:"verb"`
	Outcome       string         `json:"outcome"`
	Reason        string         `json:"reason,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	ObjectType    string         `json:"object_type,omitempty"`
	ObjectID      string         `json:"object_id,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.AuditEvent) string
}

// Normalize converts an auth.AuditEvent into the normalized shape. Lifecycle
// events are attributed to the operator that changed the identity, every
// other event to its subject.
func Normalize(event auth.AuditEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		metaString(event.Metadata, "actor_id"),
		strings.TrimSpace(event.SubjectID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		EventID:       event.ID,
		ActorID:       actorID,
		Verb:          string(event.EventType),
		Outcome:       string(event.Outcome),
		Reason:        event.Reason,
		TenantID:      event.TenantID,
		ObjectType:    strings.TrimSpace(options.objectType),
		ObjectID:      resolveObjectID(event, options.objectIDResolver),
		Channel:       strings.TrimSpace(options.channel),
		CorrelationID: event.CorrelationID,
		Metadata:      normalizeMetadata(event),
		OccurredAt:    occurredAt.UTC(),
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object id extraction from AuditEvent.
func WithObjectIDResolver(resolver func(auth.AuditEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when an event has no subject.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event auth.AuditEvent, resolver func(auth.AuditEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.SubjectID)
}

func normalizeMetadata(event auth.AuditEvent) map[string]any {
	metadata := cloneMap(event.Metadata)
	if metadata == nil {
		return nil
	}

	if from, ok := metadata["from"]; ok {
		delete(metadata, "from")
		metadata[MetadataKeyFromStatus] = fmt.Sprint(from)
	}
	if to, ok := metadata["to"]; ok {
		delete(metadata, "to")
		metadata[MetadataKeyToStatus] = fmt.Sprint(to)
	}
	delete(metadata, "actor_id")

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func metaString(metadata map[string]any, key string) string {
	value, ok := metadata[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
