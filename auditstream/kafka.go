package auditstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives every audit event unless a topic is mapped
const DefaultTopic = "tenant-auth.audit"

// DefaultWriteTimeout bounds one Record call, including broker acks
const DefaultWriteTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the sink needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes normalized audit events. Messages are keyed by tenant
// so events of one tenant keep their order within a partition.
type KafkaSink struct {
	writer       MessageWriter
	topic        string
	topicByEvent map[auth.AuditEventType]string
	normalize    []activitymap.Option
	timeout      time.Duration
}

var _ auth.AuditSink = (*KafkaSink)(nil)

// KafkaOption configures a KafkaSink
type KafkaOption func(*KafkaSink)

// WithTopic replaces DefaultTopic
func WithTopic(topic string) KafkaOption {
	return func(s *KafkaSink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithEventTopic routes one event type to its own topic
func WithEventTopic(eventType auth.AuditEventType, topic string) KafkaOption {
	return func(s *KafkaSink) {
		if topic != "" {
			s.topicByEvent[eventType] = topic
		}
	}
}

// WithWriteTimeout replaces DefaultWriteTimeout. Zero leaves the caller
// context as the only bound.
func WithWriteTimeout(d time.Duration) KafkaOption {
	return func(s *KafkaSink) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithNormalizeOptions forwards options to activitymap.Normalize
func WithNormalizeOptions(opts ...activitymap.Option) KafkaOption {
	return func(s *KafkaSink) {
		s.normalize = append(s.normalize, opts...)
	}
}

// NewKafkaWriter builds a writer that waits for every replica. The topic is
// set per message. Each message is flushed on its own and a failed write is
// not retried, so a broker outage costs a caller at most DefaultWriteTimeout.
func NewKafkaWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka audit sink requires at least one broker")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		MaxAttempts:  1,
		ReadTimeout:  DefaultWriteTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}, nil
}

func NewKafkaSink(writer MessageWriter, opts ...KafkaOption) *KafkaSink {
	s := &KafkaSink{
		writer:       writer,
		topic:        DefaultTopic,
		topicByEvent: make(map[auth.AuditEventType]string),
		timeout:      DefaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *KafkaSink) Record(ctx context.Context, event auth.AuditEvent) error {
	normalized := activitymap.Normalize(event, s.normalize...)
	payload, err := json.Marshal(normalized)
	if err != nil {
		return err
	}

	topic := s.topic
	if mapped, ok := s.topicByEvent[event.EventType]; ok {
		topic = mapped
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey(event)),
		Value: payload,
		Time:  normalized.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "correlation_id", Value: []byte(event.CorrelationID)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func partitionKey(event auth.AuditEvent) string {
	if event.TenantID != "" {
		return event.TenantID
	}
	return "unscoped"
}
