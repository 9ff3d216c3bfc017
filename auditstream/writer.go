package auditstream

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
)

// JSONLineSink writes one normalized event per line
type JSONLineSink struct {
	mu        sync.Mutex
	enc       *json.Encoder
	normalize []activitymap.Option
}

var _ auth.AuditSink = (*JSONLineSink)(nil)

func NewJSONLineSink(w io.Writer, opts ...activitymap.Option) *JSONLineSink {
	return &JSONLineSink{enc: json.NewEncoder(w), normalize: opts}
}

func (s *JSONLineSink) Record(_ context.Context, event auth.AuditEvent) error {
	normalized := activitymap.Normalize(event, s.normalize...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(normalized)
}
