// Package sink provides append-only event sinks for bus activity.
// Records are opaque to the orchestration core: they are written for audit
// and offline analysis and never read back by any component.
package sink

import "ecoswarm/internal/types"

// RecordKind classifies an event sink record.
type RecordKind string

const (
	KindPublish  RecordKind = "publish"
	KindDelivery RecordKind = "delivery"
	KindError    RecordKind = "error"
)

// Record is one append-only audit entry. One record per append; appends must
// never interleave inside a single record.
type Record struct {
	Kind    RecordKind         `json:"kind"`
	Message types.SwarmMessage `json:"message"`
	Role    string             `json:"role,omitempty"`
	Result  *types.SwarmResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// EventSink accepts audit records. Implementations must be safe for
// concurrent appends. Callers treat append failures as best-effort: the
// delivery path swallows sink errors.
type EventSink interface {
	Append(rec Record) error
}

// NopSink discards every record.
type NopSink struct{}

// Append implements EventSink.
func (NopSink) Append(Record) error { return nil }
