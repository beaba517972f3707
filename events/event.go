// Package events carries billing facts to the rest of the back office.
//
// Events are published after the engine's transaction commits. The stores
// remain the source of truth; a lost event never loses money, it only delays
// a notification.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types
const (
	TypeScheduleGenerated = "billing.schedule.generated"
	TypePaymentApplied    = "billing.payment.applied"
	TypeInvoicePaid       = "billing.invoice.paid"
	TypeCreditNoteApplied = "billing.credit_note.applied"
)

// Event is one published billing fact.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// nullPayload stands in for a payload that could not be encoded.
var nullPayload = json.RawMessage("null")

// New builds an event with a fresh ID. payload is JSON-encoded; an encoding
// failure publishes the event with a null payload.
func New(eventType, aggregateID string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nullPayload
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     raw,
	}
}

// Publisher delivers events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, evts ...Event) error {
	for _, e := range evts {
		p.Logger.Info().
			Str("event_id", e.ID.String()).
			Str("event_type", e.Type).
			Str("aggregate_id", e.AggregateID).
			RawJSON("payload", e.Payload).
			Msg("billing event")
	}
	return nil
}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evts ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, evts...)
	return nil
}

// Types returns the type of every recorded event, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
