package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paidPayload struct {
	InvoiceID string `json:"invoice_id"`
	WeeksPaid int    `json:"weeks_paid"`
}

func TestNew(t *testing.T) {
	e := New(TypeInvoicePaid, "C1-W001", paidPayload{InvoiceID: "C1-W001", WeeksPaid: 3})

	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID))
	assert.Equal(t, TypeInvoicePaid, e.Type)
	assert.Equal(t, "C1-W001", e.AggregateID)
	assert.False(t, e.OccurredAt.IsZero())
	assert.JSONEq(t, `{"invoice_id":"C1-W001","weeks_paid":3}`, string(e.Payload))
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}

	require.NoError(t, rec.Publish(context.Background(),
		New(TypePaymentApplied, "I1", nil),
		New(TypeInvoicePaid, "I1", nil),
	))

	assert.Equal(t, []string{TypePaymentApplied, TypeInvoicePaid}, rec.Types())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := LogPublisher{Logger: zerolog.New(&buf)}

	require.NoError(t, pub.Publish(context.Background(), New(TypeCreditNoteApplied, "I9", nil)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, TypeCreditNoteApplied, entry["event_type"])
	assert.Equal(t, "I9", entry["aggregate_id"])
}

func TestNew_UnencodablePayload(t *testing.T) {
	// GIVEN a payload encoding/json rejects
	e := New(TypePaymentApplied, "I1", map[string]any{"ch": make(chan int)})

	// THEN the event still carries valid JSON
	assert.Equal(t, "null", string(e.Payload))

	var buf bytes.Buffer
	require.NoError(t, LogPublisher{Logger: zerolog.New(&buf)}.Publish(context.Background(), e))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Nil(t, entry["payload"])
	assert.Contains(t, entry, "payload")
}

func TestToMessage(t *testing.T) {
	e := New(TypePaymentApplied, "C1-W002", paidPayload{InvoiceID: "C1-W002"})

	msg, err := toMessage(e)

	require.NoError(t, err)
	assert.Equal(t, []byte("C1-W002"), msg.Key)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TypePaymentApplied, headers["event_type"])
	assert.Equal(t, e.ID.String(), headers["event_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Type, decoded.Type)
}
