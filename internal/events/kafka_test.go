package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "", zerolog.Nop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "topic", zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "dialysis.appointments")

	id := uuid.New()
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ev := appointment.EventLog{
		EventType:     appointment.EventAppointmentCompleted,
		AppointmentID: &id,
		Payload:       []byte(`{"slot":"06:00-10:00"}`),
		CreatedAt:     created,
	}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, id.String(), string(msg.Key))
	assert.Equal(t, created, msg.Time)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, appointment.EventAppointmentCompleted, env.EventType)
	assert.Equal(t, id.String(), env.AppointmentID)
	assert.JSONEq(t, `{"slot":"06:00-10:00"}`, string(env.Payload))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, appointment.EventAppointmentCompleted, headers[HeaderEventType])
	assert.Equal(t, sourceName, headers[HeaderSource])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writeErr := errors.New("broker unavailable")
	p := newPublisher(&fakeWriter{err: writeErr}, "t")

	err := p.Publish(context.Background(), appointment.EventLog{EventType: "X", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, writeErr)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "t")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)

	err := p.Publish(context.Background(), appointment.EventLog{EventType: "X"})
	assert.Error(t, err)
}
