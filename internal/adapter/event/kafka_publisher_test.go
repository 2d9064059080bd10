package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_ProductionAndTriggers(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishProductionRecorded(context.Background(), domain.ProductionRecorded{
		ProductionEntryID: 42,
		BoardID:           7,
		QuantityProduced:  3,
		Consumed: []domain.ConsumedComponent{
			{ComponentID: 1, PartNumber: "R-10K", QuantityUsed: 6, NewStock: 94},
			{ComponentID: 2, PartNumber: "C-100N", QuantityUsed: 3, NewStock: 2},
		},
		TriggersOpened: []domain.ProcurementTrigger{{ID: 5, ComponentID: 2, Status: domain.TriggerStatusOpen}},
		CommittedAt:    at,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 2)

	prod := w.messages[0]
	assert.Equal(t, "board/7", string(prod.Key))
	assert.Equal(t, TypeProductionRecorded, header(prod, "ce-type"))
	assert.NotEmpty(t, header(prod, "ce-id"))

	var env Envelope
	require.NoError(t, json.Unmarshal(prod.Value, &env))
	assert.Equal(t, TypeProductionRecorded, env.Type)
	assert.True(t, at.Equal(env.Time))

	var payload ProductionRecordedPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, int64(42), payload.ProductionEntryID)
	require.Len(t, payload.Consumed, 2)
	assert.Equal(t, ConsumedPayload{ComponentID: 2, PartNumber: "C-100N", QuantityUsed: 3, NewStock: 2}, payload.Consumed[1])

	trig := w.messages[1]
	assert.Equal(t, "component/2", string(trig.Key))
	require.NoError(t, json.Unmarshal(trig.Value, &env))
	assert.Equal(t, TypeTriggerOpened, env.Type)

	var opened TriggerOpenedPayload
	require.NoError(t, json.Unmarshal(env.Data, &opened))
	assert.Equal(t, TriggerOpenedPayload{TriggerID: 5, ComponentID: 2, ProductionEntryID: 42}, opened)

	assert.NotEqual(t, header(prod, "ce-id"), header(trig, "ce-id"))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newKafkaPublisher(w)

	err := p.PublishProductionRecorded(context.Background(), domain.ProductionRecorded{ProductionEntryID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
