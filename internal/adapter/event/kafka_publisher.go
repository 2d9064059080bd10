package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
)

const (
	TypeProductionRecorded = "production.recorded"
	TypeTriggerOpened      = "procurement.trigger.opened"

	eventSource = "pcb-inventory/production"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Subject string          `json:"subject"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data"`
}

type ConsumedPayload struct {
	ComponentID  int64  `json:"component_id"`
	PartNumber   string `json:"part_number"`
	QuantityUsed int    `json:"quantity_used"`
	NewStock     int    `json:"new_stock"`
}

type ProductionRecordedPayload struct {
	ProductionEntryID int64             `json:"production_entry_id"`
	BoardID           int64             `json:"board_id"`
	QuantityProduced  int               `json:"quantity_produced"`
	Consumed          []ConsumedPayload `json:"consumed"`
}

type TriggerOpenedPayload struct {
	TriggerID         int64 `json:"trigger_id"`
	ComponentID       int64 `json:"component_id"`
	ProductionEntryID int64 `json:"production_entry_id"`
}

// KafkaPublisher publishes production events to one topic. Production events
// are keyed by board, trigger events by component, so each key's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	})
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishProductionRecorded(ctx context.Context, event domain.ProductionRecorded) error {
	payload := ProductionRecordedPayload{
		ProductionEntryID: event.ProductionEntryID,
		BoardID:           event.BoardID,
		QuantityProduced:  event.QuantityProduced,
		Consumed:          make([]ConsumedPayload, 0, len(event.Consumed)),
	}
	for _, c := range event.Consumed {
		payload.Consumed = append(payload.Consumed, ConsumedPayload(c))
	}

	msg, err := newMessage(TypeProductionRecorded, "board/"+strconv.FormatInt(event.BoardID, 10), event.CommittedAt, payload)
	if err != nil {
		return err
	}
	msgs := []kafka.Message{msg}

	for _, t := range event.TriggersOpened {
		msg, err := newMessage(TypeTriggerOpened, "component/"+strconv.FormatInt(t.ComponentID, 10), event.CommittedAt, TriggerOpenedPayload{
			TriggerID:         t.ID,
			ComponentID:       t.ComponentID,
			ProductionEntryID: event.ProductionEntryID,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write messages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func newMessage(eventType, subject string, at time.Time, data any) (kafka.Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		ID:      uuid.NewString(),
		Type:    eventType,
		Source:  eventSource,
		Subject: subject,
		Time:    at.UTC(),
		Data:    raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce-id", Value: []byte(env.ID)},
			{Key: "ce-type", Value: []byte(env.Type)},
			{Key: "ce-source", Value: []byte(env.Source)},
			{Key: "ce-time", Value: []byte(env.Time.Format(time.RFC3339Nano))},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: env.Time,
	}, nil
}
