// Package export streams core events to a Kafka topic so external consumers
// can follow mesh activity without touching the database.
package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/meshlog/meshlog/internal/bus"
)

// exported lists the event types the bridge forwards. Internal bookkeeping
// events like cleared stay local.
var exported = map[string]bool{
	bus.EventMessageAdded:    true,
	bus.EventDeliveryUpdated: true,
	bus.EventReactionUpdated: true,
	bus.EventNodeUpdated:     true,
	bus.EventDMReceived:      true,
}

// writer is the kafka.Writer surface the bridge needs; narrowed for tests.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the JSON body of one exported event.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Time    string `json:"time"`
}

// Bridge subscribes to the event bus and forwards selected events as JSON
// messages. Delivery is best-effort: a broker outage is logged, never
// propagated back into ingest.
type Bridge struct {
	writer  writer
	events  *bus.Bus
	token   int
	timeout time.Duration
}

// NewBridge creates a bridge producing to topic on the given brokers
// (comma-separated) and subscribes it to events.
func NewBridge(brokers, topic string, events *bus.Bus) *Bridge {
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newBridge(w, events)
}

func newBridge(w writer, events *bus.Bus) *Bridge {
	b := &Bridge{writer: w, events: events, timeout: 5 * time.Second}
	b.token = events.Subscribe(b.handle)
	return b
}

// Close detaches the bridge from the bus and closes the producer.
func (b *Bridge) Close() error {
	b.events.Unsubscribe(b.token)
	return b.writer.Close()
}

func (b *Bridge) handle(evt bus.Event) {
	if !exported[evt.Type] {
		return
	}

	body, err := json.Marshal(envelope{
		ID:      uuid.NewString(),
		Type:    evt.Type,
		Payload: evt.Payload,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("failed to encode export event", "event", evt.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(evt.Type),
		Value: body,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("failed to export event", "event", evt.Type, "error", err)
	}
}
