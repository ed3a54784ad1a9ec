// Package bridge publishes fleet events on NATS.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gammadia/nimbus/fleet"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Envelope wraps an event with what consumers need to deduplicate and route it.
type Envelope struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Time        time.Time   `json:"time"`
	Fingerprint string      `json:"fingerprint"`
	Event       fleet.Event `json:"event"`
}

// Publisher is implemented by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect opens a NATS connection that keeps reconnecting until closed.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("nimbus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at '%s': %w", url, err)
	}
	return nc, nil
}

type Bridge struct {
	publisher   Publisher
	subject     string
	fingerprint string
	log         *slog.Logger
	now         func() time.Time
}

func New(publisher Publisher, subject, fingerprint string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		publisher:   publisher,
		subject:     subject,
		fingerprint: fingerprint,
		log:         logger,
		now:         time.Now,
	}
}

// Run forwards events until ctx is done. Publication failures are logged and the event dropped.
func (b *Bridge) Run(ctx context.Context, events <-chan fleet.Event) {
	for {
		select {
		case event := <-events:
			if err := b.Publish(event); err != nil {
				b.log.Warn("Failed to publish fleet event", "event", fmt.Sprintf("%T", event), "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Publish sends event on '<subject>.<type>'.
func (b *Bridge) Publish(event fleet.Event) error {
	kind := eventType(event)
	envelope := Envelope{
		ID:          uuid.NewString(),
		Type:        kind,
		Time:        b.now().UTC(),
		Fingerprint: b.fingerprint,
		Event:       event,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	return b.publisher.Publish(b.subject+"."+kind, data)
}

func eventType(event fleet.Event) string {
	switch event.(type) {
	case fleet.EventNodeCreated:
		return "node-created"
	case fleet.EventNodeStatusUpdated:
		return "node-status-updated"
	case fleet.EventNodePendingDelete:
		return "node-pending-delete"
	case fleet.EventNodeOffline:
		return "node-offline"
	case fleet.EventNodeTerminated:
		return "node-terminated"
	case fleet.EventTaskStarted:
		return "task-started"
	case fleet.EventTaskCompleted:
		return "task-completed"
	default:
		return "unknown"
	}
}
