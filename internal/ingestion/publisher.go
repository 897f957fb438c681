package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes engine events to NATS for downstream consumers.
// Subjects follow the pattern: vault.ledger.events.{event_type}.{vault_id}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the wire form of an outbound event.
type PublishableEvent struct {
	Sequence  int64      `json:"sequence"`
	EventType string     `json:"event_type"`
	VaultID   string     `json:"vault_id"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	Payload   any        `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: consumers can query the event log directly.
				op.logger.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.WithLabelValues(out.Envelope.EventType.String()).Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		VaultID:   env.VaultID,
		AccountID: env.AccountID,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.ledger.events.%s.%s", evt.EventType, evt.VaultID)
	if _, err := op.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if op.metrics != nil {
		op.metrics.EventsPublished.WithLabelValues(evt.EventType).Inc()
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_LEDGER_EVENTS",
		Subjects:  []string{"vault.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
