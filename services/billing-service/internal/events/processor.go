package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/idempotency"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Processor guards the router with the idempotency store: an event id is checked before
// routing and marked only after its handler succeeded, so a failure leaves it retryable.
type Processor struct {
	guard  idempotency.Guard
	router *Router
	logger *slog.Logger
}

func NewProcessor(guard idempotency.Guard, router *Router, logger *slog.Logger) *Processor {
	return &Processor{guard: guard, router: router, logger: logger}
}

func (p *Processor) Process(ctx context.Context, env webhook.Envelope) (Result, error) {
	ctx, span := otel.Tracer("billing-service/events").Start(ctx, "billing.webhook "+env.EventType)
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.event_id", env.EventID),
		attribute.String("billing.event_type", env.EventType),
	)

	start := time.Now()
	res, err := p.process(ctx, env)
	metrics.WebhookDuration.WithLabelValues(env.EventType).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event processing failed")
		metrics.WebhookEventsTotal.WithLabelValues(env.EventType, "failed").Inc()
		p.logger.Error("webhook event failed", "event_id", env.EventID, "event_type", env.EventType, "err", err)
		return res, err
	}
	span.SetAttributes(attribute.String("billing.outcome", string(res.Outcome)))
	metrics.WebhookEventsTotal.WithLabelValues(env.EventType, string(res.Outcome)).Inc()
	p.logger.Info("webhook event handled", "event_id", env.EventID, "event_type", env.EventType, "outcome", string(res.Outcome))
	return res, nil
}

func (p *Processor) process(ctx context.Context, env webhook.Envelope) (Result, error) {
	seen, err := p.guard.HasProcessed(ctx, env.EventID)
	if err != nil {
		return Result{EventID: env.EventID, EventType: env.EventType}, fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		return Result{EventID: env.EventID, EventType: env.EventType, Outcome: OutcomeDuplicate}, nil
	}

	res, err := p.router.Route(ctx, env)
	if err != nil {
		return res, err
	}
	if err := p.guard.MarkProcessed(ctx, env.EventID, env.EventType); err != nil {
		return res, fmt.Errorf("idempotency mark: %w", err)
	}
	return res, nil
}
