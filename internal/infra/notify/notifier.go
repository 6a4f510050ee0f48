// Package notify delivers rule side-channel events (approval required,
// notify) to a merchant-configured webhook endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/infra/resilience"
	"github.com/tabhq/tab-billing/internal/port"
)

var tracer = otel.Tracer("infra/notify")

// Webhook posts rule events as JSON to a single endpoint. Delivery is guarded
// by a circuit breaker, retried with backoff, and capped in concurrency by a
// bulkhead so a slow endpoint cannot pile up goroutines.
type Webhook struct {
	httpClient *http.Client
	url        string
	cb         *gobreaker.CircuitBreaker
	bh         *resilience.Bulkhead
	cfg        resilience.Config
	logger     *zap.Logger
}

var _ port.Notifier = (*Webhook)(nil)

// NewWebhook creates a webhook notifier for the given endpoint URL.
func NewWebhook(httpClient *http.Client, url string, cfg resilience.Config, maxConcurrency int, logger *zap.Logger) *Webhook {
	return &Webhook{
		httpClient: httpClient,
		url:        url,
		cb:         resilience.NewCircuitBreaker("webhook"),
		bh:         resilience.NewBulkhead(maxConcurrency),
		cfg:        cfg,
		logger:     logger,
	}
}

// Publish delivers one event. Callers treat failure as non-fatal; the
// assignment that triggered the event has already been decided.
func (w *Webhook) Publish(ctx context.Context, event *domain.RuleEvent) error {
	ctx, span := tracer.Start(ctx, "Webhook.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("tab.id", event.TabID),
	)

	if err := w.bh.Acquire(ctx); err != nil {
		return err
	}
	defer w.bh.Release()

	_, err := w.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, w.cfg, func() error {
			body, err := json.Marshal(event)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("webhook returned status %d", resp.StatusCode)
			}
			return nil
		})
	})

	if err != nil {
		if resilience.IsCircuitOpen(err) {
			w.logger.Warn("webhook circuit open, dropping event",
				zap.String("event_type", event.Type),
				zap.String("tab_id", event.TabID))
			return &domain.ErrCircuitOpen{Service: "webhook"}
		}
		return &domain.ErrExternalService{Service: "webhook", Err: err}
	}
	return nil
}

// Noop discards events. Used when no webhook URL is configured.
type Noop struct{}

var _ port.Notifier = (*Noop)(nil)

// Publish does nothing.
func (Noop) Publish(context.Context, *domain.RuleEvent) error { return nil }
