// Package callback delivers pipeline run state changes to the callback URL
// registered on the run. Delivery is best effort: a failure is logged and
// never reaches the caller of Notify.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/types"
)

const DefaultTimeout = 5 * time.Second

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	PipelineRunUUID types.PipelineRunID `json:"pipeline_run_uuid"`
	State           types.RunState      `json:"state"`
}

type Option func(*Notifier)

// WithTimeout bounds a whole delivery, connection included.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithTransport replaces the base round tripper wrapped by the tracing transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(n *Notifier) {
		n.base = rt
	}
}

func WithLogger(l logs.Logger) Option {
	return func(n *Notifier) {
		n.logger = l
	}
}

type Notifier struct {
	timeout time.Duration
	base    http.RoundTripper
	client  *http.Client
	logger  logs.Logger

	deliveries metric.Int64Counter
}

func New(opts ...Option) *Notifier {
	n := &Notifier{
		timeout: DefaultTimeout,
		base:    http.DefaultTransport,
		logger:  logs.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.client = &http.Client{
		Timeout:   n.timeout,
		Transport: otelhttp.NewTransport(n.base),
	}

	meter := otel.Meter("github.com/davidroman0O/pipelite/internal/callback")
	counter, err := meter.Int64Counter(
		"pipelite.callback.deliveries",
		metric.WithDescription("Callback deliveries by outcome"),
	)
	if err != nil {
		n.logger.Warn(context.Background(), "Callback counter unavailable", "error", err)
	}
	n.deliveries = counter

	return n
}

func (n *Notifier) Timeout() time.Duration {
	return n.timeout
}

// Notify posts the new state of a run to url. An empty url is skipped.
// Failures are logged and discarded.
func (n *Notifier) Notify(ctx context.Context, url string, runID types.PipelineRunID, state types.RunState) {
	if url == "" {
		return
	}
	if err := n.Send(ctx, url, Payload{PipelineRunUUID: runID, State: state}); err != nil {
		n.logger.Warn(ctx, "Callback delivery failed", "pipeline_run.id", runID, "state", state, "callback.url", url, "error", err)
		n.record(ctx, "failed")
		return
	}
	n.logger.Debug(ctx, "Callback delivered", "pipeline_run.id", runID, "state", state)
	n.record(ctx, "delivered")
}

// Send performs one delivery and reports its failure as a
// types.ErrNotificationFailure. A non 2xx answer is a failure.
func (n *Notifier) Send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Join(types.ErrNotificationFailure, fmt.Errorf("encoding payload: %w", err))
	}

	// the delivery outlives a cancelled caller, the client timeout bounds it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Join(types.ErrNotificationFailure, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Join(types.ErrNotificationFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Join(types.ErrNotificationFailure, fmt.Errorf("callback answered %s", resp.Status))
	}
	return nil
}

func (n *Notifier) record(ctx context.Context, outcome string) {
	if n.deliveries == nil {
		return
	}
	n.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
