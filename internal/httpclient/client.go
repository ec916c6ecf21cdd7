package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTransport is the base transport used by the instrumented client.
var DefaultTransport = http.DefaultTransport

type contextKey string

const targetKey contextKey = "httpclient.target"

// WithTarget names the downstream system for tracing, e.g. "webhook" or a
// tenant backend.
func WithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, targetKey, target)
}

// targetTransport is a RoundTripper that adds target attributes to the current span.
type targetTransport struct {
	base http.RoundTripper
}

func (t *targetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	span := trace.SpanFromContext(req.Context())
	if target, ok := req.Context().Value(targetKey).(string); ok {
		span.SetAttributes(attribute.String("target", target))
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}
	return resp, nil
}

func newOtelTransport(base http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(&targetTransport{base: base},
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			target, _ := r.Context().Value(targetKey).(string)
			if target != "" {
				return fmt.Sprintf("%s: %s %s", target, r.Method, r.URL.Path)
			}
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

// InstrumentedClient is an http.Client with OpenTelemetry instrumentation.
var InstrumentedClient = &http.Client{
	Transport: newOtelTransport(DefaultTransport),
	Timeout:   60 * time.Second, // tenant APIs can be slow under throttling
}

// NewInstrumentedClient returns a new http.Client with OpenTelemetry instrumentation and custom timeout.
func NewInstrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newOtelTransport(DefaultTransport),
		Timeout:   timeout,
	}
}

// WrapClient wraps an existing http.Client's transport with OpenTelemetry instrumentation.
func WrapClient(client *http.Client) *http.Client {
	if client.Transport == nil {
		client.Transport = DefaultTransport
	}
	client.Transport = newOtelTransport(client.Transport)
	return client
}
