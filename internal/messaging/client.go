package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var deliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "delivery_requests_total",
	Help: "Outbound messaging provider requests by outcome",
}, []string{"outcome"})

// Response is a provider reply with its body already drained.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client posts message payloads to the configured provider endpoint. It never
// retries; failures are returned to the caller as *TransportError.
type Client struct {
	cfg    DeliveryConfig
	url    string
	http   *http.Client
	tracer trace.Tracer
}

// NewClient validates cfg and builds a client. A nil httpClient gets one with
// DefaultTimeout.
func NewClient(cfg DeliveryConfig, httpClient *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		cfg:    cfg,
		url:    cfg.URL(),
		http:   httpClient,
		tracer: otel.Tracer("messaging"),
	}, nil
}

func (c *Client) URL() string { return c.url }

// SendOne issues exactly one POST for a single-recipient message.
func (c *Client) SendOne(ctx context.Context, m Single) (*Response, error) {
	return c.Post(ctx, m.Payload())
}

// Send issues one POST per payload of m, in recipient order. Requests are made
// only as the consumer pulls results; breaking out of the loop stops further
// requests. Iteration ends after the first error.
func (c *Client) Send(ctx context.Context, m Message) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		for p := range m.Payloads() {
			resp, err := c.Post(ctx, p)
			if !yield(resp, err) || err != nil {
				return
			}
		}
	}
}

// Post sends one payload. A non-2xx reply is returned together with a
// *TransportError carrying its status.
func (c *Client) Post(ctx context.Context, p Payload) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "messaging.post")
	defer span.End()
	if to, ok := p["to"].(string); ok {
		span.SetAttributes(attribute.String("messaging.recipient", to))
	}
	if kind, ok := p["type"].(string); ok {
		span.SetAttributes(attribute.String("messaging.type", kind))
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		deliveryCounter.WithLabelValues("transport_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, &TransportError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		deliveryCounter.WithLabelValues("transport_error").Inc()
		span.RecordError(err)
		return nil, &TransportError{StatusCode: httpResp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		deliveryCounter.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, httpResp.Status)
		return resp, &TransportError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	deliveryCounter.WithLabelValues("sent").Inc()
	return resp, nil
}
