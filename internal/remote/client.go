// Package remote is the REST client for the commerce API that owns cart,
// wishlist and order state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
	"github.com/utafrali/storefront-sync/pkg/httpclient"
	"github.com/utafrali/storefront-sync/pkg/tracing"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer credential for the current session. An
// empty token sends no Authorization header.
type TokenSource interface {
	BearerToken() string
}

// CircuitOpenFallback turns an open circuit into a NetworkFailure so the
// engines roll back and surface a transient error.
func CircuitOpenFallback(_ context.Context, err error) (*http.Response, error) {
	return nil, apperrors.NetworkFailure("commerce api", err)
}

// Client talks to the commerce API.
type Client struct {
	doer    HTTPDoer
	baseURL string
	tokens  TokenSource
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(doer HTTPDoer, baseURL string, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  logger,
		tracer:  tracing.Tracer("storefront-sync/remote"),
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// do sends one request and decodes the "data" member of the response
// envelope into out. Every error it returns is already classified.
func (c *Client) do(ctx context.Context, method, path, op string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, span, method, path, op, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.DebugContext(ctx, "commerce api call failed",
			slog.String("op", op),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// snapshot is do for calls answered with the resulting cart or wishlist.
// The engines adopt the response as authoritative, so a reply without data
// is treated as a failed call rather than an empty snapshot.
func (c *Client) snapshot(ctx context.Context, method, path, op string, in, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, op, in, &raw); err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return apperrors.NetworkFailure(op, errors.New("response carried no data"))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NetworkFailure(op, fmt.Errorf("decode response data: %w", err))
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, span trace.Span, method, path, op string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("marshal %s request: %w", op, err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("create %s request: %w", op, err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		key := uuid.NewString()
		req.Header.Set("Idempotency-Key", key)
		span.SetAttributes(attribute.String("idempotency_key", key))
	}
	if c.tokens != nil {
		if tok := c.tokens.BearerToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return httpclient.Classify(op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, op)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperrors.NetworkFailure(op, fmt.Errorf("decode response: %w", err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.NetworkFailure(op, fmt.Errorf("decode response data: %w", err))
	}
	return nil
}
