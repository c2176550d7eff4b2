// Package upstream is the HTTP plumbing shared by the external adapters:
// request ids, timeouts and the mapping of transport failures onto
// UpstreamError categories.
package upstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/auditfile/internal/auditcontext"
	"github.com/smallbiznis/auditfile/internal/observability/tracing"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxErrorBody = 4 << 10

// Client calls one upstream service.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(name, baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("upstream." + name),
	}
}

func (c *Client) Name() string { return c.name }

// Request describes one call. Body is sent as-is with ContentType.
type Request struct {
	Method      string
	BaseURL     string
	Path        string
	Body        []byte
	ContentType string
	Header      http.Header
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body, reporting malformed payloads as
// invalid upstream responses.
func (c *Client) DecodeJSON(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryInvalid, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Do sends req. Non-2xx replies and transport failures come back as
// *reportdomain.UpstreamError; 404 is returned as reportdomain.ErrNotFound.
func (c *Client) Do(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "upstream."+c.name,
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.Path),
	)
	defer func() { tracing.EndSpan(span, err) }()

	base := c.baseURL
	if req.BaseURL != "" {
		base = strings.TrimRight(req.BaseURL, "/")
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, base+req.Path, body)
	if err != nil {
		return nil, reportdomain.NewUpstreamError(c.name, reportdomain.CategoryInternal, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	requestID := auditcontext.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = NewRequestID()
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(err)
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(httpResp.StatusCode, payload, requestID)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: payload}, nil
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryTimeout, err)
	case errors.Is(err, context.Canceled):
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryInternal, err)
	default:
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryUnavailable, err)
	}
}

func (c *Client) statusError(status int, payload []byte, requestID string) error {
	message := upstreamMessage(payload)
	c.log.Warn("upstream returned error",
		zap.Int("status", status),
		zap.String("request_id", requestID),
		zap.String("message", message),
	)

	cause := fmt.Errorf("http %d: %s", status, message)
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", c.name, reportdomain.ErrNotFound, cause)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryTimeout, cause)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryUnavailable, cause)
	default:
		return reportdomain.NewUpstreamError(c.name, reportdomain.CategoryRejected, cause)
	}
}

func upstreamMessage(payload []byte) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		switch v := body.Error.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return msg
			}
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" {
		return http.StatusText(http.StatusInternalServerError)
	}
	return text
}

// NewRequestID returns a sortable unique id for outgoing calls.
func NewRequestID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
