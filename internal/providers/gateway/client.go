// Package gateway adapts the government submission gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider.gateway",
	fx.Provide(NewClient),
)

type submitResponse struct {
	ReferenceID string `json:"reference_id"`
}

type pollResponse struct {
	Status     string     `json:"status"`
	ReceiptID  string     `json:"receipt_id"`
	Reason     string     `json:"reason"`
	ReceivedAt *time.Time `json:"received_at"`
}

type Client struct {
	http       *upstream.Client
	sandboxURL string
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) reportdomain.SubmissionGateway {
	return &Client{
		http:       upstream.NewClient("gateway", cfg.Gateway.URL, cfg.Gateway.Timeout, log),
		sandboxURL: cfg.Gateway.SandboxURL,
		log:        log.Named("provider.gateway"),
	}
}

func (c *Client) baseURL(sandbox bool) string {
	if sandbox {
		return c.sandboxURL
	}
	return ""
}

func (c *Client) Submit(ctx context.Context, req reportdomain.SubmitRequest) (string, error) {
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(ctx, upstream.Request{
		Method:      http.MethodPost,
		BaseURL:     c.baseURL(req.Sandbox),
		Path:        "/v1/submissions",
		Body:        req.Document,
		ContentType: "application/xml",
		Header:      header,
	})
	if err != nil {
		return "", notFoundAsRejected(err)
	}

	var out submitResponse
	if err := c.http.DecodeJSON(resp, &out); err != nil {
		return "", err
	}
	reference := strings.TrimSpace(out.ReferenceID)
	if reference == "" {
		return "", reportdomain.NewUpstreamError("gateway", reportdomain.CategoryInvalid, errors.New("reference_id is missing"))
	}

	c.log.Info("document submitted", zap.String("reference_id", reference), zap.Bool("sandbox", req.Sandbox))
	return reference, nil
}

func (c *Client) Poll(ctx context.Context, referenceID string, sandbox bool) (reportdomain.PollResult, error) {
	resp, err := c.http.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		BaseURL: c.baseURL(sandbox),
		Path:    "/v1/submissions/" + url.PathEscape(referenceID),
	})
	if err != nil {
		return reportdomain.PollResult{}, notFoundAsRejected(err)
	}

	var out pollResponse
	if err := c.http.DecodeJSON(resp, &out); err != nil {
		return reportdomain.PollResult{}, err
	}

	result := reportdomain.PollResult{
		ReceiptID:  strings.TrimSpace(out.ReceiptID),
		Reason:     strings.TrimSpace(out.Reason),
		ReceivedAt: out.ReceivedAt,
	}
	switch strings.ToUpper(strings.TrimSpace(out.Status)) {
	case "PENDING", "PROCESSING", "RECEIVED":
		result.Status = reportdomain.GatewayPending
	case "ACCEPTED":
		result.Status = reportdomain.GatewayAccepted
	case "REJECTED":
		result.Status = reportdomain.GatewayRejected
	default:
		return reportdomain.PollResult{}, reportdomain.NewUpstreamError("gateway", reportdomain.CategoryInvalid,
			fmt.Errorf("unknown status %q", out.Status))
	}
	return result, nil
}

// An unknown endpoint or reference is a permanent failure, not a missing report.
func notFoundAsRejected(err error) error {
	if errors.Is(err, reportdomain.ErrNotFound) {
		return reportdomain.NewUpstreamError("gateway", reportdomain.CategoryRejected, errors.New(err.Error()))
	}
	return err
}
