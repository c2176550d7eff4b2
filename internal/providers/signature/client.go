// Package signature adapts the external signing service.
package signature

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider.signature",
	fx.Provide(NewClient),
)

type signRequest struct {
	Document      string `json:"document"`
	SignatureType string `json:"signature_type"`
}

type signResponse struct {
	SignedDocument string `json:"signed_document"`
}

type Client struct {
	http *upstream.Client
}

func NewClient(cfg config.Config, log *zap.Logger) reportdomain.SignatureProvider {
	return &Client{http: upstream.NewClient("signer", cfg.Signer.URL, cfg.Signer.Timeout, log)}
}

func (c *Client) Sign(ctx context.Context, document []byte, signatureType reportdomain.SignatureType) ([]byte, error) {
	if !signatureType.Valid() {
		return nil, reportdomain.ErrInvalidSignatureType
	}

	body, err := json.Marshal(signRequest{
		Document:      base64.StdEncoding.EncodeToString(document),
		SignatureType: string(signatureType),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, upstream.Request{
		Method:      http.MethodPost,
		Path:        "/v1/sign",
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var out signResponse
	if err := c.http.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	signed, err := base64.StdEncoding.DecodeString(out.SignedDocument)
	if err != nil || len(signed) == 0 {
		return nil, reportdomain.NewUpstreamError("signer", reportdomain.CategoryInvalid, errors.New("signed_document is missing or not base64"))
	}
	return signed, nil
}
