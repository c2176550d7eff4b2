// Package registry resolves clients to taxpayer details.
package registry

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
)

// HTTPRegistry looks clients up in the client registry service.
type HTTPRegistry struct {
	http *upstream.Client
}

func NewHTTPRegistry(client *upstream.Client) *HTTPRegistry {
	return &HTTPRegistry{http: client}
}

func (r *HTTPRegistry) Lookup(ctx context.Context, clientID string) (reportdomain.Taxpayer, error) {
	resp, err := r.http.Do(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   "/v1/clients/" + url.PathEscape(clientID),
	})
	if err != nil {
		return reportdomain.Taxpayer{}, err
	}

	var tp reportdomain.Taxpayer
	if err := r.http.DecodeJSON(resp, &tp); err != nil {
		return reportdomain.Taxpayer{}, err
	}
	tp.TaxID = strings.TrimSpace(tp.TaxID)
	if tp.TaxID == "" {
		return reportdomain.Taxpayer{}, reportdomain.NewUpstreamError("registry", reportdomain.CategoryInvalid, errors.New("tax_id is missing"))
	}
	if tp.ClientID == "" {
		tp.ClientID = clientID
	}
	return tp, nil
}
