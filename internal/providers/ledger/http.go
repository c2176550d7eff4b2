// Package ledger reads client transactions for import into reports.
package ledger

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/smallbiznis/auditfile/internal/providers/upstream"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
)

type listResponse struct {
	Transactions []reportdomain.LedgerTransaction `json:"transactions"`
}

// HTTPLedger reads transactions from the bookkeeping service.
type HTTPLedger struct {
	http *upstream.Client
}

func NewHTTPLedger(client *upstream.Client) *HTTPLedger {
	return &HTTPLedger{http: client}
}

func (l *HTTPLedger) ListTransactions(ctx context.Context, clientID string, from, to time.Time) ([]reportdomain.LedgerTransaction, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	resp, err := l.http.Do(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   "/v1/clients/" + url.PathEscape(clientID) + "/transactions?" + query.Encode(),
	})
	if err != nil {
		return nil, err
	}

	var out listResponse
	if err := l.http.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}
