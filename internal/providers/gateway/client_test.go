package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/auditfile/internal/config"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type servers struct {
	production *httptest.Server
	sandbox    *httptest.Server
	client     reportdomain.SubmissionGateway
}

func newServers(t *testing.T, production, sandbox http.HandlerFunc) servers {
	t.Helper()
	s := servers{
		production: httptest.NewServer(production),
		sandbox:    httptest.NewServer(sandbox),
	}
	t.Cleanup(s.production.Close)
	t.Cleanup(s.sandbox.Close)
	s.client = NewClient(config.Config{Gateway: config.GatewayConfig{
		URL:        s.production.URL,
		SandboxURL: s.sandbox.URL,
		Timeout:    time.Second,
	}}, zap.NewNop())
	return s
}

func unexpected(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	}
}

func TestSubmitUsesSandboxAndIdempotencyKey(t *testing.T) {
	s := newServers(t, unexpected(t), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/submissions", r.URL.Path)
		assert.Equal(t, "42:abc", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "<signed/>", string(body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"reference_id":"SBX-1"}`))
	})

	ref, err := s.client.Submit(context.Background(), reportdomain.SubmitRequest{
		Document:       []byte("<signed/>"),
		Sandbox:        true,
		IdempotencyKey: "42:abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "SBX-1", ref)
}

func TestSubmitRejected(t *testing.T) {
	s := newServers(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"signature invalid"}`))
	}, unexpected(t))

	_, err := s.client.Submit(context.Background(), reportdomain.SubmitRequest{Document: []byte("x")})
	assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)
	assert.False(t, reportdomain.IsRetryable(err))
	assert.Contains(t, err.Error(), "signature invalid")
}

func TestPoll(t *testing.T) {
	s := newServers(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/submissions/REF-1":
			_, _ = w.Write([]byte(`{"status":"processing"}`))
		case "/v1/submissions/REF-2":
			_, _ = w.Write([]byte(`{"status":"ACCEPTED","receipt_id":"UPO-2","received_at":"2024-04-11T08:30:00Z"}`))
		case "/v1/submissions/REF-3":
			_, _ = w.Write([]byte(`{"status":"REJECTED","reason":"bad schema"}`))
		case "/v1/submissions/REF-4":
			_, _ = w.Write([]byte(`{"status":"LOST"}`))
		default:
			http.NotFound(w, r)
		}
	}, unexpected(t))
	ctx := context.Background()

	res, err := s.client.Poll(ctx, "REF-1", false)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.GatewayPending, res.Status)

	res, err = s.client.Poll(ctx, "REF-2", false)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.GatewayAccepted, res.Status)
	assert.Equal(t, "UPO-2", res.ReceiptID)
	require.NotNil(t, res.ReceivedAt)
	assert.Equal(t, 2024, res.ReceivedAt.Year())

	res, err = s.client.Poll(ctx, "REF-3", false)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.GatewayRejected, res.Status)
	assert.Equal(t, "bad schema", res.Reason)

	_, err = s.client.Poll(ctx, "REF-4", false)
	assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)

	_, err = s.client.Poll(ctx, "missing", false)
	assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)
	assert.NotErrorIs(t, err, reportdomain.ErrNotFound)
}
