package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/auditfile/internal/clock"
	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/report/document"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/internal/report/repository"
	"github.com/smallbiznis/auditfile/internal/report/validation"
	"github.com/smallbiznis/auditfile/internal/testutil"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testClientID = "client-1"
	filerNIP     = "5213017228"
	buyerNIP     = "7740001454"
)

type stubRegistry map[string]reportdomain.Taxpayer

func (r stubRegistry) Lookup(_ context.Context, clientID string) (reportdomain.Taxpayer, error) {
	tp, ok := r[clientID]
	if !ok {
		return reportdomain.Taxpayer{}, fmt.Errorf("client %s: %w", clientID, reportdomain.ErrNotFound)
	}
	return tp, nil
}

type stubLedger struct {
	transactions []reportdomain.LedgerTransaction
	err          error
}

func (l *stubLedger) ListTransactions(_ context.Context, _ string, _, _ time.Time) ([]reportdomain.LedgerTransaction, error) {
	return l.transactions, l.err
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Sign(ctx context.Context, doc []byte, signatureType reportdomain.SignatureType) ([]byte, error) {
	args := m.Called(ctx, doc, signatureType)
	signed, _ := args.Get(0).([]byte)
	return signed, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Submit(ctx context.Context, req reportdomain.SubmitRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) Poll(ctx context.Context, referenceID string, sandbox bool) (reportdomain.PollResult, error) {
	args := m.Called(ctx, referenceID, sandbox)
	return args.Get(0).(reportdomain.PollResult), args.Error(1)
}

type memoryArtifacts struct {
	mu    sync.Mutex
	seq   int
	files map[string][]byte
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{files: map[string][]byte{}}
}

func (m *memoryArtifacts) Put(_ context.Context, name string, content []byte) (reportdomain.ArtifactInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	path := fmt.Sprintf("mem/%d/%s", m.seq, name)
	m.files[path] = append([]byte(nil), content...)
	return reportdomain.ArtifactInfo{Path: path, Size: int64(len(content)), Hash: document.Hash(content)}, nil
}

func (m *memoryArtifacts) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", path, reportdomain.ErrNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (m *memoryArtifacts) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *memoryArtifacts) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memoryArtifacts) overwrite(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

type stubReceipts struct{}

func (stubReceipts) RenderReceipt(_ context.Context, report *reportdomain.Report) ([]byte, error) {
	return []byte("%PDF-" + report.ReceiptID), nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []reportdomain.StatusChangedEvent
}

func (r *recordingEvents) PublishStatusChanged(_ context.Context, event reportdomain.StatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, string(e.From)+"->"+string(e.To))
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) Log(_ context.Context, entry reportdomain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, entry.Action)
	return nil
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	artifacts *memoryArtifacts
	ledger    *stubLedger
	signer    *mockSigner
	gateway   *mockGateway
	events    *recordingEvents
	audit     *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:        testutil.NewDB(t),
		node:      testutil.NewNode(t),
		clock:     clock.NewFakeClock(time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)),
		artifacts: newMemoryArtifacts(),
		ledger:    &stubLedger{},
		signer:    new(mockSigner),
		gateway:   new(mockGateway),
		events:    &recordingEvents{},
		audit:     &recordingAudit{},
	}

	f.svc = NewService(ServiceParam{
		DB:        f.db,
		Log:       zap.NewNop(),
		GenID:     f.node,
		Clock:     f.clock,
		Config:    config.Config{AppName: "auditfile-test"},
		Repo:      repository.NewRepository(),
		Validator: validation.NewEngine(config.StaticRules(config.DefaultRuleTable()), zap.NewNop()),
		Registry: stubRegistry{
			testClientID: {ClientID: testClientID, TaxID: filerNIP, LegalName: "Acme Sp. z o.o."},
		},
		Ledger:    f.ledger,
		Signer:    f.signer,
		Gateway:   f.gateway,
		Artifacts: f.artifacts,
		Receipts:  stubReceipts{},
		Audit:     f.audit,
		Events:    f.events,
	}).(*Service)
	return f
}

func (f *fixture) createDraft(t *testing.T, month int) *reportdomain.Report {
	t.Helper()
	report, err := f.svc.Create(context.Background(), reportdomain.CreateReportRequest{
		ClientID: testClientID,
		Kind:     reportdomain.KindMonthly,
		Year:     2024,
		Month:    month,
	})
	require.NoError(t, err)
	return report
}

func saleInput(number string) reportdomain.RecordInput {
	return reportdomain.RecordInput{
		DocumentNumber:  number,
		DocumentDate:    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		CounterpartID:   buyerNIP,
		CounterpartName: "Buyer S.A.",
		NetStandard:     decimal.RequireFromString("100.00"),
		VatStandard:     decimal.RequireFromString("23.00"),
	}
}

func purchaseInput(number string) reportdomain.RecordInput {
	return reportdomain.RecordInput{
		DocumentNumber:  number,
		DocumentDate:    time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
		CounterpartID:   buyerNIP,
		CounterpartName: "Supplier S.A.",
		NetReduced:      decimal.RequireFromString("50.00"),
		VatReduced:      decimal.RequireFromString("4.00"),
	}
}

// generated builds a March 2024 report with one sale and one purchase, a
// complete declaration and a generated document.
func (f *fixture) generated(t *testing.T) *reportdomain.Report {
	t.Helper()
	ctx := context.Background()

	report := f.createDraft(t, 3)
	_, err := f.svc.AddSaleRecord(ctx, report.ID, saleInput("FV/1/2024"))
	require.NoError(t, err)
	_, err = f.svc.AddPurchaseRecord(ctx, report.ID, purchaseInput("ZK/7/2024"))
	require.NoError(t, err)
	_, err = f.svc.UpdateDeclaration(ctx, report.ID, map[string]string{"P_38": "23", "P_51": "19"})
	require.NoError(t, err)
	_, err = f.svc.GenerateXML(ctx, report.ID, false)
	require.NoError(t, err)
	return f.reload(t, report.ID)
}

func (f *fixture) signed(t *testing.T) *reportdomain.Report {
	t.Helper()
	ctx := context.Background()

	report := f.generated(t)
	res, err := f.svc.ValidateReport(ctx, reportdomain.ValidateRequest{ReportID: report.ID})
	require.NoError(t, err)
	require.True(t, res.IsValid, "%+v", res.Issues)

	f.signer.On("Sign", mock.Anything, mock.Anything, reportdomain.SignatureQualified).
		Return([]byte("<signed/>"), nil).Once()
	_, err = f.svc.SignReport(ctx, report.ID, reportdomain.SignatureQualified)
	require.NoError(t, err)
	return f.reload(t, report.ID)
}

func (f *fixture) submitted(t *testing.T, reference string) *reportdomain.Report {
	t.Helper()
	report := f.signed(t)
	f.gateway.On("Submit", mock.Anything, mock.Anything).Return(reference, nil).Once()
	_, err := f.svc.SubmitReport(context.Background(), report.ID, false)
	require.NoError(t, err)
	return f.reload(t, report.ID)
}

func (f *fixture) accepted(t *testing.T, reference string) *reportdomain.Report {
	t.Helper()
	report := f.submitted(t, reference)
	f.gateway.On("Poll", mock.Anything, reference, false).
		Return(reportdomain.PollResult{Status: reportdomain.GatewayAccepted, ReceiptID: "UPO-" + reference}, nil).Once()
	_, err := f.svc.CheckStatus(context.Background(), report.ID)
	require.NoError(t, err)
	return f.reload(t, report.ID)
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *reportdomain.Report {
	t.Helper()
	report, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return report
}

func paginationOf(size int) pagination.Pagination {
	return pagination.Pagination{PageSize: size}
}

func paginationWithToken(size int, token string) pagination.Pagination {
	return pagination.Pagination{PageSize: size, PageToken: token}
}
