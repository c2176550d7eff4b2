package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("draft carries registry details", func(t *testing.T) {
		report := f.createDraft(t, 3)
		assert.Equal(t, reportdomain.StatusDraft, report.Status)
		assert.Equal(t, reportdomain.PurposeFirst, report.Purpose)
		assert.Equal(t, filerNIP, report.FilerTaxID)
		assert.Equal(t, "2024-03", report.PeriodKey)
		assert.Contains(t, f.audit.actions, "report.created")
	})

	t.Run("second first filing for the period conflicts", func(t *testing.T) {
		_, err := f.svc.Create(ctx, reportdomain.CreateReportRequest{
			ClientID: testClientID, Kind: reportdomain.KindMonthly, Year: 2024, Month: 3,
		})
		assert.ErrorIs(t, err, reportdomain.ErrConflict)
	})

	t.Run("quarterly report for the same months is a different filing", func(t *testing.T) {
		report, err := f.svc.Create(ctx, reportdomain.CreateReportRequest{
			ClientID: testClientID, Kind: reportdomain.KindQuarterly, Year: 2024, Quarter: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, "2024-Q1", report.PeriodKey)
	})

	t.Run("invalid month", func(t *testing.T) {
		_, err := f.svc.Create(ctx, reportdomain.CreateReportRequest{
			ClientID: testClientID, Kind: reportdomain.KindMonthly, Year: 2024, Month: 13,
		})
		assert.ErrorIs(t, err, reportdomain.ErrInvalidPeriod)
		assert.True(t, reportdomain.IsInputError(err))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := f.svc.Create(ctx, reportdomain.CreateReportRequest{
			ClientID: testClientID, Kind: "JPK_FA", Year: 2024, Month: 1,
		})
		assert.ErrorIs(t, err, reportdomain.ErrInvalidKind)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := f.svc.Create(ctx, reportdomain.CreateReportRequest{
			ClientID: "nobody", Kind: reportdomain.KindMonthly, Year: 2024, Month: 1,
		})
		assert.ErrorIs(t, err, reportdomain.ErrNotFound)
	})
}

func TestRecordsAreNumberedPerReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := f.createDraft(t, 3)

	first, err := f.svc.AddSaleRecord(ctx, report.ID, saleInput("FV/1"))
	require.NoError(t, err)
	second, err := f.svc.AddPurchaseRecord(ctx, report.ID, purchaseInput("ZK/1"))
	require.NoError(t, err)
	third, err := f.svc.AddSaleRecord(ctx, report.ID, saleInput("FV/2"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.RecordNumber)
	assert.Equal(t, 2, second.RecordNumber)
	assert.Equal(t, 3, third.RecordNumber)

	reloaded := f.reload(t, report.ID)
	assert.Equal(t, 3, reloaded.TotalRecords)
	assert.Equal(t, 2, reloaded.SaleCount)
	assert.Equal(t, 1, reloaded.PurchaseCount)

	records, err := f.svc.ListRecords(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, reportdomain.RecordPurchase, records[1].Kind)

	_, err = f.svc.AddSaleRecord(ctx, report.ID, reportdomain.RecordInput{DocumentNumber: "no date"})
	assert.ErrorIs(t, err, reportdomain.ErrInvalidRecord)
}

func TestRecordCodesMustBeElementNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := f.createDraft(t, 3)

	bad := saleInput("FV/1")
	bad.GTUCodes = []string{"GTU 01"}
	_, err := f.svc.AddSaleRecord(ctx, report.ID, bad)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidRecord)

	bad = purchaseInput("ZK/1")
	bad.ProcedureCodes = []string{"MPP\"><x"}
	_, err = f.svc.AddPurchaseRecord(ctx, report.ID, bad)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidRecord)
	assert.Equal(t, 0, f.reload(t, report.ID).TotalRecords)

	good := saleInput("FV/2")
	good.GTUCodes = []string{" gtu_01 "}
	record, err := f.svc.AddSaleRecord(ctx, report.ID, good)
	require.NoError(t, err)
	assert.Equal(t, []string{"GTU_01"}, []string(record.GTUCodes))

	f.ledger.transactions = []reportdomain.LedgerTransaction{{
		ExternalID: "tx-1", Direction: reportdomain.RecordSale, DocumentNumber: "FV/3",
		DocumentDate: time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), CounterpartID: buyerNIP,
		GTUCodes: []string{"GTU 12"},
		Amounts:  []reportdomain.BracketAmount{{Bracket: "standard", Net: decimal.NewFromInt(100), Vat: decimal.NewFromInt(23)}},
	}}
	res, err := f.svc.ImportFromLedger(ctx, reportdomain.ImportRequest{ReportID: report.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "tx-1", res.Errors[0].ExternalID)
}

func TestRecordsFrozenAfterGeneration(t *testing.T) {
	f := newFixture(t)
	report := f.generated(t)

	_, err := f.svc.AddSaleRecord(context.Background(), report.ID, saleInput("FV/9"))
	require.Error(t, err)
	assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)

	var statusErr *reportdomain.TransitionError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, reportdomain.StatusGenerated, statusErr.Current)
	assert.Equal(t, []reportdomain.Status{reportdomain.StatusDraft}, statusErr.Required)
}

func TestImportFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := f.createDraft(t, 3)

	march := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	f.ledger.transactions = []reportdomain.LedgerTransaction{
		{
			ExternalID: "tx-1", Direction: reportdomain.RecordSale, DocumentNumber: "FV/10",
			DocumentDate: march, CounterpartID: buyerNIP, CounterpartName: "Buyer",
			Amounts: []reportdomain.BracketAmount{{Bracket: "standard", Net: decimal.NewFromInt(200), Vat: decimal.NewFromInt(46)}},
		},
		{
			ExternalID: "tx-2", Direction: reportdomain.RecordPurchase, DocumentNumber: "ZK/10",
			DocumentDate: march, CounterpartID: buyerNIP, CounterpartName: "Supplier",
			Amounts: []reportdomain.BracketAmount{{Bracket: "exempt", Net: decimal.NewFromInt(80)}},
		},
		{
			ExternalID: "tx-3", Direction: reportdomain.RecordSale, DocumentNumber: "FV/11",
			DocumentDate: march, CounterpartID: buyerNIP,
			Amounts: []reportdomain.BracketAmount{{Bracket: "luxury", Net: decimal.NewFromInt(1)}},
		},
		{
			ExternalID: "tx-4", Direction: reportdomain.RecordSale, DocumentNumber: "FV/12",
			DocumentDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), CounterpartID: buyerNIP,
			Amounts: []reportdomain.BracketAmount{{Bracket: "standard", Net: decimal.NewFromInt(10), Vat: decimal.NewFromFloat(2.3)}},
		},
	}

	res, err := f.svc.ImportFromLedger(ctx, reportdomain.ImportRequest{ReportID: report.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "tx-3", res.Errors[0].ExternalID)
	assert.Equal(t, "tx-4", res.Errors[1].ExternalID)
	assert.Equal(t, 2, res.Report.TotalRecords)

	// a second import without overwrite appends
	res, err = f.svc.ImportFromLedger(ctx, reportdomain.ImportRequest{ReportID: report.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Report.TotalRecords)

	res, err = f.svc.ImportFromLedger(ctx, reportdomain.ImportRequest{ReportID: report.ID, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.TotalRecords)

	records, err := f.svc.ListRecords(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].RecordNumber)
	assert.Equal(t, "tx-1", records[0].ExternalID)
	assert.True(t, records[1].NetExempt.Equal(decimal.NewFromInt(80)))
}

func TestImportUpstreamFailureLeavesRecordsUntouched(t *testing.T) {
	f := newFixture(t)
	report := f.createDraft(t, 3)
	f.ledger.err = reportdomain.NewUpstreamError("ledger", reportdomain.CategoryUnavailable, errors.New("503"))

	_, err := f.svc.ImportFromLedger(context.Background(), reportdomain.ImportRequest{ReportID: report.ID, Overwrite: true})
	assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)
	assert.True(t, reportdomain.IsRetryable(err))
	assert.Equal(t, 0, f.reload(t, report.ID).TotalRecords)
}

func TestGenerateXML(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := f.generated(t)

	assert.Equal(t, reportdomain.StatusGenerated, report.Status)
	assert.NotEmpty(t, report.XMLHash)
	assert.True(t, report.NetTotal.Equal(decimal.NewFromInt(150)))
	assert.True(t, report.VatTotal.Equal(decimal.NewFromInt(27)))

	doc, err := f.svc.DownloadXML(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.XMLHash, doc.Hash)
	assert.Equal(t, "JPK_V7M_client-1_2024-03.xml", doc.Name)

	_, err = f.svc.GenerateXML(ctx, report.ID, false)
	assert.ErrorIs(t, err, reportdomain.ErrAlreadyExists)
	assert.ErrorIs(t, err, reportdomain.ErrConflict)

	f.clock.Advance(time.Hour)
	res, err := f.svc.GenerateXML(ctx, report.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, report.XMLPath, res.Path)
	assert.False(t, f.artifacts.has(report.XMLPath))
	assert.Equal(t, 2, res.RecordCount)
}

func TestGenerateRejectedOnceFiled(t *testing.T) {
	f := newFixture(t)
	report := f.submitted(t, "REF-1")

	_, err := f.svc.GenerateXML(context.Background(), report.ID, true)
	assert.ErrorIs(t, err, reportdomain.ErrConflict)
	assert.Equal(t, reportdomain.StatusSubmitted, f.reload(t, report.ID).Status)
}

func TestDownloadXMLDetectsTampering(t *testing.T) {
	f := newFixture(t)
	report := f.generated(t)
	f.artifacts.overwrite(report.XMLPath, []byte("<tampered/>"))

	_, err := f.svc.DownloadXML(context.Background(), report.ID)
	assert.ErrorIs(t, err, reportdomain.ErrFatal)

	reloaded := f.reload(t, report.ID)
	assert.Equal(t, reportdomain.StatusError, reloaded.Status)
	assert.NotEmpty(t, reloaded.LastError)

	require.NoError(t, f.svc.Delete(context.Background(), report.ID))
	_, err = f.svc.Get(context.Background(), report.ID)
	assert.ErrorIs(t, err, reportdomain.ErrNotFound)
}

func TestValidateReport(t *testing.T) {
	ctx := context.Background()

	t.Run("without a document", func(t *testing.T) {
		f := newFixture(t)
		report := f.createDraft(t, 3)

		res, err := f.svc.ValidateReport(ctx, reportdomain.ValidateRequest{ReportID: report.ID})
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, reportdomain.IssueXMLNotGenerated, res.Issues[0].Code)
		assert.Equal(t, reportdomain.StatusDraft, f.reload(t, report.ID).Status)
	})

	t.Run("issues keep the report generated", func(t *testing.T) {
		f := newFixture(t)
		report := f.createDraft(t, 3)
		bad := saleInput("FV/1")
		bad.CounterpartID = "5213017229"
		_, err := f.svc.AddSaleRecord(ctx, report.ID, bad)
		require.NoError(t, err)
		_, err = f.svc.GenerateXML(ctx, report.ID, false)
		require.NoError(t, err)

		res, err := f.svc.ValidateReport(ctx, reportdomain.ValidateRequest{ReportID: report.ID, Business: true})
		require.NoError(t, err)
		assert.False(t, res.IsValid)

		codes := map[string]bool{}
		for _, issue := range res.Issues {
			codes[issue.Code] = true
		}
		assert.True(t, codes[reportdomain.IssueInvalidNIP])
		assert.True(t, codes[reportdomain.IssueMissingDeclarationField])

		reloaded := f.reload(t, report.ID)
		assert.Equal(t, reportdomain.StatusGenerated, reloaded.Status)
		assert.NotEmpty(t, reloaded.LastError)
		assert.Equal(t, []string{"DRAFT->GENERATED"}, f.events.transitions())
	})

	t.Run("clean report becomes validated", func(t *testing.T) {
		f := newFixture(t)
		report := f.generated(t)

		res, err := f.svc.ValidateReport(ctx, reportdomain.ValidateRequest{ReportID: report.ID})
		require.NoError(t, err)
		assert.True(t, res.IsValid, "%+v", res.Issues)
		assert.Equal(t, "builtin-1", res.RuleVersion)
		assert.Equal(t, reportdomain.StatusValidated, f.reload(t, report.ID).Status)
	})
}

func TestUpdateDeclarationResetsGeneratedReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report := f.generated(t)

	updated, err := f.svc.UpdateDeclaration(ctx, report.ID, map[string]string{"P_38": "24", "P_51": ""})
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusDraft, updated.Status)
	assert.Empty(t, updated.XMLPath)
	assert.Empty(t, updated.XMLHash)
	assert.Equal(t, "24", updated.DeclarationFields()["P_38"])
	_, present := updated.DeclarationFields()["P_51"]
	assert.False(t, present)
	assert.False(t, f.artifacts.has(report.XMLPath))

	_, err = f.svc.UpdateDeclaration(ctx, report.ID, map[string]string{"P 38": "1"})
	assert.ErrorIs(t, err, reportdomain.ErrInvalidDeclaration)
}

func TestSignReport(t *testing.T) {
	ctx := context.Background()

	t.Run("provider failure reverts", func(t *testing.T) {
		f := newFixture(t)
		report := f.generated(t)
		f.signer.On("Sign", mock.Anything, mock.Anything, reportdomain.SignatureTrustedProfile).
			Return(nil, reportdomain.NewUpstreamError("signer", reportdomain.CategoryTimeout, context.DeadlineExceeded)).Once()

		_, err := f.svc.SignReport(ctx, report.ID, reportdomain.SignatureTrustedProfile)
		assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)
		assert.True(t, reportdomain.IsRetryable(err))

		reloaded := f.reload(t, report.ID)
		assert.Equal(t, reportdomain.StatusGenerated, reloaded.Status)
		assert.Empty(t, reloaded.SignedPath)
		assert.NotEmpty(t, reloaded.LastError)
	})

	t.Run("signed once", func(t *testing.T) {
		f := newFixture(t)
		report := f.signed(t)
		assert.Equal(t, reportdomain.StatusSigned, report.Status)
		assert.Equal(t, reportdomain.SignatureQualified, report.SignatureType)
		assert.True(t, f.artifacts.has(report.SignedPath))

		_, err := f.svc.SignReport(ctx, report.ID, reportdomain.SignatureQualified)
		assert.ErrorIs(t, err, reportdomain.ErrAlreadyExists)

		_, err = f.svc.SignReport(ctx, report.ID, "STAMP")
		assert.ErrorIs(t, err, reportdomain.ErrInvalidSignatureType)
	})

	t.Run("regenerating drops the signature", func(t *testing.T) {
		f := newFixture(t)
		report := f.signed(t)

		_, err := f.svc.GenerateXML(ctx, report.ID, true)
		require.NoError(t, err)

		reloaded := f.reload(t, report.ID)
		assert.Equal(t, reportdomain.StatusGenerated, reloaded.Status)
		assert.Empty(t, reloaded.SignedPath)
		assert.False(t, f.artifacts.has(report.SignedPath))
	})
}

func TestSubmitReport(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a signature", func(t *testing.T) {
		f := newFixture(t)
		report := f.generated(t)

		_, err := f.svc.SubmitReport(ctx, report.ID, false)
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)
		assert.Contains(t, err.Error(), "signed before submission")
		f.gateway.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("gateway failure reverts to signed", func(t *testing.T) {
		f := newFixture(t)
		report := f.signed(t)
		f.gateway.On("Submit", mock.Anything, mock.Anything).
			Return("", reportdomain.NewUpstreamError("gateway", reportdomain.CategoryUnavailable, errors.New("502"))).Once()

		_, err := f.svc.SubmitReport(ctx, report.ID, true)
		assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)

		reloaded := f.reload(t, report.ID)
		assert.Equal(t, reportdomain.StatusSigned, reloaded.Status)
		assert.Empty(t, reloaded.ReferenceID)
	})

	t.Run("records reference and test mode", func(t *testing.T) {
		f := newFixture(t)
		report := f.signed(t)

		var keys []string
		f.gateway.On("Submit", mock.Anything, mock.MatchedBy(func(req reportdomain.SubmitRequest) bool {
			return req.Sandbox && string(req.Document) == "<signed/>"
		})).Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(reportdomain.SubmitRequest).IdempotencyKey)
		}).Return("REF-42", nil).Once()

		submitted, err := f.svc.SubmitReport(ctx, report.ID, true)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusSubmitted, submitted.Status)
		assert.Equal(t, "REF-42", submitted.ReferenceID)
		assert.True(t, submitted.TestMode)
		require.Len(t, keys, 1)
		assert.Contains(t, keys[0], report.ID.String()+":")

		_, err = f.svc.SubmitReport(ctx, report.ID, true)
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)
	})
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("not yet submitted", func(t *testing.T) {
		f := newFixture(t)
		report := f.createDraft(t, 3)

		res, err := f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusDraft, res.Status)
		assert.Equal(t, "not yet submitted", res.Message)
	})

	t.Run("poll outlives a canceled caller", func(t *testing.T) {
		f := newFixture(t)
		report := f.submitted(t, "REF-9")

		callerCtx, cancel := context.WithCancel(ctx)
		cancel()
		f.gateway.On("Poll", mock.Anything, "REF-9", false).
			Run(func(args mock.Arguments) {
				pollCtx := args.Get(0).(context.Context)
				assert.NoError(t, pollCtx.Err())
				_, bounded := pollCtx.Deadline()
				assert.True(t, bounded)
			}).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayAccepted, ReceiptID: "UPO-9"}, nil).Once()

		res, err := f.svc.CheckStatus(callerCtx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusAccepted, res.Status)
		assert.Equal(t, reportdomain.StatusAccepted, f.reload(t, report.ID).Status)
		f.gateway.AssertExpectations(t)
	})

	t.Run("pending then accepted", func(t *testing.T) {
		f := newFixture(t)
		report := f.submitted(t, "REF-7")
		received := time.Date(2024, 4, 11, 8, 30, 0, 0, time.UTC)

		f.gateway.On("Poll", mock.Anything, "REF-7", false).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayPending}, nil).Once()
		res, err := f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusSubmitted, res.Status)
		assert.False(t, res.Changed)

		f.gateway.On("Poll", mock.Anything, "REF-7", false).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayAccepted, ReceiptID: "UPO-7", ReceivedAt: &received}, nil).Once()
		res, err = f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusAccepted, res.Status)
		assert.Equal(t, "UPO-7", res.ReceiptID)
		assert.True(t, res.Changed)
		require.NotNil(t, res.ReceivedAt)
		assert.True(t, received.Equal(*res.ReceivedAt))

		// terminal outcomes are served from storage
		res, err = f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusAccepted, res.Status)
		f.gateway.AssertNumberOfCalls(t, "Poll", 2)

		receipt, err := f.svc.DownloadReceipt(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, "UPO-7", receipt.ReceiptID)
		assert.Equal(t, []byte("%PDF-UPO-7"), receipt.PDF)

		assert.Equal(t, []string{
			"DRAFT->GENERATED",
			"GENERATED->VALIDATED",
			"VALIDATED->SIGNED",
			"SIGNED->SUBMITTED",
			"SUBMITTED->ACCEPTED",
		}, f.events.transitions())
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t)
		report := f.submitted(t, "REF-8")
		f.gateway.On("Poll", mock.Anything, "REF-8", false).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayRejected, Reason: "schema error"}, nil).Once()

		res, err := f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusRejected, res.Status)
		assert.Equal(t, "schema error", res.Reason)

		_, err = f.svc.DownloadReceipt(ctx, report.ID)
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)
		assert.Contains(t, err.Error(), "receipt not yet available")
	})

	t.Run("poll failure changes nothing", func(t *testing.T) {
		f := newFixture(t)
		report := f.submitted(t, "REF-9")
		f.gateway.On("Poll", mock.Anything, "REF-9", false).
			Return(reportdomain.PollResult{}, reportdomain.NewUpstreamError("gateway", reportdomain.CategoryTimeout, context.DeadlineExceeded)).Once()

		_, err := f.svc.CheckStatus(ctx, report.ID)
		assert.ErrorIs(t, err, reportdomain.ErrUpstreamFailure)
		assert.Equal(t, reportdomain.StatusSubmitted, f.reload(t, report.ID).Status)
	})
}

func TestCreateCorrection(t *testing.T) {
	ctx := context.Background()

	t.Run("draft cannot be corrected", func(t *testing.T) {
		f := newFixture(t)
		report := f.createDraft(t, 3)

		_, err := f.svc.CreateCorrection(ctx, report.ID, "typo")
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)
	})

	t.Run("chain of corrections", func(t *testing.T) {
		f := newFixture(t)
		original := f.accepted(t, "REF-1")

		first, err := f.svc.CreateCorrection(ctx, original.ID, "wrong counterpart")
		require.NoError(t, err)
		assert.Equal(t, reportdomain.StatusDraft, first.Status)
		assert.Equal(t, reportdomain.PurposeCorrection, first.Purpose)
		require.NotNil(t, first.CorrectionNumber)
		assert.Equal(t, 1, *first.CorrectionNumber)
		require.NotNil(t, first.OriginalReportID)
		assert.Equal(t, original.ID, *first.OriginalReportID)
		assert.Equal(t, "2024-03", first.PeriodKey)
		assert.Equal(t, "23", first.DeclarationFields()["P_38"])

		records, err := f.svc.ListRecords(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, 1, records[0].RecordNumber)
		assert.Equal(t, 2, records[1].RecordNumber)

		reloaded := f.reload(t, original.ID)
		assert.Equal(t, reportdomain.StatusCorrected, reloaded.Status)
		assert.Equal(t, "UPO-REF-1", reloaded.ReceiptID)

		// an unfiled correction cannot itself be corrected
		_, err = f.svc.CreateCorrection(ctx, first.ID, "again")
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)

		// the original stays correctable and numbering continues
		second, err := f.svc.CreateCorrection(ctx, original.ID, "another fix")
		require.NoError(t, err)
		assert.Equal(t, 2, *second.CorrectionNumber)
		assert.Equal(t, original.ID, *second.OriginalReportID)

		// a correction can be generated with its own header
		_, err = f.svc.GenerateXML(ctx, first.ID, false)
		require.NoError(t, err)
		doc, err := f.svc.DownloadXML(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "JPK_V7M_client-1_2024-03_K1.xml", doc.Name)
		assert.Contains(t, string(doc.Content), "wrong counterpart")
	})

	t.Run("filed correction is superseded by the next one", func(t *testing.T) {
		f := newFixture(t)
		original := f.accepted(t, "REF-3")

		first, err := f.svc.CreateCorrection(ctx, original.ID, "wrong counterpart")
		require.NoError(t, err)
		_, err = f.svc.GenerateXML(ctx, first.ID, false)
		require.NoError(t, err)
		res, err := f.svc.ValidateReport(ctx, reportdomain.ValidateRequest{ReportID: first.ID})
		require.NoError(t, err)
		require.True(t, res.IsValid, "%+v", res.Issues)
		f.signer.On("Sign", mock.Anything, mock.Anything, reportdomain.SignatureQualified).
			Return([]byte("<signed/>"), nil).Once()
		_, err = f.svc.SignReport(ctx, first.ID, reportdomain.SignatureQualified)
		require.NoError(t, err)
		f.gateway.On("Submit", mock.Anything, mock.Anything).Return("REF-3-K1", nil).Once()
		_, err = f.svc.SubmitReport(ctx, first.ID, false)
		require.NoError(t, err)
		require.Equal(t, reportdomain.StatusSubmitted, f.reload(t, first.ID).Status)

		second, err := f.svc.CreateCorrection(ctx, first.ID, "wrong amount")
		require.NoError(t, err)
		assert.Equal(t, 2, *second.CorrectionNumber)
		assert.Equal(t, original.ID, *second.OriginalReportID)

		superseded := f.reload(t, first.ID)
		assert.Equal(t, reportdomain.StatusCorrected, superseded.Status)
		assert.Equal(t, "REF-3-K1", superseded.ReferenceID)
		assert.Equal(t, reportdomain.StatusCorrected, f.reload(t, original.ID).Status)

		// the superseded filing can still learn its gateway outcome
		f.gateway.On("Poll", mock.Anything, "REF-3-K1", false).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayAccepted, ReceiptID: "UPO-K1"}, nil).Once()
		status, err := f.svc.CheckStatus(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "UPO-K1", status.ReceiptID)
		assert.Equal(t, reportdomain.StatusCorrected, f.reload(t, first.ID).Status)
	})

	t.Run("rejected filing cannot be corrected", func(t *testing.T) {
		f := newFixture(t)
		report := f.submitted(t, "REF-2")
		f.gateway.On("Poll", mock.Anything, "REF-2", false).
			Return(reportdomain.PollResult{Status: reportdomain.GatewayRejected, Reason: "bad"}, nil).Once()
		_, err := f.svc.CheckStatus(ctx, report.ID)
		require.NoError(t, err)

		_, err = f.svc.CreateCorrection(ctx, report.ID, "fix")
		assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)
	})
}

func TestDeleteOnlyDraftOrError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	generated := f.generated(t)
	err := f.svc.Delete(ctx, generated.ID)
	assert.ErrorIs(t, err, reportdomain.ErrPreconditionFailed)

	draft := f.createDraft(t, 5)
	_, err = f.svc.AddSaleRecord(ctx, draft.ID, saleInput("FV/5"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, draft.ID))

	_, err = f.svc.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, reportdomain.ErrReportNotFound)

	// the period is free again
	again := f.createDraft(t, 5)
	assert.Equal(t, reportdomain.StatusDraft, again.Status)
}

func TestListReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for month := 1; month <= 3; month++ {
		f.createDraft(t, month)
	}

	page, err := f.svc.List(ctx, reportdomain.ListReportRequest{ClientID: testClientID, Pagination: paginationOf(2)})
	require.NoError(t, err)
	require.Len(t, page.Reports, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	next, err := f.svc.List(ctx, reportdomain.ListReportRequest{
		ClientID:   testClientID,
		Pagination: paginationWithToken(2, page.NextPageToken),
	})
	require.NoError(t, err)
	require.Len(t, next.Reports, 1)
	assert.False(t, next.HasMore)

	_, err = f.svc.List(ctx, reportdomain.ListReportRequest{Pagination: paginationWithToken(2, "%%%")})
	assert.ErrorIs(t, err, reportdomain.ErrInvalidPageToken)
}
