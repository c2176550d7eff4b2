package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusDraft, StatusGenerating, StatusGenerated, StatusValidating, StatusValidated,
	StatusSigning, StatusSigned, StatusSubmitting, StatusSubmitted, StatusAccepted,
	StatusRejected, StatusCorrected, StatusError,
}

func TestCheckOperationNamesRequiredStatus(t *testing.T) {
	err := CheckOperation(StatusValidated, OpSubmit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreconditionFailed))

	var statusErr *TransitionError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, []Status{StatusSigned}, statusErr.Required)
	assert.Contains(t, err.Error(), "SIGNED")
}

func TestErrorStatusOnlyAllowsDelete(t *testing.T) {
	for op := range allowedOperations {
		if op == OpDelete {
			assert.True(t, Allowed(StatusError, op))
			continue
		}
		assert.False(t, Allowed(StatusError, op), op)
	}
}

func TestRecordMutationsRequireDraft(t *testing.T) {
	for _, s := range allStatuses {
		assert.Equal(t, s == StatusDraft, Allowed(s, OpAddRecord), s)
		assert.Equal(t, s == StatusDraft, Allowed(s, OpImportRecords), s)
	}
}

func TestCorrectionRequiresFiledOriginal(t *testing.T) {
	assert.Error(t, CheckOperation(StatusDraft, OpCorrect))
	assert.NoError(t, CheckOperation(StatusSubmitted, OpCorrect))
	assert.NoError(t, CheckOperation(StatusAccepted, OpCorrect))
	assert.Error(t, CheckOperation(StatusRejected, OpCorrect))
}

func TestTerminalStatusesHaveNoForwardTransitions(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusError, StatusCorrected} {
		for _, to := range allStatuses {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.True(t, CanTransition(StatusAccepted, StatusCorrected))
	assert.False(t, CanTransition(StatusAccepted, StatusError))
}

func TestErrorReachableFromNonTerminalStatuses(t *testing.T) {
	for _, s := range allStatuses {
		switch s {
		case StatusAccepted, StatusRejected, StatusCorrected, StatusError:
			continue
		}
		assert.True(t, CanTransition(s, StatusError), s)
	}
}

func TestInFlightStatusesRevert(t *testing.T) {
	for _, op := range []Operation{OpGenerate, OpValidate, OpSign, OpSubmit} {
		inflight, ok := InFlightStatus(op)
		require.True(t, ok)
		assert.True(t, inflight.IsInFlight())
		for _, from := range RequiredStatuses(op) {
			assert.True(t, CanTransition(from, inflight), "%s -> %s", from, inflight)
			assert.True(t, CanTransition(inflight, from), "%s -> %s", inflight, from)
		}
	}
}

func TestPeriodWindow(t *testing.T) {
	start, end := Period{Kind: KindMonthly, Year: 2024, Month: 12}.Window()
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)

	p := Period{Kind: KindQuarterly, Year: 2024, Quarter: 2}
	start, end = p.Window()
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, "2024-Q2", p.Key())
	assert.True(t, p.Contains(start))
	assert.False(t, p.Contains(end))
}

func TestPeriodValidate(t *testing.T) {
	assert.NoError(t, Period{Kind: KindMonthly, Year: 2024, Month: 3}.Validate())
	assert.ErrorIs(t, Period{Kind: KindMonthly, Year: 2024, Month: 3, Quarter: 1}.Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{Kind: KindQuarterly, Year: 2024, Quarter: 5}.Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{Kind: KindMonthly, Year: 2019, Month: 1}.Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{Kind: "JPK_FA", Year: 2024, Month: 1}.Validate(), ErrInvalidKind)
}

func TestUpstreamErrorClassification(t *testing.T) {
	timeout := NewUpstreamError("gateway", CategoryTimeout, errors.New("deadline exceeded"))
	assert.True(t, errors.Is(timeout, ErrUpstreamFailure))
	assert.True(t, IsRetryable(timeout))

	rejected := NewUpstreamError("signer", CategoryRejected, nil)
	assert.True(t, errors.Is(rejected, ErrUpstreamFailure))
	assert.False(t, IsRetryable(rejected))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestAlreadyExistsIsConflict(t *testing.T) {
	assert.True(t, errors.Is(ErrAlreadyExists, ErrConflict))
	assert.True(t, errors.Is(ErrReportNotFound, ErrNotFound))
	assert.True(t, IsInputError(ErrInvalidPeriod))
	assert.False(t, IsInputError(ErrConflict))
}

func TestNewValidationResult(t *testing.T) {
	res := NewValidationResult([]ValidationIssue{
		{Code: IssueInvalidNIP, Severity: SeverityError},
		{Code: IssueMissingCounterpartID, Severity: SeverityWarning},
	})
	assert.False(t, res.IsValid)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 1, res.WarningCount)

	empty := NewValidationResult(nil)
	assert.True(t, empty.IsValid)
	assert.NotNil(t, empty.Issues)
}
