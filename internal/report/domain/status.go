package domain

import "slices"

// Status is the report lifecycle status.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusGenerating Status = "GENERATING"
	StatusGenerated  Status = "GENERATED"
	StatusValidating Status = "VALIDATING"
	StatusValidated  Status = "VALIDATED"
	StatusSigning    Status = "SIGNING"
	StatusSigned     Status = "SIGNED"
	StatusSubmitting Status = "SUBMITTING"
	StatusSubmitted  Status = "SUBMITTED"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusCorrected  Status = "CORRECTED"
	StatusError      Status = "ERROR"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusGenerating, StatusGenerated, StatusValidating, StatusValidated,
		StatusSigning, StatusSigned, StatusSubmitting, StatusSubmitted,
		StatusAccepted, StatusRejected, StatusCorrected, StatusError,
	}
}

// Operation names a report-level call guarded by the lifecycle table.
type Operation string

const (
	OpAddRecord         Operation = "add_record"
	OpImportRecords     Operation = "import_records"
	OpUpdateDeclaration Operation = "update_declaration"
	OpGenerate          Operation = "generate"
	OpDownloadXML       Operation = "download_xml"
	OpValidate          Operation = "validate"
	OpSign              Operation = "sign"
	OpSubmit            Operation = "submit"
	OpCheckStatus       Operation = "check_status"
	OpDownloadReceipt   Operation = "download_receipt"
	OpCorrect           Operation = "correct"
	OpDelete            Operation = "delete"
)

// allowedOperations is the single (status, operation) table consulted
// before every mutating call.
var allowedOperations = map[Operation][]Status{
	OpAddRecord:         {StatusDraft},
	OpImportRecords:     {StatusDraft},
	OpUpdateDeclaration: {StatusDraft, StatusGenerated, StatusValidated},
	OpGenerate:          {StatusDraft, StatusGenerated, StatusValidated, StatusSigned},
	OpDownloadXML: {
		StatusGenerated, StatusValidated, StatusSigned, StatusSubmitting,
		StatusSubmitted, StatusAccepted, StatusRejected, StatusCorrected,
	},
	OpValidate:        {StatusGenerated, StatusValidated},
	OpSign:            {StatusGenerated, StatusValidated},
	OpSubmit:          {StatusSigned},
	OpCheckStatus:     {StatusSubmitted, StatusAccepted, StatusRejected, StatusCorrected},
	OpDownloadReceipt: {StatusAccepted, StatusCorrected},
	OpCorrect:         {StatusSubmitted, StatusAccepted, StatusCorrected},
	OpDelete:          {StatusDraft, StatusError},
}

// validTransitions lists every status change the repository may commit.
var validTransitions = map[Status][]Status{
	StatusDraft:      {StatusGenerating, StatusError},
	StatusGenerating: {StatusGenerated, StatusDraft, StatusValidated, StatusSigned, StatusError},
	StatusGenerated:  {StatusGenerating, StatusValidating, StatusSigning, StatusDraft, StatusError},
	StatusValidating: {StatusValidated, StatusGenerated, StatusError},
	StatusValidated:  {StatusGenerating, StatusValidating, StatusSigning, StatusDraft, StatusError},
	StatusSigning:    {StatusSigned, StatusGenerated, StatusValidated, StatusError},
	StatusSigned:     {StatusGenerating, StatusSubmitting, StatusError},
	StatusSubmitting: {StatusSubmitted, StatusSigned, StatusError},
	StatusSubmitted:  {StatusAccepted, StatusRejected, StatusCorrected, StatusError},
	StatusAccepted:   {StatusCorrected},
	StatusRejected:   {},
	StatusCorrected:  {},
	StatusError:      {},
}

// inFlight maps the transient status entered while an operation runs.
var inFlight = map[Operation]Status{
	OpGenerate: StatusGenerating,
	OpValidate: StatusValidating,
	OpSign:     StatusSigning,
	OpSubmit:   StatusSubmitting,
}

// Allowed reports whether op may run while the report is in status.
func Allowed(status Status, op Operation) bool {
	return slices.Contains(allowedOperations[op], status)
}

// RequiredStatuses returns the statuses op may run from.
func RequiredStatuses(op Operation) []Status {
	return slices.Clone(allowedOperations[op])
}

// CheckOperation returns a *TransitionError when op is not allowed from status.
func CheckOperation(status Status, op Operation) error {
	if Allowed(status, op) {
		return nil
	}
	return &TransitionError{Op: op, Current: status, Required: RequiredStatuses(op)}
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// InFlightStatus returns the transient status for a long operation.
func InFlightStatus(op Operation) (Status, bool) {
	s, ok := inFlight[op]
	return s, ok
}

// IsFiled reports whether the report has reached the gateway.
func (s Status) IsFiled() bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusRejected, StatusCorrected:
		return true
	default:
		return false
	}
}

// IsInFlight reports whether an operation currently holds the report.
func (s Status) IsInFlight() bool {
	switch s {
	case StatusGenerating, StatusValidating, StatusSigning, StatusSubmitting:
		return true
	default:
		return false
	}
}

// Frozen reports whether records and declaration can no longer change.
func (s Status) Frozen() bool {
	switch s {
	case StatusDraft, StatusGenerating, StatusGenerated, StatusValidating, StatusValidated:
		return false
	default:
		return true
	}
}

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}
