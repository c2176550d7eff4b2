package domain

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	IssueXMLNotGenerated         = "XML_NOT_GENERATED"
	IssueMalformedXML            = "MALFORMED_XML"
	IssueStructure               = "INVALID_STRUCTURE"
	IssueControlMismatch         = "CONTROL_MISMATCH"
	IssueHashMismatch            = "HASH_MISMATCH"
	IssueInvalidNIP              = "INVALID_NIP"
	IssueInvalidFilerNIP         = "INVALID_FILER_NIP"
	IssueMissingCounterpartID    = "MISSING_COUNTERPART_ID"
	IssueMissingDocumentNumber   = "MISSING_DOCUMENT_NUMBER"
	IssueUnknownGTUCode          = "UNKNOWN_GTU_CODE"
	IssueUnknownProcedureCode    = "UNKNOWN_PROCEDURE_CODE"
	IssueAmountSignMismatch      = "AMOUNT_SIGN_MISMATCH"
	IssueVATAmountMismatch       = "VAT_AMOUNT_MISMATCH"
	IssueMissingDeclarationField = "MISSING_DECLARATION_FIELD"
)

// ValidationIssue is a single finding; it is returned as data, never raised.
type ValidationIssue struct {
	Code         string     `json:"code"`
	Field        string     `json:"field,omitempty"`
	RecordKind   RecordKind `json:"record_kind,omitempty"`
	RecordNumber *int       `json:"record_number,omitempty"`
	Message      string     `json:"message"`
	Severity     Severity   `json:"severity"`
}

// ValidationResult is the outcome of one validation run.
type ValidationResult struct {
	IsValid      bool              `json:"is_valid"`
	Issues       []ValidationIssue `json:"issues"`
	ErrorCount   int               `json:"error_count"`
	WarningCount int               `json:"warning_count"`
	RuleVersion  string            `json:"rule_version,omitempty"`
}

// NewValidationResult tallies issues into a result.
func NewValidationResult(issues []ValidationIssue) ValidationResult {
	res := ValidationResult{Issues: issues}
	if res.Issues == nil {
		res.Issues = []ValidationIssue{}
	}
	for _, issue := range res.Issues {
		switch issue.Severity {
		case SeverityError:
			res.ErrorCount++
		case SeverityWarning:
			res.WarningCount++
		}
	}
	res.IsValid = res.ErrorCount == 0
	return res
}
