// Package masking redacts taxpayer identifiers before they reach audit storage.
package masking

import (
	"strings"

	"github.com/smallbiznis/auditfile/internal/taxid"
)

const maskToken = "****"

// MaskTaxID keeps the last four digits of an identifier.
func MaskTaxID(value string) string {
	digits := taxid.Normalize(value)
	if digits == "" {
		return ""
	}
	if len(digits) <= 4 {
		return maskToken
	}
	return maskToken + digits[len(digits)-4:]
}

// MaskTaxIDs returns a copy of input where values under tax-id keys are masked.
func MaskTaxIDs(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if isTaxIDKey(key) {
			return MaskTaxID(cast)
		}
		return cast
	case map[string]any:
		return MaskTaxIDs(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func isTaxIDKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "tax_id") || strings.Contains(key, "nip") || strings.Contains(key, "counterpart_id")
}
