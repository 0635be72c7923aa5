package audit

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Key-based redaction catches fields named after secrets regardless of what
// they hold; value-based redaction catches secrets that leak in under
// innocent key names. Both run on every params payload before it is written
// to the durable audit log.
var sensitiveKeyFragments = []string{
	"password", "passwd", "token", "secret", "api_key", "apikey",
	"credential", "auth", "ssn", "credit_card", "card_number",
	"bank_account", "private_key", "nik",
}

var cardShapedRe = regexp.MustCompile(`^[\d\s-]{13,23}$`)

// RedactParams returns a deep copy of params with sensitive values replaced.
// The input is never mutated.
func RedactParams(params interface{}) interface{} {
	return redactValue("", params)
}

func redactValue(key string, value interface{}) interface{} {
	if key != "" && isSensitiveKey(key) {
		return redactedPlaceholder
	}

	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = redactValue(k, inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = redactValue("", inner)
		}
		return out
	case string:
		if isSensitiveValue(v) {
			return redactedPlaceholder
		}
		return v
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func isSensitiveValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}

	if strings.Contains(trimmed, "@") && strings.Contains(trimmed, ".") {
		return true
	}

	digits := 0
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits > 7 && digits*2 >= len(trimmed) {
		return true
	}

	if cardShapedRe.MatchString(trimmed) {
		clean := strings.NewReplacer(" ", "", "-", "").Replace(trimmed)
		if len(clean) >= 13 && len(clean) <= 19 {
			return true
		}
	}

	return false
}
