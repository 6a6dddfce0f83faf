package masking

import "strings"

const maskToken = "****"

// SensitiveKeys are metadata keys whose values never reach the audit table verbatim.
var SensitiveKeys = map[string]bool{
	"email":               true,
	"phone":               true,
	"payment_intent":      true,
	"provider_identifier": true,
	"charge":              true,
}

// MaskSecret keeps only the last four characters of a value.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy with sensitive string values masked.
func MaskMetadata(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if s, ok := value.(string); ok && SensitiveKeys[key] {
			out[key] = MaskSecret(s)
			continue
		}
		out[key] = value
	}
	return out
}

// splitPrefix keeps Stripe style prefixes such as "pi_" readable.
func splitPrefix(value string) (string, string) {
	if at := strings.Index(value, "@"); at > 0 {
		return "", value[:at]
	}
	last := strings.LastIndex(value, "_")
	if last == -1 || last == len(value)-1 {
		return "", value
	}
	return value[:last+1], value[last+1:]
}
