package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"customer_email": {},
	"email":          {},
	"customer_name":  {},
	"ip_address":     {},
	"ip":             {},
	"user_agent":     {},
	"account_number": {},
}

// MaskSecret redacts a value while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskJSON returns a copy of the input with customer-identifying values masked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(strings.ToLower(trimmedKey), value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, ok := sensitiveKeys[key]; !ok {
			return cast
		}
		if strings.Contains(key, "email") {
			return MaskEmail(cast)
		}
		return MaskSecret(cast)
	case map[string]any:
		return MaskJSON(cast)
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
