package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	got := MaskJSON(map[string]any{
		"customer_email": "jane.doe@example.com",
		"ip_address":     "203.0.113.77",
		"transaction_id": "TXN-ABC-123456",
		"score":          55,
		"nested":         map[string]any{"email": "x@y.test"},
		"":               "dropped",
	})

	assert.Equal(t, "j****@example.com", got["customer_email"])
	assert.Equal(t, "****3.77", got["ip_address"])
	assert.Equal(t, "TXN-ABC-123456", got["transaction_id"])
	assert.Equal(t, 55, got["score"])
	assert.Equal(t, map[string]any{"email": "x****@y.test"}, got["nested"])
	assert.NotContains(t, got, "")
}

func TestMaskSecretShortValues(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
}
