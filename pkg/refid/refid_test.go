package refid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormats(t *testing.T) {
	at := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	assert.Regexp(t, regexp.MustCompile(`^TXN-[0-9A-Z]+-[0-9A-Z]{6}$`), Transaction(at))
	assert.Regexp(t, regexp.MustCompile(`^REF-[0-9A-Z]+-[0-9A-Z]{4}$`), Refund(at))
	assert.Regexp(t, regexp.MustCompile(`^TRF-[0-9A-Z]+$`), Transfer(at))
	assert.Regexp(t, regexp.MustCompile(`^STL-20250601-[0-9A-Z]{6}$`), Settlement(at, nil))

	jakarta := time.FixedZone("WIB", 7*3600)
	assert.Regexp(t, regexp.MustCompile(`^STL-20250602-`), Settlement(at, jakarta))
}

func TestBase36Millis(t *testing.T) {
	assert.Equal(t, "0", Base36Millis(time.UnixMilli(0)))
	assert.Equal(t, "Z", Base36Millis(time.UnixMilli(35)))
	assert.Equal(t, "10", Base36Millis(time.UnixMilli(36)))
}

func TestRandomIsUnlikelyToRepeat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		seen[Random(8)] = true
	}
	assert.Greater(t, len(seen), 995)
}
