// Package refid generates the human-facing reference codes attached to
// payments, refunds, settlements and transfers.
package refid

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var alphabetLen = big.NewInt(int64(len(alphabet)))

// Base36Millis renders t as upper-case base36 milliseconds since the epoch.
func Base36Millis(t time.Time) string {
	return strings.ToUpper(strconv.FormatInt(t.UnixMilli(), 36))
}

// Random returns n upper-case base36 characters.
func Random(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

func Transaction(at time.Time) string {
	return "TXN-" + Base36Millis(at) + "-" + Random(6)
}

func Refund(at time.Time) string {
	return "REF-" + Base36Millis(at) + "-" + Random(4)
}

// Settlement stamps the calendar day of at in loc.
func Settlement(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "STL-" + at.In(loc).Format("20060102") + "-" + Random(6)
}

func Transfer(at time.Time) string {
	return "TRF-" + Base36Millis(at)
}
