package orders

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const numberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber builds a human-facing order number: base36 unix seconds plus
// a 4-char random suffix, e.g. "ORD-SLXK1M-7F2Q". Collision odds are tiny but
// not zero; the checkout treats a unique violation as transient and regenerates.
func NewOrderNumber(now time.Time) string {
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.Unix(), 36)))
	b.WriteByte('-')

	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	for _, c := range buf {
		b.WriteByte(numberAlphabet[int(c)%len(numberAlphabet)])
	}
	return b.String()
}
