package models

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTrackingCode mints an order-level code: TRK-<base36 unix millis>-<5
// random base36 chars>. Collisions are improbable but not impossible, so the
// ledger inserts it with a retry loop.
func NewTrackingCode(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return "TRK-" + ts + "-" + randBase36(5)
}

// NewProductTrackingCode mints a line-level code: PTK-<12 hex chars>.
func NewProductTrackingCode() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "PTK-" + hex.EncodeToString(b)
}

func randBase36(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	out := make([]byte, n)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out)
}
