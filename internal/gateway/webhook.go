package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hustlexp/backend/internal/fault"
)

// DefaultSignatureTolerance bounds how stale a signed webhook may be.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyWebhook checks a gateway webhook signature header of the form
// "t=<unix>,v1=<hex hmac-sha256>" over "<unix>.<payload>". Failures are
// AUTHORITY_VIOLATION faults: an unsigned webhook carries no authority.
func VerifyWebhook(secret string, payload []byte, header string, tolerance time.Duration) error {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return fault.Wrap(fault.AuthorityViolation, err, "malformed webhook signature header")
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return fault.New(fault.AuthorityViolation, "webhook signature timestamp outside tolerance")
		}
	}
	expected := ComputeSignature(secret, payload, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fault.New(fault.AuthorityViolation, "webhook signature mismatch")
	}
	return nil
}

// ComputeSignature produces the v1 signature for a payload at timestamp ts.
// Exported so tests and the mock gateway can sign events.
func ComputeSignature(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the header VerifyWebhook accepts.
func SignatureHeader(secret string, payload []byte, ts int64) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, ComputeSignature(secret, payload, ts))
}

func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("bad timestamp %q", v)
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("missing t or v1 component")
	}
	return ts, sig, nil
}
