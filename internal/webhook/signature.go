package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock skew between the signature
// timestamp and the receiving host.
const DefaultTolerance = 300 * time.Second

// Signature is the parsed form of the gateway's x-signature header,
// "ts=<unix seconds>,v1=<hex hmac>".
type Signature struct {
	Timestamp int64
	V1        string
}

// ParseSignature splits and validates the signature header format.
func ParseSignature(header string) (*Signature, error) {
	sig := &Signature{}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("webhook signature: bad ts: %w", err)
			}
			sig.Timestamp = ts
		case "v1":
			sig.V1 = strings.TrimSpace(value)
		}
	}
	if sig.Timestamp == 0 || sig.V1 == "" {
		return nil, fmt.Errorf("webhook signature: header %q is missing ts or v1", header)
	}
	return sig, nil
}

// Verifier checks payment webhook signatures.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier with the shared secret. A non-positive
// tolerance falls back to the 300 second default.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// WithClock substitutes the time source for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify checks the HMAC-SHA256 signature over the manifest
// "id:{dataId};request-id:{requestId};ts:{ts};" and rejects timestamps
// outside the freshness window. The comparison is constant time.
func (v *Verifier) Verify(dataID, requestID, signatureHeader string) bool {
	if v.secret == "" || signatureHeader == "" {
		return false
	}

	sig, err := ParseSignature(signatureHeader)
	if err != nil {
		return false
	}

	age := v.now().Unix() - sig.Timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > v.tolerance {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%d;", strings.ToLower(dataID), requestID, sig.Timestamp)
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig.V1)))
}
