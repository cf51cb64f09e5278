package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pickup-order-service/internal/models"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on webhook requests
const SignatureHeader = "Payment-Signature"

// Verifier checks webhook signatures with a shared secret
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A zero tolerance disables the timestamp
// window check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *Verifier) mac(ts int64, payload []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign produces a signature header value for payload at time ts
func (v *Verifier) Sign(payload []byte, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, v.mac(unix, payload))
}

// Verify returns an error wrapping models.ErrInvalidSignature unless the
// header carries a valid v1 signature inside the tolerance window
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", models.ErrInvalidSignature)
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", models.ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", models.ErrInvalidSignature)
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", models.ErrInvalidSignature)
		}
	}

	expected := []byte(v.mac(ts, payload))
	for _, s := range sigs {
		if hmac.Equal(expected, []byte(s)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", models.ErrInvalidSignature)
}

// ParseEvent decodes a verified webhook payload
func ParseEvent(payload []byte) (*models.ProviderEvent, error) {
	var ev models.ProviderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, models.NewValidationError("INVALID_EVENT", fmt.Sprintf("malformed payment event: %v", err))
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, models.NewValidationError("INVALID_EVENT", "payment event is missing id or type")
	}
	return &ev, nil
}
