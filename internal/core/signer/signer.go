// Package signer produces and checks the versioned HMAC signature header that
// authenticates relay traffic to the central ledger API.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderName carries the signature on outbound calls.
const HeaderName = "X-Bridge-Signature"

const version = "v1"

// DefaultSkew is the clock difference Verify tolerates.
const DefaultSkew = 300 * time.Second

var (
	ErrMalformedHeader    = errors.New("malformed signature header")
	ErrTimestampSkew      = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrNoSecretConfigured = errors.New("no signing secret configured")
)

// Sign computes base64(HMAC-SHA256(secret, timestamp + "." + body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Header formats the header value "v1,ts=<timestamp>,sig=<signature>".
func Header(secret, timestamp string, body []byte) string {
	return fmt.Sprintf("%s,ts=%s,sig=%s", version, timestamp, Sign(secret, timestamp, body))
}

// HeaderAt signs body with the unix-seconds timestamp of t.
func HeaderAt(secret string, t time.Time, body []byte) string {
	return Header(secret, strconv.FormatInt(t.Unix(), 10), body)
}

// Parsed is a decoded signature header.
type Parsed struct {
	Version   string
	Timestamp string
	Signature string
}

// Parse splits a header value into its parts.
func Parse(header string) (Parsed, error) {
	var p Parsed
	parts := strings.Split(header, ",")
	if len(parts) != 3 {
		return p, ErrMalformedHeader
	}
	p.Version = parts[0]
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return p, ErrMalformedHeader
		}
		switch k {
		case "ts":
			p.Timestamp = v
		case "sig":
			// base64 padding contains '=', Cut keeps everything after the first one
			p.Signature = v
		default:
			return p, ErrMalformedHeader
		}
	}
	if p.Version != version || p.Timestamp == "" || p.Signature == "" {
		return p, ErrMalformedHeader
	}
	return p, nil
}

// Verify checks header against body using any of the given secrets, so a
// current/next pair can be accepted during rotation. Empty secrets are skipped.
func Verify(header string, body []byte, now time.Time, skew time.Duration, secrets ...string) error {
	p, err := Parse(header)
	if err != nil {
		return err
	}
	ts, err := strconv.ParseInt(p.Timestamp, 10, 64)
	if err != nil {
		return ErrMalformedHeader
	}
	if skew <= 0 {
		skew = DefaultSkew
	}
	diff := now.Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	if diff > skew {
		return ErrTimestampSkew
	}

	got, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return ErrMalformedHeader
	}
	checked := false
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		checked = true
		want, _ := base64.StdEncoding.DecodeString(Sign(secret, p.Timestamp, body))
		if hmac.Equal(got, want) {
			return nil
		}
	}
	if !checked {
		return ErrNoSecretConfigured
	}
	return ErrSignatureMismatch
}
