package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError marks a request that will never succeed and must not be queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// Defaults are injected into request bodies when the terminal omits them.
type Defaults struct {
	MerchantID string
	OutletID   string
	DeviceID   string
}

type quoteRequest struct {
	Mode          string   `json:"mode"`
	MerchantID    string   `json:"merchantId"`
	OrderID       string   `json:"orderId"`
	Total         *float64 `json:"total"`
	EligibleTotal *float64 `json:"eligibleTotal"`
	UserToken     string   `json:"userToken"`
	OutletID      string   `json:"outletId,omitempty"`
	DeviceID      string   `json:"deviceId,omitempty"`
}

func (r *quoteRequest) validate() error {
	switch {
	case r.Mode == "":
		return missing("mode")
	case r.MerchantID == "":
		return missing("merchantId")
	case r.OrderID == "":
		return missing("orderId")
	case r.Total == nil:
		return missing("total")
	case *r.Total < 0:
		return &ValidationError{Field: "total", Reason: "must not be negative"}
	case r.EligibleTotal != nil && *r.EligibleTotal < 0:
		return &ValidationError{Field: "eligibleTotal", Reason: "must not be negative"}
	case r.UserToken == "":
		return missing("userToken")
	}
	return nil
}

type commitRequest struct {
	MerchantID     string `json:"merchantId"`
	HoldID         string `json:"holdId"`
	OrderID        string `json:"orderId"`
	ReceiptNumber  string `json:"receiptNumber,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (r *commitRequest) validate() error {
	switch {
	case r.MerchantID == "":
		return missing("merchantId")
	case r.HoldID == "":
		return missing("holdId")
	case r.OrderID == "":
		return missing("orderId")
	}
	return nil
}

// key defaults to merchant:order:commit so repeated terminal calls collapse.
func (r *commitRequest) key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return strings.Join([]string{r.MerchantID, r.OrderID, "commit"}, ":")
}

type refundRequest struct {
	MerchantID          string   `json:"merchantId"`
	OrderID             string   `json:"orderId"`
	RefundTotal         *float64 `json:"refundTotal"`
	RefundEligibleTotal *float64 `json:"refundEligibleTotal,omitempty"`
	IdempotencyKey      string   `json:"idempotencyKey,omitempty"`
}

func (r *refundRequest) validate() error {
	switch {
	case r.MerchantID == "":
		return missing("merchantId")
	case r.OrderID == "":
		return missing("orderId")
	case r.RefundTotal == nil:
		return missing("refundTotal")
	case *r.RefundTotal <= 0:
		return &ValidationError{Field: "refundTotal", Reason: "must be positive"}
	case r.RefundEligibleTotal != nil && *r.RefundEligibleTotal < 0:
		return &ValidationError{Field: "refundEligibleTotal", Reason: "must not be negative"}
	}
	return nil
}

// key includes the amount so distinct partial refunds of one order stay distinct.
func (r *refundRequest) key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return strings.Join([]string{
		r.MerchantID, r.OrderID, "refund", strconv.FormatFloat(*r.RefundTotal, 'f', -1, 64),
	}, ":")
}

// decodeBody parses raw into both the typed request and the opaque field map,
// filling merchant/outlet/device defaults. The returned payload is the compact
// JSON forwarded upstream.
func decodeBody(raw []byte, typed any, defaults Defaults, withDevice bool) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	fill := func(name, value string) {
		if value == "" {
			return
		}
		if cur, ok := fields[name]; ok && !isEmptyJSON(cur) {
			return
		}
		encoded, _ := json.Marshal(value)
		fields[name] = encoded
	}
	fill("merchantId", defaults.MerchantID)
	if withDevice {
		fill("outletId", defaults.OutletID)
		fill("deviceId", defaults.DeviceID)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(typed); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Field: typeErr.Field, Reason: "has the wrong type"}
		}
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	return payload, nil
}

func isEmptyJSON(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	return s == "" || s == "null" || s == `""`
}
