// Package payment implements the x402 pay-per-request handshake: detect a
// 402 challenge, sign an authorization, resend with backoff and classify the
// outcome.
package payment

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hpungsan/paperclip/internal/errors"
)

// Status is the state of a payment session or flow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSigned    Status = "signed"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

// RequiredStatus is the status field of a payment-required body.
const RequiredStatus = "payment_required"

// AssetDecimals is the precision used to convert amounts to base units.
const AssetDecimals = 6

// Required is the body of a 402 response.
type Required struct {
	Status            string `json:"status"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	AssetAddress      string `json:"assetAddress,omitempty"`
	PaymentAddress    string `json:"paymentAddress"`
	Network           string `json:"network,omitempty"`
	PaymentID         string `json:"paymentId"`
	Timestamp         int64  `json:"timestamp,omitempty"`
	// Error explains why a previously signed payment was refused.
	Error string `json:"error,omitempty"`
}

// Session is one payment challenge and its lifecycle.
type Session struct {
	PaymentID string    `json:"payment_id"`
	Amount    string    `json:"amount"`
	Asset     string    `json:"asset"`
	Payee     string    `json:"payee"`
	Network   string    `json:"network"`
	IssuedAt  time.Time `json:"issued_at"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`
}

// Defaults fill optional fields of a payment-required body.
type Defaults struct {
	Asset   string
	Network string
	TTL     time.Duration
}

// ParseRequired decodes a 402 body into a pending session. maxAmountRequired,
// paymentAddress and paymentId are required. An empty status is accepted;
// any other value than payment_required is not.
func ParseRequired(body []byte, d Defaults, now time.Time) (*Session, error) {
	var r Required
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.NewInvalidRequest("malformed payment parameters: " + err.Error())
	}
	if st := strings.TrimSpace(r.Status); st != "" && st != RequiredStatus {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed payment parameters: status %q", st))
	}
	var missing []string
	if strings.TrimSpace(r.MaxAmountRequired) == "" {
		missing = append(missing, "maxAmountRequired")
	}
	if strings.TrimSpace(r.PaymentAddress) == "" {
		missing = append(missing, "paymentAddress")
	}
	if strings.TrimSpace(r.PaymentID) == "" {
		missing = append(missing, "paymentId")
	}
	if len(missing) > 0 {
		return nil, errors.NewInvalidRequest("malformed payment parameters: missing " + strings.Join(missing, ", "))
	}
	if _, err := BaseUnits(r.MaxAmountRequired); err != nil {
		return nil, err
	}

	s := &Session{
		PaymentID: r.PaymentID,
		Amount:    r.MaxAmountRequired,
		Asset:     r.AssetAddress,
		Payee:     r.PaymentAddress,
		Network:   r.Network,
		IssuedAt:  now.UTC(),
		Status:    StatusPending,
	}
	if r.Timestamp > 0 {
		s.IssuedAt = time.Unix(r.Timestamp, 0).UTC()
	}
	if s.Asset == "" {
		s.Asset = d.Asset
	}
	if s.Network == "" {
		s.Network = d.Network
	}
	s.Deadline = now.Add(d.TTL).UTC()
	return s, nil
}

// Required renders the session as a 402 body.
func (s *Session) Required() Required {
	return Required{
		Status:            RequiredStatus,
		MaxAmountRequired: s.Amount,
		AssetAddress:      s.Asset,
		PaymentAddress:    s.Payee,
		Network:           s.Network,
		PaymentID:         s.PaymentID,
		Timestamp:         s.IssuedAt.Unix(),
	}
}

// Expired reports whether the signing deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// BaseUnits converts a decimal amount to integer base units.
func BaseUnits(amount string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok || r.Sign() < 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed payment parameters: bad amount %q", amount))
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(AssetDecimals), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
