package payment

import (
	"encoding/json"
	"strings"

	"github.com/hpungsan/paperclip/internal/errors"
)

// HeaderName carries the signed authorization on a retried request.
const HeaderName = "X-PAYMENT"

// Header is the X-PAYMENT value.
type Header struct {
	Signature string `json:"signature"`
	PaymentID string `json:"paymentId"`
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset"`
	Timestamp int64  `json:"timestamp"`
}

// Encode renders the header value.
func (h Header) Encode() (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return string(b), nil
}

// ParseHeader decodes an X-PAYMENT value. signature and paymentId are required.
func ParseHeader(v string) (Header, error) {
	var h Header
	if err := json.Unmarshal([]byte(v), &h); err != nil {
		return Header{}, errors.NewInvalidRequest("malformed payment header: " + err.Error())
	}
	if strings.TrimSpace(h.Signature) == "" || strings.TrimSpace(h.PaymentID) == "" {
		return Header{}, errors.NewInvalidRequest("malformed payment header: signature and paymentId are required")
	}
	return h, nil
}
