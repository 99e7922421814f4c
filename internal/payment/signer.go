package payment

import (
	"context"
	"fmt"
	"time"
)

// ZeroAddress is the payer address of an unconfigured wallet.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// VerifyingContract is the EIP-712 verifying contract for x402 payments.
const VerifyingContract = "0x742d35Cc6634C0532925a3b8D1b9c1369e3cA89b"

// PrimaryType is the signed struct name.
const PrimaryType = "Payment"

var chainIDs = map[string]int64{
	"base-sepolia": 84532,
	"sepolia":      11155111,
	"mainnet":      1,
}

// Domain is an EIP-712 domain separator.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// NewDomain returns the payment domain for network. Unknown networks use base-sepolia.
func NewDomain(network string) Domain {
	id, ok := chainIDs[network]
	if !ok {
		id = chainIDs["base-sepolia"]
	}
	return Domain{Name: "X402Payment", Version: "1", ChainID: id, VerifyingContract: VerifyingContract}
}

// TypedField is one member of an EIP-712 struct type.
type TypedField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Types maps struct names to their fields.
type Types map[string][]TypedField

// PaymentTypes is the fixed payment authorization schema.
func PaymentTypes() Types {
	return Types{
		PrimaryType: {
			{Name: "paymentId", Type: "string"},
			{Name: "payer", Type: "address"},
			{Name: "payee", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "asset", Type: "address"},
			{Name: "deadline", Type: "uint256"},
		},
	}
}

// Signer produces typed-data signatures for a wallet.
type Signer interface {
	Address(ctx context.Context) (string, error)
	SignTypedData(ctx context.Context, payer string, domain Domain, types Types, primaryType string, message map[string]any) (string, error)
}

// NoOpSigner stands in for a wallet when none is configured. It signs
// everything with a mock signature from the zero address.
type NoOpSigner struct {
	Now func() time.Time
}

// Address implements Signer.
func (NoOpSigner) Address(context.Context) (string, error) { return ZeroAddress, nil }

// SignTypedData implements Signer.
func (s NoOpSigner) SignTypedData(context.Context, string, Domain, Types, string, map[string]any) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return fmt.Sprintf("0xmocksignature_%d", now().Unix()), nil
}

// message builds the typed-data message for s.
func message(s *Session, payer string) (map[string]any, error) {
	amount, err := BaseUnits(s.Amount)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"paymentId": s.PaymentID,
		"payer":     payer,
		"payee":     s.Payee,
		"amount":    amount.String(),
		"asset":     s.Asset,
		"deadline":  s.Deadline.Unix(),
	}, nil
}
