package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/paperclip/internal/errors"
)

var testDefaults = Defaults{Asset: "0xdefault", Network: "base-sepolia", TTL: time.Hour}

func TestParseRequired_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	in := &Session{
		PaymentID: "8b7c3f0e-1111-4e5a-9e1a-000000000001",
		Amount:    "0.25",
		Asset:     "0xasset",
		Payee:     "0xpayee",
		Network:   "sepolia",
		IssuedAt:  now,
	}
	body, err := json.Marshal(in.Required())
	require.NoError(t, err)

	out, err := ParseRequired(body, testDefaults, now)
	require.NoError(t, err)

	require.Equal(t, in.PaymentID, out.PaymentID)
	require.Equal(t, in.Amount, out.Amount)
	require.Equal(t, in.Asset, out.Asset)
	require.Equal(t, in.Payee, out.Payee)
	require.Equal(t, in.Network, out.Network)
	require.True(t, in.IssuedAt.Equal(out.IssuedAt))

	// Derived fields.
	require.Equal(t, StatusPending, out.Status)
	require.True(t, out.Deadline.Equal(now.Add(time.Hour)))
}

func TestParseRequired_Defaults(t *testing.T) {
	now := time.Now()
	s, err := ParseRequired([]byte(`{"status":"payment_required","maxAmountRequired":"1","paymentAddress":"0xp","paymentId":"id-1"}`), testDefaults, now)
	require.NoError(t, err)
	require.Equal(t, "0xdefault", s.Asset)
	require.Equal(t, "base-sepolia", s.Network)
	require.False(t, s.Expired(now))
	require.True(t, s.Expired(now.Add(2*time.Hour)))
}

func TestParseRequired_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":       `nope`,
		"missing amount": `{"paymentAddress":"0xp","paymentId":"id"}`,
		"missing payee":  `{"maxAmountRequired":"1","paymentId":"id"}`,
		"missing id":     `{"maxAmountRequired":"1","paymentAddress":"0xp"}`,
		"bad amount":     `{"maxAmountRequired":"ten","paymentAddress":"0xp","paymentId":"id"}`,
		"negative":       `{"maxAmountRequired":"-1","paymentAddress":"0xp","paymentId":"id"}`,
		"wrong status":   `{"status":"ok","maxAmountRequired":"1","paymentAddress":"0xp","paymentId":"id"}`,
	}
	for name, body := range tests {
		_, err := ParseRequired([]byte(body), testDefaults, time.Now())
		if !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want INVALID_REQUEST", name, err)
		}
	}
}

func TestBaseUnits(t *testing.T) {
	tests := map[string]string{
		"0.10":     "100000",
		"1":        "1000000",
		"0.000001": "1",
		"12.5":     "12500000",
	}
	for in, want := range tests {
		got, err := BaseUnits(in)
		require.NoError(t, err)
		if got.String() != want {
			t.Errorf("BaseUnits(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{Signature: "0xsig", PaymentID: "p1", Payer: ZeroAddress, Amount: "0.10", Asset: "0xa", Timestamp: 42}
	v, err := h.Encode()
	require.NoError(t, err)
	got, err := ParseHeader(v)
	require.NoError(t, err)
	require.Equal(t, h, got)

	_, err = ParseHeader(`{"paymentId":"p1"}`)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = ParseHeader(`garbage`)
	require.Error(t, err)
}

func TestNewDomain(t *testing.T) {
	tests := map[string]int64{
		"base-sepolia": 84532,
		"sepolia":      11155111,
		"mainnet":      1,
		"unknown":      84532,
	}
	for network, want := range tests {
		d := NewDomain(network)
		if d.ChainID != want {
			t.Errorf("NewDomain(%q).ChainID = %d, want %d", network, d.ChainID, want)
		}
		if d.VerifyingContract != VerifyingContract || d.Version != "1" {
			t.Errorf("NewDomain(%q) = %+v", network, d)
		}
	}
}

func TestNoOpSigner(t *testing.T) {
	s := NoOpSigner{Now: func() time.Time { return time.Unix(123, 0) }}
	addr, err := s.Address(t.Context())
	require.NoError(t, err)
	require.Equal(t, ZeroAddress, addr)

	sig, err := s.SignTypedData(t.Context(), addr, NewDomain("mainnet"), PaymentTypes(), PrimaryType, nil)
	require.NoError(t, err)
	require.Equal(t, "0xmocksignature_123", sig)
}
