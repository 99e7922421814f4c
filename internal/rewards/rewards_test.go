package rewards

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGrant(t *testing.T) {
	l := NewLedger(5, 0.01)
	require.Equal(t, 10, l.Grant("a", 10, "trade"))
	require.Equal(t, 10, l.Grant("a", -3, "ignored"))
	require.Equal(t, 10, l.XP("a"))
	require.Equal(t, 0, l.XP("b"))
	require.Equal(t, []Grant{{XP: 10, Reason: "trade"}}, l.Grants("a"))
}

func TestAwardBadge_Idempotent(t *testing.T) {
	l := NewLedger(5, 0.01)
	require.True(t, l.AwardBadge("a", BadgeSelfModifier, 20))
	require.False(t, l.AwardBadge("a", BadgeSelfModifier, 20))
	require.True(t, l.HasBadge("a", BadgeSelfModifier))
	require.False(t, l.HasBadge("a", BadgeCoalition))
	require.Equal(t, 20, l.XP("a"))
}

func TestCreditSpend(t *testing.T) {
	l := NewLedger(5, 0.01)
	require.Error(t, l.Credit("a", -1))
	require.NoError(t, l.Credit("a", 1.5))
	require.Error(t, l.Spend("a", 2))
	require.InDelta(t, 1.5, l.Balance("a"), 1e-9)
	require.NoError(t, l.Spend("a", 1))
	require.InDelta(t, 0.5, l.Balance("a"), 1e-9)
}

func TestPayPitch(t *testing.T) {
	tests := []struct {
		name       string
		credit     float64
		xp         int
		want       PitchMethod
		wantCredit float64
		wantXP     int
	}{
		{name: "usd covers", credit: 1, xp: 50, want: PitchUSD, wantCredit: 0.99, wantXP: 50},
		{name: "falls back to xp", credit: 0.001, xp: 7, want: PitchXP, wantCredit: 0.001, wantXP: 2},
		{name: "free", credit: 0, xp: 4, want: PitchFree, wantCredit: 0, wantXP: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(5, 0.01)
			if tt.credit > 0 {
				require.NoError(t, l.Credit("a", tt.credit))
			}
			l.Grant("a", tt.xp, "seed")

			got := l.PayPitch("a")
			if got != tt.want {
				t.Errorf("PayPitch() = %q, want %q", got, tt.want)
			}
			require.InDelta(t, tt.wantCredit, l.Balance("a"), 1e-9)
			require.Equal(t, tt.wantXP, l.XP("a"))
		})
	}
}

func TestPitchMethod_Paid(t *testing.T) {
	require.True(t, PitchUSD.Paid())
	require.True(t, PitchXP.Paid())
	require.False(t, PitchFree.Paid())
	require.False(t, PitchNone.Paid())
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger(5, 0.01)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Grant("a", 1, "tick")
		}()
	}
	wg.Wait()
	require.Equal(t, 50, l.XP("a"))
}
