package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/config"
)

func TestParseArchetype(t *testing.T) {
	tests := []struct {
		in   string
		want Archetype
	}{
		{"visionary", Visionary},
		{" Investor ", Investor},
		{"default", Default},
		{"trickster", Default},
		{"", Default},
	}
	for _, tt := range tests {
		if got := ParseArchetype(tt.in); got != tt.want {
			t.Errorf("ParseArchetype(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProfiles(t *testing.T) {
	p := NewProfiles(map[string]config.ArchetypeCoefficients{
		"Visionary": {RiskMultiplier: 1.5},
		"trickster": {RiskMultiplier: 9},
	})

	v := p.Lookup(Visionary)
	require.Equal(t, 1.5, v.RiskMultiplier)
	require.Equal(t, 1.1, v.UGTTBonusMultiplier, "unset override keeps built-in")

	require.Equal(t, 0.8, p.Lookup(Investor).RiskMultiplier)
	require.Equal(t, p.Lookup(Default), p.Lookup("trickster"))
	require.NotContains(t, p, Archetype("trickster"))

	var empty Profiles
	require.Equal(t, 1.0, empty.Lookup(Visionary).RiskMultiplier)
}

func TestHistoryBounded(t *testing.T) {
	a := New("a", Default, &capsule.Capsule{ID: "c"}, WithHistoryLimit(3))
	for i := range 5 {
		a.Remember(Appraisal{CorrelationID: fmt.Sprint(i), FinalNetValue: float64(i)})
	}
	require.Equal(t, []float64{2, 3, 4}, a.FinalValues())
	require.Equal(t, "2", a.History()[0].CorrelationID)
}

func TestSetCapsule(t *testing.T) {
	c1 := &capsule.Capsule{ID: "c", Goal: "one"}
	a := New("a", Visionary, c1)
	require.Same(t, c1, a.Capsule())

	c2 := &capsule.Capsule{ID: "c", Goal: "two"}
	a.SetCapsule(c2)
	require.Equal(t, "two", a.Capsule().Goal)
}

func TestMintAndProvenance(t *testing.T) {
	a := New("a", Default, &capsule.Capsule{ID: "c"}, WithProvenanceLimit(2))

	first := a.Mint(MintIntent{ItemName: "paperclip", ItemType: "physical", From: "b", Value: 1})
	require.Equal(t, StandardRedeemable, first.Standard)
	require.True(t, first.Current)
	require.Equal(t, "a", first.Owner)

	pen := a.Mint(MintIntent{ItemName: "pen", ItemType: ItemTypeDigital})
	require.Equal(t, StandardDigital, pen.Standard)

	second := a.Mint(MintIntent{ItemName: "paperclip", ItemType: "physical", From: "c", Value: 2})
	third := a.Mint(MintIntent{ItemName: "paperclip", ItemType: "physical", From: "d", Value: 3})

	owned := a.Owned()
	require.Len(t, owned, 2)
	names := []string{owned[0].ItemName, owned[1].ItemName}
	require.ElementsMatch(t, []string{"pen", "paperclip"}, names)

	chain := a.Provenance("paperclip")
	require.Len(t, chain, 2)
	require.Equal(t, third.NFTID, chain[0].NFTID)
	require.True(t, chain[0].Current)
	require.False(t, chain[1].Current)
	require.NotNil(t, chain[1].ArchivedAt)
	require.Contains(t, []string{first.NFTID, second.NFTID}, chain[1].NFTID)

	require.Empty(t, a.Provenance("boat"))
}
