package capsule

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple lowercase", "Hello World", "hello world"},
		{"trim whitespace", "  hello  ", "hello"},
		{"collapse internal whitespace", "hello    world", "hello world"},
		{"tabs and newlines", "hello\t\n  world", "hello world"},
		{"empty string", "", ""},
		{"only whitespace", "   \t\n   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("Build open-source, TOOLS! for (everyone)")
	want := []string{"build", "open-source", "tools", "for", "everyone"}
	if len(got) != len(want) {
		t.Fatalf("Keywords() len = %d, want %d (%v)", len(got), len(want), got)
	}
	for _, w := range want {
		if _, ok := got[w]; !ok {
			t.Errorf("Keywords() missing %q", w)
		}
	}

	if len(Keywords("  ... !!  ")) != 0 {
		t.Error("Keywords() of punctuation should be empty")
	}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"full", "solar energy panel", "solar energy", 1.0},
		{"half", "solar panel", "solar energy", 0.5},
		{"none", "books", "solar energy", 0},
		{"empty b", "solar", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlap(Keywords(tt.a), Keywords(tt.b)); got != tt.want {
				t.Errorf("Overlap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Art ", "art", "", "tech", "ART", "Tech "})
	if len(got) != 2 || got[0] != "Art" || got[1] != "tech" {
		t.Errorf("NormalizeTags() = %v, want [Art tech]", got)
	}
}
