package capsule

import (
	"maps"
	"slices"
)

// Capsule is an agent's identity record: what it wants and what it cares about.
// Capsules are immutable except through a validated ModificationRequest.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string `json:"id"`

	// Goal is free text describing the agent's objective
	Goal string `json:"goal"`

	// Values maps a value keyword to its weight (stored as JSON in DB)
	Values map[string]float64 `json:"values"`

	// Tags is an ordered set of labels (stored as JSON in DB)
	Tags []string `json:"tags"`

	// WalletAddress is the payer address used for payments (nullable)
	WalletAddress *string `json:"wallet_address,omitempty"`

	// PublicSnippet is a short public description (nullable)
	PublicSnippet *string `json:"public_snippet,omitempty"`

	// CreatedAt is the Unix timestamp when the capsule was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the capsule was last modified
	UpdatedAt int64 `json:"updated_at"`
}

// Clone returns a deep copy so callers can derive a modified capsule without
// touching the shared original.
func (c *Capsule) Clone() *Capsule {
	if c == nil {
		return nil
	}
	out := *c
	out.Values = maps.Clone(c.Values)
	out.Tags = slices.Clone(c.Tags)
	if c.WalletAddress != nil {
		w := *c.WalletAddress
		out.WalletAddress = &w
	}
	if c.PublicSnippet != nil {
		s := *c.PublicSnippet
		out.PublicSnippet = &s
	}
	return &out
}

// HasTag reports whether the capsule carries tag (case-insensitive).
func (c *Capsule) HasTag(tag string) bool {
	tag = Normalize(tag)
	for _, t := range c.Tags {
		if Normalize(t) == tag {
			return true
		}
	}
	return false
}

// ValueKeys returns the value keywords in sorted order.
func (c *Capsule) ValueKeys() []string {
	return slices.Sorted(maps.Keys(c.Values))
}
