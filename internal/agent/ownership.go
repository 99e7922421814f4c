package agent

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Token standards.
const (
	StandardDigital    = "ERC-1155"
	StandardRedeemable = "RedPaperclipRedeemable"
)

// ItemTypeDigital marks items minted under StandardDigital.
const ItemTypeDigital = "digital"

// MintIntent describes an ownership record the caller should create after an
// accepted trade. The negotiation layer reports it; it never mints itself.
type MintIntent struct {
	ItemName      string  `json:"item_name"`
	ItemType      string  `json:"item_type"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	Value         float64 `json:"value"`
	CorrelationID string  `json:"correlation_id"`
}

// Ownership is a minted record of an item held by an agent.
type Ownership struct {
	NFTID         string     `json:"nft_id"`
	Standard      string     `json:"standard"`
	ItemName      string     `json:"item_name"`
	ItemType      string     `json:"item_type"`
	Owner         string     `json:"owner"`
	From          string     `json:"from,omitempty"`
	Value         float64    `json:"value"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	MintedAt      time.Time  `json:"minted_at"`
	Current       bool       `json:"current"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// Mint records a new ownership of intent.ItemName by this agent, archiving
// any record it already holds for the same item.
func (a *Agent) Mint(intent MintIntent) Ownership {
	standard := StandardRedeemable
	if intent.ItemType == ItemTypeDigital {
		standard = StandardDigital
	}
	now := time.Now().UTC()
	rec := Ownership{
		NFTID:         uuid.NewString(),
		Standard:      standard,
		ItemName:      intent.ItemName,
		ItemType:      intent.ItemType,
		Owner:         a.ID,
		From:          intent.From,
		Value:         intent.Value,
		CorrelationID: intent.CorrelationID,
		MintedAt:      now,
		Current:       true,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.owned[:0]
	for _, o := range a.owned {
		if o.ItemName == intent.ItemName {
			o.Current = false
			o.ArchivedAt = &now
			a.archived = append(a.archived, o)
			continue
		}
		kept = append(kept, o)
	}
	a.owned = append(kept, rec)
	return rec
}

// Owned returns the records the agent currently holds.
func (a *Agent) Owned() []Ownership {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.owned)
}

// Provenance returns current and archived records for itemName, newest first,
// bounded by the provenance limit.
func (a *Agent) Provenance(itemName string) []Ownership {
	a.mu.RLock()
	var chain []Ownership
	for _, list := range [][]Ownership{a.owned, a.archived} {
		for _, o := range list {
			if o.ItemName == itemName {
				chain = append(chain, o)
			}
		}
	}
	limit := a.provenanceLimit
	a.mu.RUnlock()

	slices.SortStableFunc(chain, func(x, y Ownership) int {
		return cmp.Compare(y.MintedAt.UnixNano(), x.MintedAt.UnixNano())
	})
	if len(chain) > limit {
		chain = chain[:limit]
	}
	return chain
}
