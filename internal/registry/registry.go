// Package registry owns capsules keyed by id and the review workflow through
// which agents modify them.
package registry

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// CreateInput contains parameters for the Create operation.
type CreateInput struct {
	Goal          string             // required
	Values        map[string]float64 // keys normalized
	Tags          []string           // deduplicated, order kept
	WalletAddress *string
	PublicSnippet *string
}

// ListInput contains parameters for the List operation.
type ListInput struct {
	Tag    string // optional filter
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []*capsule.Capsule `json:"items"`
	Pagination Pagination         `json:"pagination"`
	Sort       string             `json:"sort"`
}

// Registry stores capsules. Get and Update are the operations the
// negotiation core depends on; the rest serve onboarding and review.
type Registry interface {
	Create(input CreateInput) (*capsule.Capsule, error)
	Get(id string) (*capsule.Capsule, error)
	Update(id string, req capsule.ModificationRequest) (*capsule.Capsule, error)
	List(input ListInput) (*ListOutput, error)

	SaveRequest(r *capsule.ChangeRequest) error
	GetRequest(id string) (*capsule.ChangeRequest, error)
	CompleteRequest(r *capsule.ChangeRequest) error
}

// newCapsule validates input and builds a capsule with a fresh ULID.
func newCapsule(input CreateInput) (*capsule.Capsule, error) {
	goal := strings.TrimSpace(input.Goal)
	if goal == "" {
		return nil, errors.NewInvalidRequest("goal is required")
	}

	values := make(map[string]float64, len(input.Values))
	for k, w := range input.Values {
		if key := capsule.Normalize(k); key != "" {
			values[key] = w
		}
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	return &capsule.Capsule{
		ID:            id,
		Goal:          goal,
		Values:        values,
		Tags:          capsule.NormalizeTags(input.Tags),
		WalletAddress: cleanOptionalString(input.WalletAddress),
		PublicSnippet: cleanOptionalString(input.PublicSnippet),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func newID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}

func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// clampPage applies limit defaults and bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

func listOutput(items []*capsule.Capsule, total, limit, offset int) *ListOutput {
	if items == nil {
		items = []*capsule.Capsule{}
	}
	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}
}
