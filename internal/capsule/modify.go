package capsule

import (
	"fmt"
	"strings"

	"github.com/hpungsan/paperclip/internal/errors"
)

// Modifiable capsule fields.
const (
	FieldGoal          = "goal"
	FieldValues        = "values"
	FieldTags          = "tags"
	FieldWalletAddress = "wallet_address"
	FieldPublicSnippet = "public_snippet"
)

var modifiableFields = map[string]bool{
	FieldGoal:          true,
	FieldValues:        true,
	FieldTags:          true,
	FieldWalletAddress: true,
	FieldPublicSnippet: true,
}

// ModificationRequest changes exactly one capsule field.
// Value is decoded loosely so requests arriving as JSON (float64, []any,
// map[string]any) validate the same as typed Go values.
type ModificationRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Validate checks the field name and value type without applying anything.
func (r ModificationRequest) Validate() error {
	_, err := r.apply(&Capsule{})
	return err
}

// Apply returns a modified copy of c. The original is left untouched.
func (r ModificationRequest) Apply(c *Capsule) (*Capsule, error) {
	if c == nil {
		return nil, errors.NewInvalidRequest("capsule is required")
	}
	return r.apply(c.Clone())
}

func (r ModificationRequest) apply(out *Capsule) (*Capsule, error) {
	field := strings.TrimSpace(r.Field)
	if field == "" {
		return nil, errors.NewInvalidRequest("field is required")
	}
	if !modifiableFields[field] {
		return nil, errors.NewUnknownField(field)
	}

	switch field {
	case FieldGoal:
		s, ok := r.Value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, errors.NewInvalidRequest("goal must be a non-empty string")
		}
		out.Goal = strings.TrimSpace(s)

	case FieldValues:
		values, err := toWeights(r.Value)
		if err != nil {
			return nil, err
		}
		out.Values = values

	case FieldTags:
		tags, err := toStrings(r.Value)
		if err != nil {
			return nil, err
		}
		out.Tags = NormalizeTags(tags)

	case FieldWalletAddress:
		p, err := toOptionalString(field, r.Value)
		if err != nil {
			return nil, err
		}
		out.WalletAddress = p

	case FieldPublicSnippet:
		p, err := toOptionalString(field, r.Value)
		if err != nil {
			return nil, err
		}
		out.PublicSnippet = p
	}

	return out, nil
}

func toWeights(v any) (map[string]float64, error) {
	out := make(map[string]float64)
	switch m := v.(type) {
	case map[string]float64:
		for k, w := range m {
			out[Normalize(k)] = w
		}
	case map[string]any:
		for k, raw := range m {
			w, ok := toFloat(raw)
			if !ok {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("values[%s] must be a number", k))
			}
			out[Normalize(k)] = w
		}
	default:
		return nil, errors.NewInvalidRequest("values must be an object of weights")
	}
	delete(out, "")
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("tags[%d] must be a string", i))
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, errors.NewInvalidRequest("tags must be a list of strings")
}

func toOptionalString(field string, v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, errors.NewInvalidRequest(field + " must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// RequestStatus is the review state of a ChangeRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// ChangeRequest is an agent's request to modify its own capsule, kept as an
// audit record whether or not it is approved.
type ChangeRequest struct {
	ID         string              `json:"id"`
	AgentID    string              `json:"agent_id"`
	CapsuleID  string              `json:"capsule_id"`
	Change     ModificationRequest `json:"change"`
	Reason     string              `json:"reason,omitempty"`
	Status     RequestStatus       `json:"status"`
	Reviewer   *string             `json:"reviewer,omitempty"`
	Comment    *string             `json:"comment,omitempty"`
	CreatedAt  int64               `json:"created_at"`
	ReviewedAt *int64              `json:"reviewed_at,omitempty"`
}
