package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
)

// Memory is an in-process Registry for simulations and tests.
type Memory struct {
	mu       sync.RWMutex
	capsules map[string]*capsule.Capsule
	requests map[string]*capsule.ChangeRequest
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{
		capsules: make(map[string]*capsule.Capsule),
		requests: make(map[string]*capsule.ChangeRequest),
	}
}

// Create stores a new capsule.
func (m *Memory) Create(input CreateInput) (*capsule.Capsule, error) {
	c, err := newCapsule(input)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capsules[c.ID] = c
	return c.Clone(), nil
}

// Get returns a copy of the stored capsule.
func (m *Memory) Get(id string) (*capsule.Capsule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.capsules[id]
	if !ok {
		return nil, errors.NewNotFound(id)
	}
	return c.Clone(), nil
}

// Update applies req and returns the new version.
func (m *Memory) Update(id string, req capsule.ModificationRequest) (*capsule.Capsule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capsules[id]
	if !ok {
		return nil, errors.NewNotFound(id)
	}
	next, err := req.Apply(c)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = max(time.Now().Unix(), c.UpdatedAt)
	m.capsules[id] = next
	return next.Clone(), nil
}

// List returns capsules, most recently updated first.
func (m *Memory) List(input ListInput) (*ListOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)
	tag := capsule.Normalize(input.Tag)

	m.mu.RLock()
	matched := make([]*capsule.Capsule, 0, len(m.capsules))
	for _, c := range m.capsules {
		if tag == "" || c.HasTag(tag) {
			matched = append(matched, c.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *capsule.Capsule) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	start := min(offset, total)
	end := min(start+limit, total)
	return listOutput(matched[start:end], total, limit, offset), nil
}

// SaveRequest stores a new modification request.
func (m *Memory) SaveRequest(r *capsule.ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[r.ID]; exists {
		return errors.NewConflict("modification request already exists")
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

// GetRequest retrieves a modification request.
func (m *Memory) GetRequest(id string) (*capsule.ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, errors.NewNotFound(id)
	}
	cp := *r
	return &cp, nil
}

// CompleteRequest records a review decision. Only pending requests can be completed.
func (m *Memory) CompleteRequest(r *capsule.ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return errors.NewNotFound(r.ID)
	}
	if stored.Status != capsule.StatusPending {
		return errors.NewConflict("modification request already reviewed")
	}
	now := time.Now().Unix()
	r.ReviewedAt = &now
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}
