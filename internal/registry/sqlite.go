package registry

import (
	"database/sql"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/db"
)

// SQL is a Registry backed by the SQLite database from db.Init.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps an open database.
func NewSQL(database *sql.DB) *SQL {
	return &SQL{db: database}
}

// Create stores a new capsule.
func (r *SQL) Create(input CreateInput) (*capsule.Capsule, error) {
	c, err := newCapsule(input)
	if err != nil {
		return nil, err
	}
	if err := db.Insert(r.db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get retrieves a capsule by id.
func (r *SQL) Get(id string) (*capsule.Capsule, error) {
	return db.GetByID(r.db, id)
}

// Update applies req to the stored capsule and returns the new version.
func (r *SQL) Update(id string, req capsule.ModificationRequest) (*capsule.Capsule, error) {
	current, err := db.GetByID(r.db, id)
	if err != nil {
		return nil, err
	}
	next, err := req.Apply(current)
	if err != nil {
		return nil, err
	}
	if err := db.UpdateByID(r.db, next); err != nil {
		return nil, err
	}
	return next, nil
}

// List returns capsules, most recently updated first.
func (r *SQL) List(input ListInput) (*ListOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)
	items, total, err := db.ListCapsules(r.db, db.ListFilter{Tag: input.Tag, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return listOutput(items, total, limit, offset), nil
}

// SaveRequest stores a new modification request.
func (r *SQL) SaveRequest(req *capsule.ChangeRequest) error {
	return db.InsertChangeRequest(r.db, req)
}

// GetRequest retrieves a modification request.
func (r *SQL) GetRequest(id string) (*capsule.ChangeRequest, error) {
	return db.GetChangeRequest(r.db, id)
}

// CompleteRequest records a review decision.
func (r *SQL) CompleteRequest(req *capsule.ChangeRequest) error {
	return db.CompleteChangeRequest(r.db, req)
}
