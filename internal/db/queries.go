package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.PaperclipError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const capsuleColumns = `id, goal, values_json, tags_json, wallet_address, public_snippet, created_at, updated_at`

// Insert stores a new capsule in the database.
func Insert(db *sql.DB, c *capsule.Capsule) error {
	valuesJSON, tagsJSON, err := encodeCapsuleJSON(c)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO capsules (` + capsuleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.Exec(query,
		c.ID, c.Goal, valuesJSON, tagsJSON,
		toNullString(c.WalletAddress), toNullString(c.PublicSnippet),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a capsule by its ULID.
func GetByID(db *sql.DB, id string) (*capsule.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE id = ?`

	c, err := scanCapsule(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return c, nil
}

// UpdateByID replaces the mutable fields of an existing capsule and sets
// updated_at to the current time. Does NOT change: id, created_at.
func UpdateByID(db *sql.DB, c *capsule.Capsule) error {
	valuesJSON, tagsJSON, err := encodeCapsuleJSON(c)
	if err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()

	query := `
		UPDATE capsules
		SET goal = ?, values_json = ?, tags_json = ?, wallet_address = ?,
			public_snippet = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query,
		c.Goal, valuesJSON, tagsJSON,
		toNullString(c.WalletAddress), toNullString(c.PublicSnippet), now,
		c.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(c.ID)
	}

	c.UpdatedAt = now
	return nil
}

// ListFilter narrows ListCapsules results.
type ListFilter struct {
	Tag    string
	Limit  int
	Offset int
}

// ListCapsules returns capsules ordered by updated_at DESC, plus the total
// count matching the filter (ignoring pagination).
func ListCapsules(db *sql.DB, f ListFilter) ([]*capsule.Capsule, int, error) {
	where := ""
	var args []any
	if tag := capsule.Normalize(f.Tag); tag != "" {
		where = ` WHERE EXISTS (SELECT 1 FROM json_each(capsules.tags_json) WHERE lower(json_each.value) = ?)`
		args = append(args, tag)
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM capsules`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + capsuleColumns + ` FROM capsules` + where +
		` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]*capsule.Capsule, 0)
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return items, total, nil
}

// InsertChangeRequest stores a new modification request.
func InsertChangeRequest(db *sql.DB, r *capsule.ChangeRequest) error {
	valueJSON, err := json.Marshal(r.Change.Value)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO modification_requests (
			id, agent_id, capsule_id, field, value_json, reason, status,
			reviewer, comment, created_at, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, NULL)
	`
	_, err = db.Exec(query,
		r.ID, r.AgentID, r.CapsuleID, r.Change.Field, string(valueJSON),
		r.Reason, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetChangeRequest retrieves a modification request by id.
func GetChangeRequest(db *sql.DB, id string) (*capsule.ChangeRequest, error) {
	query := `
		SELECT id, agent_id, capsule_id, field, value_json, reason, status,
			reviewer, comment, created_at, reviewed_at
		FROM modification_requests WHERE id = ?
	`

	var (
		r          capsule.ChangeRequest
		valueJSON  sql.NullString
		reason     sql.NullString
		status     string
		reviewer   sql.NullString
		comment    sql.NullString
		reviewedAt sql.NullInt64
	)
	err := db.QueryRow(query, id).Scan(
		&r.ID, &r.AgentID, &r.CapsuleID, &r.Change.Field, &valueJSON, &reason, &status,
		&reviewer, &comment, &r.CreatedAt, &reviewedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if valueJSON.Valid && valueJSON.String != "" {
		if err := json.Unmarshal([]byte(valueJSON.String), &r.Change.Value); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	r.Reason = reason.String
	r.Status = capsule.RequestStatus(status)
	r.Reviewer = fromNullString(reviewer)
	r.Comment = fromNullString(comment)
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Int64
	}

	return &r, nil
}

// CompleteChangeRequest records a review decision. Only pending requests can
// be completed; a request reviewed concurrently yields CONFLICT.
func CompleteChangeRequest(db *sql.DB, r *capsule.ChangeRequest) error {
	now := time.Now().Unix()

	result, err := db.Exec(`
		UPDATE modification_requests
		SET status = ?, reviewer = ?, comment = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, string(r.Status), toNullString(r.Reviewer), toNullString(r.Comment), now,
		r.ID, string(capsule.StatusPending))
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewConflict("modification request already reviewed")
	}

	r.ReviewedAt = &now
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapsule scans a single row into a Capsule struct.
func scanCapsule(row rowScanner) (*capsule.Capsule, error) {
	var (
		c          capsule.Capsule
		valuesJSON sql.NullString
		tagsJSON   sql.NullString
		wallet     sql.NullString
		snippet    sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.Goal, &valuesJSON, &tagsJSON, &wallet, &snippet,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.WalletAddress = fromNullString(wallet)
	c.PublicSnippet = fromNullString(snippet)

	c.Values = map[string]float64{}
	if valuesJSON.Valid && valuesJSON.String != "" {
		if err := json.Unmarshal([]byte(valuesJSON.String), &c.Values); err != nil {
			return nil, err
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

func encodeCapsuleJSON(c *capsule.Capsule) (values, tags sql.NullString, err error) {
	if len(c.Values) > 0 {
		data, err := json.Marshal(c.Values)
		if err != nil {
			return values, tags, err
		}
		values = sql.NullString{String: string(data), Valid: true}
	}
	if len(c.Tags) > 0 {
		data, err := json.Marshal(c.Tags)
		if err != nil {
			return values, tags, err
		}
		tags = sql.NullString{String: string(data), Valid: true}
	}
	return values, tags, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
