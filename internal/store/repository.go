// internal/store/repository.go
//
// Query helpers for the list custom-fields sync.
//
// Context
// -------
// The runner needs four answers per list, all cheap aggregate or indexed
// reads on the shared pool:
//
//  1. How many subscribers does the list have?     → `CountSubscribers()`
//  2. What is the field-definition checksum?        → `FieldsChecksum()`
//  3. Which field definitions exist?                → `Fields()`
//  4. A dedicated connection for one worker page.   → `Session()`
//
// The queue processor and the sweep add list lookups, and the notifier
// writes `customer_message` rows.
//
// Notes
// -----
// • Table names carry the MailWizz prefix, so queries are assembled once
//   per Repository rather than written as constants.
// • Helpers never log; callers wrap errors with context.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// querier is satisfied by both *sqlx.DB and *sqlx.Conn.
type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Repository runs list-level queries on a shared pool.
type Repository struct {
	db *sqlx.DB
	t  Tables
}

// NewRepository binds db to the tables named by prefix.
func NewRepository(db *sqlx.DB, prefix string) *Repository {
	return &Repository{db: db, t: NewTables(prefix)}
}

// CountSubscribers returns the number of subscribers in listID, whatever
// their status.
func (r *Repository) CountSubscribers(ctx context.Context, listID int64) (int, error) {
	q := `SELECT COUNT(*) FROM ` + r.t.Subscriber + ` WHERE list_id = ?`
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, q, listID); err != nil {
		return 0, fmt.Errorf("count subscribers of list %d: %w", listID, err)
	}
	return n, nil
}

// FieldsChecksum returns AVG(last_updated) over the list's field
// definitions as the database renders it.  A list without fields yields "".
func (r *Repository) FieldsChecksum(ctx context.Context, listID int64) (string, error) {
	q := `SELECT AVG(last_updated) AS avg_last_updated FROM ` + r.t.Field + ` WHERE list_id = ?`
	var avg sql.NullString
	if err := sqlx.GetContext(ctx, r.db, &avg, q, listID); err != nil {
		return "", fmt.Errorf("fields checksum of list %d: %w", listID, err)
	}
	return avg.String, nil
}

// Fields returns every field definition of listID.
func (r *Repository) Fields(ctx context.Context, listID int64) ([]Field, error) {
	q := `SELECT field_id, tag, default_value FROM ` + r.t.Field + ` WHERE list_id = ? ORDER BY field_id ASC`
	fields := make([]Field, 0, 16)
	if err := sqlx.SelectContext(ctx, r.db, &fields, q, listID); err != nil {
		return nil, fmt.Errorf("load fields of list %d: %w", listID, err)
	}
	return fields, nil
}

// ActiveListIDs returns the id of every active list, ascending.
func (r *Repository) ActiveListIDs(ctx context.Context) ([]int64, error) {
	q := `SELECT list_id FROM ` + r.t.List + ` WHERE status = ? ORDER BY list_id ASC`
	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, ListStatusActive); err != nil {
		return nil, fmt.Errorf("load active lists: %w", err)
	}
	return ids, nil
}

// ActiveList fetches one list that is still active, or ErrNotFound.
func (r *Repository) ActiveList(ctx context.Context, listID int64) (*List, error) {
	q := `SELECT list_id, list_uid, customer_id, name, status FROM ` + r.t.List +
		` WHERE list_id = ? AND status = ? LIMIT 1`
	var l List
	err := sqlx.GetContext(ctx, r.db, &l, q, listID, ListStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load list %d: %w", listID, err)
	}
	return &l, nil
}

// InsertCustomerMessage stores one unseen notification.
func (r *Repository) InsertCustomerMessage(ctx context.Context, m CustomerMessage) error {
	q := `INSERT INTO ` + r.t.CustomerMessage + ` (message_uid, customer_id, title, message,
	    title_translation_params, message_translation_params, status, date_added, last_updated)
	    VALUES (?, ?, ?, ?, ?, ?, 'unseen', NOW(), NOW())`
	_, err := r.db.ExecContext(ctx, q, m.UID, m.CustomerID, m.Title, m.Message,
		m.TitleTranslationParams, m.MessageTranslationParams)
	if err != nil {
		return fmt.Errorf("insert customer message for customer %d: %w", m.CustomerID, err)
	}
	return nil
}

// Session checks out a dedicated connection from the pool.  The caller
// must Close it; a worker never shares its session.
func (r *Repository) Session(ctx context.Context) (Session, error) {
	c, err := r.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	return &conn{c: c, t: r.t}, nil
}
