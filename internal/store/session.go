// internal/store/session.go
//
// Per-worker connection scope.
//
// Context
// -------
// Every sync worker owns one checked-out connection for the lifetime of its
// page.  The page read, the stale-empty prune, and the inserts all run on
// that connection and never on a handle another goroutine can touch.
//
// Notes
// -----
// • `FieldValuesFor` expands its IN clause with sqlx.In; pages are capped
//   at the runner's page size, well under MySQL's placeholder limit.
// • Inserts are one multi-row statement per call; chunking is the caller's
//   business.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Session is the dedicated-connection view a sync worker uses.
type Session interface {
	SubscribersPage(ctx context.Context, listID int64, limit, offset int) ([]Subscriber, error)
	FieldValuesFor(ctx context.Context, subscriberIDs []int64) ([]ExistingValue, error)
	DeleteFieldValue(ctx context.Context, valueID int64) error
	InsertFieldValues(ctx context.Context, rows []FieldValue) error
	Close() error
}

type conn struct {
	c *sqlx.Conn
	t Tables
}

var _ Session = (*conn)(nil)

// SubscribersPage loads one page ordered by subscriber_id so offsets stay
// stable while the list is not mutated.
func (s *conn) SubscribersPage(ctx context.Context, listID int64, limit, offset int) ([]Subscriber, error) {
	q := `SELECT subscriber_id, subscriber_uid, email,
	        COALESCE(ip_address, '') AS ip_address, COALESCE(source, '') AS source, status
	      FROM ` + s.t.Subscriber + `
	      WHERE list_id = ?
	      ORDER BY subscriber_id ASC
	      LIMIT ? OFFSET ?`
	subs := make([]Subscriber, 0, limit)
	if err := sqlx.SelectContext(ctx, s.c, &subs, q, listID, limit, offset); err != nil {
		return nil, fmt.Errorf("load subscribers of list %d at offset %d: %w", listID, offset, err)
	}
	return subs, nil
}

// FieldValuesFor returns every stored value of the given subscribers, joined
// with the owning definition's tag and default.
func (s *conn) FieldValuesFor(ctx context.Context, subscriberIDs []int64) ([]ExistingValue, error) {
	if len(subscriberIDs) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT v.value_id, v.field_id, v.subscriber_id, v.value, f.tag, f.default_value
	      FROM `+s.t.FieldValue+` v
	      INNER JOIN `+s.t.Field+` f ON f.field_id = v.field_id
	      WHERE v.subscriber_id IN (?)`, subscriberIDs)
	if err != nil {
		return nil, err
	}
	var vals []ExistingValue
	if err := sqlx.SelectContext(ctx, s.c, &vals, q, args...); err != nil {
		return nil, fmt.Errorf("load field values: %w", err)
	}
	return vals, nil
}

// DeleteFieldValue removes one row by primary key.
func (s *conn) DeleteFieldValue(ctx context.Context, valueID int64) error {
	q := `DELETE FROM ` + s.t.FieldValue + ` WHERE value_id = ?`
	if _, err := s.c.ExecContext(ctx, q, valueID); err != nil {
		return fmt.Errorf("delete field value %d: %w", valueID, err)
	}
	return nil
}

// InsertFieldValues writes rows in a single multi-row INSERT.
func (s *conn) InsertFieldValues(ctx context.Context, rows []FieldValue) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO ` + s.t.FieldValue + ` (field_id, subscriber_id, value, date_added, last_updated) VALUES `)
	args := make([]any, 0, len(rows)*5)
	for i, r := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, r.FieldID, r.SubscriberID, r.Value, r.DateAdded, r.LastUpdated)
	}
	if _, err := s.c.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert %d field values: %w", len(rows), err)
	}
	return nil
}

// Close returns the connection to the pool.
func (s *conn) Close() error { return s.c.Close() }
