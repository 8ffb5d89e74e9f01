// internal/store/model.go
//
// Row models for the MailWizz tables the sync engine touches.
//
// Schema reference (MailWizz 2.2, prefix `mw_`)
//
//	list                (list_id PK, list_uid, customer_id, name, status, …)
//	list_subscriber     (subscriber_id PK, subscriber_uid, list_id, email,
//	                     ip_address, source, status, …)
//	list_field          (field_id PK, list_id, tag, default_value,
//	                     last_updated, …)
//	list_field_value    (value_id PK, field_id, subscriber_id, value,
//	                     date_added, last_updated)
//	customer_message    (message_id PK, message_uid, customer_id, title,
//	                     message, title_translation_params,
//	                     message_translation_params, status, date_added,
//	                     last_updated)
//
// Notes
// -----
// • `list_field_value` has no unique key on (field_id, subscriber_id); the
//   sync engine keeps that invariant itself.
// • These structs contain no behaviour beyond tag variables.
package store

import (
	"strconv"
	"strings"
	"time"
)

// ListStatusActive is the only list status the engine acts on.
const ListStatusActive = "active"

// List mirrors the columns of `list` the engine reads.
type List struct {
	ID         int64  `db:"list_id"`
	UID        string `db:"list_uid"`
	CustomerID int64  `db:"customer_id"`
	Name       string `db:"name"`
	Status     string `db:"status"`
}

// Field is one custom-field definition of a list.
type Field struct {
	ID           int64  `db:"field_id"`
	Tag          string `db:"tag"`
	DefaultValue string `db:"default_value"`
}

// Subscriber is one page row of `list_subscriber`.  Attributes carries the
// custom field values already stored for the subscriber, keyed by tag.  It
// is not a column; the batch processor fills it from the loaded values
// before rendering defaults.
type Subscriber struct {
	ID         int64             `db:"subscriber_id"`
	UID        string            `db:"subscriber_uid"`
	Email      string            `db:"email"`
	IP         string            `db:"ip_address"`
	Source     string            `db:"source"`
	Status     string            `db:"status"`
	Attributes map[string]string `db:"-"`
}

// TagVars returns the interpolation variables for s.  A nil subscriber has
// no variables.
func (s *Subscriber) TagVars() map[string]string {
	if s == nil {
		return nil
	}
	vars := make(map[string]string, len(s.Attributes)+9)
	for k, v := range s.Attributes {
		vars[strings.ToUpper(k)] = v
	}

	name, domain := s.Email, ""
	if i := strings.LastIndexByte(s.Email, '@'); i >= 0 {
		name, domain = s.Email[:i], s.Email[i+1:]
	}
	vars["EMAIL"] = s.Email
	vars["SUBSCRIBER_EMAIL"] = s.Email
	vars["SUBSCRIBER_EMAIL_NAME"] = name
	vars["SUBSCRIBER_EMAIL_DOMAIN"] = domain
	vars["SUBSCRIBER_ID"] = strconv.FormatInt(s.ID, 10)
	vars["SUBSCRIBER_UID"] = s.UID
	vars["SUBSCRIBER_IP"] = s.IP
	vars["SUBSCRIBER_SOURCE"] = s.Source
	vars["SUBSCRIBER_STATUS"] = s.Status
	return vars
}

// ExistingValue is a stored field value joined with its definition.
type ExistingValue struct {
	ValueID      int64  `db:"value_id"`
	FieldID      int64  `db:"field_id"`
	SubscriberID int64  `db:"subscriber_id"`
	Value        string `db:"value"`
	Tag          string `db:"tag"`
	DefaultValue string `db:"default_value"`
}

// FieldValue is one row to insert into `list_field_value`.
type FieldValue struct {
	FieldID      int64
	SubscriberID int64
	Value        string
	DateAdded    time.Time
	LastUpdated  time.Time
}

// CustomerMessage is one in-app notification for a customer.
type CustomerMessage struct {
	UID                      string
	CustomerID               int64
	Title                    string
	Message                  string
	TitleTranslationParams   string // JSON object
	MessageTranslationParams string // JSON object
}

// Tables resolves table names for a MailWizz table prefix.
type Tables struct {
	List            string
	Subscriber      string
	Field           string
	FieldValue      string
	CustomerMessage string
}

// NewTables applies prefix to every table name.
func NewTables(prefix string) Tables {
	return Tables{
		List:            prefix + "list",
		Subscriber:      prefix + "list_subscriber",
		Field:           prefix + "list_field",
		FieldValue:      prefix + "list_field_value",
		CustomerMessage: prefix + "customer_message",
	}
}
