// internal/notify/notify.go
//
// Customer-facing notifications for queued list syncs.
//
// Context
//   A queued sync tells the list owner when it starts and how it ended by
//   writing an unseen `customer_message` row.  The body keeps a `{list}`
//   placeholder; its translation param is an anchor to the list overview in
//   the customer area, so the panel renders a link in the user's language.
//
// Notes
//   • Notification failures never fail a sync.  Callers log and move on.
//   • Link text and href are HTML-escaped; the JSON keeps `<` and `>` as-is
//     so stored params stay readable.
//
//------------------------------------------------------------------------------

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/yanizio/fieldsync/internal/store"
)

// Title is shared by every sync notification.
const Title = "Sync list custom fields"

// Message bodies.  `{list}` is filled from the translation params.
const (
	StartedMessage   = `Started the sync custom fields process for the "{list}" list`
	CompletedMessage = `Completed the sync custom fields process for the "{list}" list`
	FailedMessage    = `Error while running the sync process for the "{list}" list custom fields`
)

// Sink persists customer messages.  *store.Repository satisfies it.
type Sink interface {
	InsertCustomerMessage(ctx context.Context, m store.CustomerMessage) error
}

// Notifier writes sync lifecycle messages for a list's owner.
type Notifier struct {
	sink        Sink
	customerURL string
	newUID      func() string
}

// New returns a Notifier linking to lists under customerURL.
func New(sink Sink, customerURL string) *Notifier {
	return &Notifier{sink: sink, customerURL: customerURL, newUID: uuid.NewString}
}

// Started records that a sync began.
func (n *Notifier) Started(ctx context.Context, l *store.List) error {
	return n.send(ctx, l, StartedMessage)
}

// Completed records that a sync finished, lease contention included.
func (n *Notifier) Completed(ctx context.Context, l *store.List) error {
	return n.send(ctx, l, CompletedMessage)
}

// Failed records that a sync ended with an error.
func (n *Notifier) Failed(ctx context.Context, l *store.List) error {
	return n.send(ctx, l, FailedMessage)
}

func (n *Notifier) send(ctx context.Context, l *store.List, body string) error {
	params, err := encodeParams(map[string]string{"{list}": Link(l.Name, ListURL(n.customerURL, l.UID))})
	if err != nil {
		return err
	}
	return n.sink.InsertCustomerMessage(ctx, store.CustomerMessage{
		UID:                      n.newUID(),
		CustomerID:               l.CustomerID,
		Title:                    Title,
		Message:                  body,
		TitleTranslationParams:   "{}",
		MessageTranslationParams: params,
	})
}

// ListURL is the customer-area overview page of a list.
func ListURL(customerURL, listUID string) string {
	return strings.TrimRight(customerURL, "/") + "/lists/" + listUID + "/overview"
}

// Link renders an escaped anchor.
func Link(text, href string) string {
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`
}

func encodeParams(p map[string]string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
