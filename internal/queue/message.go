// Package queue carries "list import finished" sync requests from producers
// to the worker: the message model, the processor that decides what to do
// with one delivery, and a Redis Streams broker.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Retry defaults applied to messages that do not carry their own.
const (
	DefaultRetryDelay  = time.Hour
	DefaultMaxAttempts = 5
)

// Attempts is the retry budget of a message.  Delay is in milliseconds.
type Attempts struct {
	Delay   int64 `json:"delay"`
	Max     int   `json:"max"`
	Current int   `json:"current"`
}

// Retry wraps Attempts so the wire form is `retry.attempts.*`.
type Retry struct {
	Attempts Attempts `json:"attempts"`
}

// Message is one sync request.
type Message struct {
	// ID is the broker's delivery id.
	ID string `json:"-"`
	// Redelivered is set by the broker when the delivery is a retry of one
	// that was never acknowledged.
	Redelivered bool `json:"-"`

	ListID       int64  `json:"list_id"`
	RequestKey   string `json:"request_key"`
	RequestValue string `json:"request_value"`
	Retry        Retry  `json:"retry"`
	QueueName    string `json:"queue_name"`
}

// withDefaults fills a zero retry budget.
func (m *Message) withDefaults() {
	a := &m.Retry.Attempts
	if a.Delay <= 0 {
		a.Delay = DefaultRetryDelay.Milliseconds()
	}
	if a.Max <= 0 {
		a.Max = DefaultMaxAttempts
	}
	if a.Current <= 0 {
		a.Current = 1
	}
}

// Clone returns a copy without broker delivery state.
func (m *Message) Clone() *Message {
	c := *m
	c.ID, c.Redelivered = "", false
	return &c
}

// RetryDelay is the base delay as a duration.
func (a Attempts) RetryDelay() time.Duration {
	return time.Duration(a.Delay) * time.Millisecond
}

// Encode returns the JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire payload and applies retry defaults.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}
	m.withDefaults()
	return &m, nil
}

// Result is the processor's verdict on one delivery.
type Result int

const (
	// Ack removes the delivery.
	Ack Result = iota
	// Reject removes the delivery and parks it on the dead-letter stream.
	Reject
)

func (r Result) String() string {
	if r == Reject {
		return "reject"
	}
	return "ack"
}
