package fieldsync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yanizio/fieldsync/internal/store"
)

// fakeDB is an in-memory stand-in for one MailWizz list.
type fakeDB struct {
	mu      sync.Mutex
	subs    []store.Subscriber
	fields  []store.Field
	updated map[int64]int64 // field id -> last_updated (unix)
	values  map[int64]store.FieldValue
	nextID  int64

	insertCalls int
	deletes     int
	sessions    int
	open        int

	failPage        error
	failInsertField int64
	failDelete      bool

	// gate, when set, parks FieldValuesFor until closed; entered is closed
	// by the first caller.
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newFakeDB(subscribers int, fields ...store.Field) *fakeDB {
	db := &fakeDB{updated: map[int64]int64{}, values: map[int64]store.FieldValue{}}
	for i := 1; i <= subscribers; i++ {
		db.subs = append(db.subs, store.Subscriber{
			ID:    int64(i),
			UID:   fmt.Sprintf("uid%d", i),
			Email: fmt.Sprintf("s%d@example.com", i),
		})
	}
	for _, f := range fields {
		db.fields = append(db.fields, f)
		db.updated[f.ID] = 1000
	}
	return db
}

func (db *fakeDB) seed(fieldID, subscriberID int64, value string) {
	db.nextID++
	db.values[db.nextID] = store.FieldValue{FieldID: fieldID, SubscriberID: subscriberID, Value: value}
}

func (db *fakeDB) setDefault(fieldID int64, def string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.fields {
		if db.fields[i].ID == fieldID {
			db.fields[i].DefaultValue = def
			db.updated[fieldID] += 10
		}
	}
}

// valuesOf returns every stored value of (field, subscriber).
func (db *fakeDB) valuesOf(fieldID, subscriberID int64) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, v := range db.values {
		if v.FieldID == fieldID && v.SubscriberID == subscriberID {
			out = append(out, v.Value)
		}
	}
	return out
}

func (db *fakeDB) CountSubscribers(context.Context, int64) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.subs), nil
}

func (db *fakeDB) FieldsChecksum(context.Context, int64) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.fields) == 0 {
		return "", nil
	}
	var sum int64
	for _, f := range db.fields {
		sum += db.updated[f.ID]
	}
	return fmt.Sprintf("%.4f", float64(sum)/float64(len(db.fields))), nil
}

func (db *fakeDB) Fields(context.Context, int64) ([]store.Field, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]store.Field(nil), db.fields...), nil
}

func (db *fakeDB) Session(context.Context) (store.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sessions++
	db.open++
	return &fakeSession{db: db}, nil
}

type fakeSession struct {
	db     *fakeDB
	closed bool
}

func (s *fakeSession) SubscribersPage(_ context.Context, _ int64, limit, offset int) ([]store.Subscriber, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failPage != nil {
		return nil, s.db.failPage
	}
	if offset >= len(s.db.subs) {
		return nil, nil
	}
	end := min(offset+limit, len(s.db.subs))
	return append([]store.Subscriber(nil), s.db.subs[offset:end]...), nil
}

func (s *fakeSession) FieldValuesFor(_ context.Context, ids []int64) ([]store.ExistingValue, error) {
	if s.db.gate != nil {
		s.db.once.Do(func() { close(s.db.entered) })
		<-s.db.gate
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	defs := map[int64]store.Field{}
	for _, f := range s.db.fields {
		defs[f.ID] = f
	}
	var out []store.ExistingValue
	for vid, v := range s.db.values {
		if !want[v.SubscriberID] {
			continue
		}
		out = append(out, store.ExistingValue{
			ValueID:      vid,
			FieldID:      v.FieldID,
			SubscriberID: v.SubscriberID,
			Value:        v.Value,
			Tag:          defs[v.FieldID].Tag,
			DefaultValue: defs[v.FieldID].DefaultValue,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValueID < out[j].ValueID })
	return out, nil
}

func (s *fakeSession) DeleteFieldValue(_ context.Context, valueID int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failDelete {
		return fmt.Errorf("delete %d: lock wait timeout", valueID)
	}
	delete(s.db.values, valueID)
	s.db.deletes++
	return nil
}

func (s *fakeSession) InsertFieldValues(_ context.Context, rows []store.FieldValue) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.insertCalls++
	for _, r := range rows {
		if r.FieldID == s.db.failInsertField {
			return fmt.Errorf("insert field %d: deadlock", r.FieldID)
		}
	}
	for _, r := range rows {
		s.db.nextID++
		s.db.values[s.db.nextID] = r
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.db.open--
	}
	return nil
}
