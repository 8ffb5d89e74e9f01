package fieldsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/fieldsync/internal/store"
)

func batch(t *testing.T, h *harness) BatchStats {
	t.Helper()
	ctx := context.Background()
	sess, err := h.db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()

	subs, err := sess.SubscribersPage(ctx, 1, 100, 0)
	require.NoError(t, err)
	st, err := h.runner.processBatch(ctx, sess, h.db.fields, subs, 0, progress(nil))
	require.NoError(t, err)
	return st
}

func TestProcessBatch_ChunksInserts(t *testing.T) {
	db := newFakeDB(5, store.Field{ID: 1, Tag: "F1", DefaultValue: "x"})
	h := newHarness(db, Options{InsertChunk: 2})

	st := batch(t, h)
	assert.Equal(t, 5, st.Inserted)
	assert.Equal(t, 3, db.insertCalls)
}

func TestProcessBatch_FailedFieldDoesNotStopOthers(t *testing.T) {
	db := newFakeDB(4,
		store.Field{ID: 1, Tag: "F1", DefaultValue: "x"},
		store.Field{ID: 2, Tag: "F2", DefaultValue: "y"},
	)
	db.failInsertField = 1
	h := newHarness(db, Options{InsertChunk: 2})

	st := batch(t, h)
	assert.Equal(t, 1, st.Failed, "remaining chunks of the field are skipped")
	assert.Equal(t, 4, st.Inserted)
	assert.Equal(t, 3, db.insertCalls)
	for _, s := range db.subs {
		assert.Empty(t, db.valuesOf(1, s.ID))
		assert.Equal(t, []string{"y"}, db.valuesOf(2, s.ID))
	}
}

func TestProcessBatch_FailedDeleteKeepsRow(t *testing.T) {
	db := newFakeDB(2, store.Field{ID: 1, Tag: "F1", DefaultValue: "x"})
	db.seed(1, 1, "")
	db.failDelete = true
	h := newHarness(db, Options{})

	st := batch(t, h)
	assert.Equal(t, 1, st.Failed)
	assert.Zero(t, st.Pruned)
	assert.Equal(t, 1, st.Inserted)
	assert.Equal(t, []string{""}, db.valuesOf(1, 1))
	assert.Equal(t, []string{"x"}, db.valuesOf(1, 2))
}

func TestProcessBatch_RendersFromStoredValues(t *testing.T) {
	db := newFakeDB(2,
		store.Field{ID: 1, Tag: "FNAME"},
		store.Field{ID: 2, Tag: "HELLO", DefaultValue: "Hi [FNAME] on {DATE}"},
	)
	db.seed(1, 1, "Zoe")
	h := newHarness(db, Options{})

	batch(t, h)
	assert.Equal(t, []string{"Hi Zoe on 2024-03-09"}, db.valuesOf(2, 1))
	assert.Equal(t, []string{"Hi  on 2024-03-09"}, db.valuesOf(2, 2))
}

func TestProcessBatch_NoFields(t *testing.T) {
	db := newFakeDB(3)
	h := newHarness(db, Options{})

	st := batch(t, h)
	assert.Equal(t, BatchStats{Subscribers: 3}, st)
	assert.Zero(t, db.insertCalls)
}

func TestProcessBatch_FillsAttributesFromStoredValues(t *testing.T) {
	db := newFakeDB(2, store.Field{ID: 1, Tag: "fname"}, store.Field{ID: 2, Tag: "CITY"})
	db.seed(1, 1, "Zoe")
	db.seed(2, 1, "Oslo")
	h := newHarness(db, Options{})
	ctx := context.Background()

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Close()
	subs, err := sess.SubscribersPage(ctx, 1, 100, 0)
	require.NoError(t, err)

	_, err = h.runner.processBatch(ctx, sess, db.fields, subs, 0, progress(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FNAME": "Zoe", "CITY": "Oslo"}, subs[0].Attributes)
	assert.Nil(t, subs[1].Attributes)
	assert.Nil(t, db.subs[0].Attributes, "page rows are copies")
}
