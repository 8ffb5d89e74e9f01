// internal/fieldsync/batch.go
//
// Batch processor: one page of subscribers against every field definition.
//
// Notes
// -----
// • A value that is blank while its definition's default is not is stale
//   (the default changed after the row was written).  It is deleted and the
//   subscriber counts as missing for that field, so the current default is
//   inserted in its place.
// • Persistence errors stay inside the batch.  A failed delete keeps the row
//   as present; a failed insert chunk skips the rest of that field only.
package fieldsync

import (
	"context"
	"strings"

	"github.com/yanizio/fieldsync/internal/metrics"
	"github.com/yanizio/fieldsync/internal/store"
)

// BatchStats counts what a batch (or a whole run) did.
type BatchStats struct {
	Subscribers int
	Pruned      int
	Inserted    int
	Failed      int
}

func (s *BatchStats) add(o BatchStats) {
	s.Subscribers += o.Subscribers
	s.Pruned += o.Pruned
	s.Inserted += o.Inserted
	s.Failed += o.Failed
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// processBatch fills the gaps of one page.  Only the existing-values load
// can fail it.
func (r *Runner) processBatch(ctx context.Context, sess store.Session, fields []store.Field, subs []store.Subscriber, worker int, p progressFunc) (BatchStats, error) {
	st := BatchStats{Subscribers: len(subs)}
	if len(fields) == 0 || len(subs) == 0 {
		return st, nil
	}
	p("[%d] Starting a new batch counting %d subscribers...", worker, len(subs))

	ids := make([]int64, len(subs))
	byID := make(map[int64]*store.Subscriber, len(subs))
	for i := range subs {
		ids[i] = subs[i].ID
		byID[subs[i].ID] = &subs[i]
	}

	existing, err := sess.FieldValuesFor(ctx, ids)
	if err != nil {
		return st, err
	}

	present := make(map[int64]map[int64]struct{}, len(fields))
	stored := make(map[int64]map[string]string)
	for _, v := range existing {
		if blank(v.Value) && !blank(v.DefaultValue) {
			err := sess.DeleteFieldValue(ctx, v.ValueID)
			if err == nil {
				st.Pruned++
				continue
			}
			st.Failed++
			r.log.Errorw("delete stale field value",
				"value_id", v.ValueID, "field_id", v.FieldID, "subscriber_id", v.SubscriberID, "err", err)
		}
		set := present[v.FieldID]
		if set == nil {
			set = make(map[int64]struct{})
			present[v.FieldID] = set
		}
		set[v.SubscriberID] = struct{}{}

		if v.Tag != "" {
			if stored[v.SubscriberID] == nil {
				stored[v.SubscriberID] = make(map[string]string)
			}
			stored[v.SubscriberID][strings.ToUpper(v.Tag)] = v.Value
		}
	}

	for id, attrs := range stored {
		byID[id].Attributes = attrs
	}

	// vars are built once per subscriber and shared across fields.
	vars := make(map[int64]map[string]string, len(subs))
	varsFor := func(id int64) map[string]string {
		m, ok := vars[id]
		if !ok {
			m = byID[id].TagVars()
			vars[id] = m
		}
		return m
	}

	now := r.now()
	for _, f := range fields {
		rows := make([]store.FieldValue, 0, len(ids))
		for _, id := range ids {
			if _, ok := present[f.ID][id]; ok {
				continue
			}
			rows = append(rows, store.FieldValue{
				FieldID:      f.ID,
				SubscriberID: id,
				Value:        r.render.Render(f.DefaultValue, varsFor(id)),
				DateAdded:    now,
				LastUpdated:  now,
			})
		}
		if len(rows) == 0 {
			continue
		}
		p("[%d] Field id %d will add %d records.", worker, f.ID, len(rows))

		for start := 0; start < len(rows); start += r.opts.InsertChunk {
			end := min(start+r.opts.InsertChunk, len(rows))
			if err := sess.InsertFieldValues(ctx, rows[start:end]); err != nil {
				st.Failed++
				r.log.Errorw("insert field values",
					"field_id", f.ID, "rows", end-start, "skipped", len(rows)-end, "err", err)
				p("[%d] Field id %d insert failed: %v", worker, f.ID, err)
				break
			}
			st.Inserted += end - start
		}
	}

	metrics.FieldValuesInsertedTotal.Add(float64(st.Inserted))
	metrics.FieldValuesPrunedTotal.Add(float64(st.Pruned))
	metrics.PersistErrorsTotal.Add(float64(st.Failed))
	p("[%d] Batch is done.", worker)
	return st, nil
}
