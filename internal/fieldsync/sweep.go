package fieldsync

import (
	"context"

	"go.uber.org/zap"
)

// ListSource enumerates the lists a sweep visits.  *store.Repository
// satisfies it.
type ListSource interface {
	ActiveListIDs(ctx context.Context) ([]int64, error)
}

// Syncer runs one list.  *Runner satisfies it.
type Syncer interface {
	Run(ctx context.Context, listID int64, logf LogFunc) (bool, error)
}

// SweepReport tallies one sweep.
type SweepReport struct {
	Lists  int
	Synced int
	Busy   int
	Failed int
}

// Sweep runs every active list in turn.  A failing list is logged and the
// sweep moves on; only the initial enumeration can fail it.
func Sweep(ctx context.Context, lists ListSource, s Syncer, logf LogFunc, log *zap.SugaredLogger) (SweepReport, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := progress(logf)

	var rep SweepReport
	ids, err := lists.ActiveListIDs(ctx)
	if err != nil {
		return rep, err
	}
	rep.Lists = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.Run(ctx, id, logf)
		switch {
		case err != nil:
			rep.Failed++
			log.Errorw("sweep: list sync failed", "list_id", id, "err", err)
			p("Error while syncing list id %d: %v", id, err)
		case !ok:
			rep.Busy++
		default:
			rep.Synced++
		}
	}
	log.Infow("sweep finished", "lists", rep.Lists, "synced", rep.Synced, "busy", rep.Busy, "failed", rep.Failed)
	return rep, ctx.Err()
}
