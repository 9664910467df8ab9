package memory

import (
	"fmt"
	"log/slog"

	"github.com/iammorganparry/clive/apps/recall/internal/snapshot"
	"github.com/iammorganparry/clive/apps/recall/internal/store"
)

// ReconcileResult reports what a reconciliation pass did.
type ReconcileResult struct {
	Rebuilt  bool  `json:"rebuilt"`
	Records  int   `json:"records"`
	Patterns int   `json:"patterns"`
	Imported int   `json:"imported,omitempty"`
	LastID   int64 `json:"last_id"`
}

// Reconciler replays RecordStore into the snapshot cache.
type Reconciler struct {
	records  *store.RecordStore
	cache    *snapshot.Cache
	capacity int
	logger   *slog.Logger
}

func NewReconciler(records *store.RecordStore, cache *snapshot.Cache, capacity int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		records:  records,
		cache:    cache,
		capacity: capacity,
		logger:   logger,
	}
}

// Run rebuilds the conversation snapshot from the newest RecordStore rows
// when force is set or the snapshot's last id differs from the store's,
// then refreshes the learning snapshot. Patterns found only in the
// learning snapshot are imported into RecordStore first. Store read failures are returned
// as *store.StorageIOError; snapshot write failures are returned as-is.
func (r *Reconciler) Run(force bool) (ReconcileResult, error) {
	var res ReconcileResult

	maxID, err := r.records.MaxConversationID()
	if err != nil {
		return res, err
	}
	res.LastID = maxID

	if force || r.cache.LastID() != maxID {
		recs, err := r.records.RecentConversations(r.capacity)
		if err != nil {
			return res, err
		}
		if err := r.cache.Replace(recs); err != nil {
			return res, fmt.Errorf("rebuild snapshot: %w", err)
		}
		res.Rebuilt = true
		res.Records = len(recs)
		r.logger.Info("rebuilt conversation snapshot", "records", res.Records, "last_id", maxID)
	}

	imported, err := r.importPatterns()
	if err != nil {
		return res, err
	}
	res.Imported = imported

	patterns, err := r.records.ListPatterns("")
	if err != nil {
		return res, err
	}
	if err := r.cache.SetPatterns(patterns); err != nil {
		return res, fmt.Errorf("rebuild learning snapshot: %w", err)
	}
	res.Patterns = len(patterns)

	return res, nil
}

// importPatterns seeds an empty learning_patterns table from the learning
// snapshot, which is where earlier versions kept pattern frequencies.
func (r *Reconciler) importPatterns() (int, error) {
	count, err := r.records.CountPatterns()
	if err != nil || count > 0 {
		return 0, err
	}
	mirrored := r.cache.Patterns("")
	if len(mirrored) == 0 {
		return 0, nil
	}
	n, err := r.records.ImportPatterns(mirrored)
	if err != nil {
		return 0, err
	}
	r.logger.Info("imported learning patterns from snapshot", "patterns", n)
	return n, nil
}

// refreshPatterns mirrors the current learning patterns into the cache.
func (r *Reconciler) refreshPatterns() error {
	patterns, err := r.records.ListPatterns("")
	if err != nil {
		return err
	}
	return r.cache.SetPatterns(patterns)
}
