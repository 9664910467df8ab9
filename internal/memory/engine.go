// Package memory is the single entry point collaborators use to store and
// recall exchanges, learned patterns and preferences.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/iammorganparry/clive/apps/recall/internal/config"
	"github.com/iammorganparry/clive/apps/recall/internal/models"
	"github.com/iammorganparry/clive/apps/recall/internal/patterns"
	"github.com/iammorganparry/clive/apps/recall/internal/relevance"
	"github.com/iammorganparry/clive/apps/recall/internal/snapshot"
	"github.com/iammorganparry/clive/apps/recall/internal/store"
)

var (
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("memory engine closed")
	// ErrInvalidQuery describes a blank recall query. Recall answers it
	// with an empty result instead of returning it.
	ErrInvalidQuery = errors.New("recall query is empty")
	// ErrEmptyPreferenceKey is returned by SetPreference for a blank key.
	ErrEmptyPreferenceKey = errors.New("preference key must not be empty")
)

// recentActivityDays is the window Summary counts recent activity over.
const recentActivityDays = 7

// Options configure an Engine.
type Options struct {
	DBPath             string
	Snapshot           snapshot.Options
	RecallWindow       int
	RecallThreshold    float64
	DefaultRecallLimit int
	TokenCacheSize     int64
	DefaultUserID      string
	// MeterProvider receives engine metrics; nil uses the global provider.
	MeterProvider metric.MeterProvider
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// OptionsFromConfig maps the process configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DBPath: cfg.DBPath(),
		Snapshot: snapshot.Options{
			Dir:               cfg.SnapshotPath(),
			ConversationsFile: cfg.ConversationsFile,
			LearningFile:      cfg.LearningFile,
			Capacity:          cfg.SnapshotCapacity,
		},
		RecallWindow:       cfg.RecallWindow,
		RecallThreshold:    cfg.RecallThreshold,
		DefaultRecallLimit: cfg.DefaultRecallLimit,
		TokenCacheSize:     int64(cfg.TokenCacheSize),
		DefaultUserID:      cfg.DefaultUserID,
	}
}

func (o *Options) setDefaults() {
	if o.RecallWindow <= 0 {
		o.RecallWindow = snapshot.DefaultWindow
	}
	if o.RecallThreshold <= 0 {
		o.RecallThreshold = relevance.DefaultThreshold
	}
	if o.DefaultRecallLimit <= 0 {
		o.DefaultRecallLimit = 5
	}
	if o.Snapshot.Capacity <= 0 {
		o.Snapshot.Capacity = 1000
	}
	if o.DefaultUserID == "" {
		o.DefaultUserID = "default"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine serializes all mutations through one writer lock. RecordStore is
// authoritative; the snapshot cache is a derived read path that is rebuilt
// from RecordStore whenever it falls behind.
type Engine struct {
	mu         sync.RWMutex
	db         *store.DB
	records    *store.RecordStore
	cache      *snapshot.Cache
	ranker     *relevance.Ranker
	reconciler *Reconciler
	opts       Options
	metrics    *metrics
	logger     *slog.Logger

	// dirty is set when a snapshot write failed after RecordStore
	// committed, and cleared by the next successful reconciliation.
	dirty  bool
	closed bool
}

// Open builds an Engine and all of its components, then brings the
// snapshot in line with RecordStore.
func Open(opts Options, logger *slog.Logger) (*Engine, error) {
	opts.setDefaults()

	db, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	ranker, err := relevance.NewRanker(opts.RecallThreshold, opts.TokenCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ranker: %w", err)
	}

	cache := snapshot.Open(opts.Snapshot, logger)
	e := NewEngine(store.NewRecordStore(db), cache, ranker, opts, logger)
	e.db = db

	if _, err := e.reconciler.Run(false); err != nil {
		if store.IsStorageIO(err) {
			e.Close()
			return nil, fmt.Errorf("startup reconcile: %w", err)
		}
		// Snapshot unwritable: serve from what loaded and retry later.
		logger.Warn("snapshot reconcile failed at startup", "error", err)
		e.dirty = true
	}

	return e, nil
}

// NewEngine wires an Engine from already constructed components. The
// caller keeps ownership of the database behind records.
func NewEngine(
	records *store.RecordStore,
	cache *snapshot.Cache,
	ranker *relevance.Ranker,
	opts Options,
	logger *slog.Logger,
) *Engine {
	opts.setDefaults()
	return &Engine{
		records:    records,
		cache:      cache,
		ranker:     ranker,
		reconciler: NewReconciler(records, cache, opts.Snapshot.Capacity, logger),
		opts:       opts,
		metrics:    newMetrics(opts.MeterProvider),
		logger:     logger,
	}
}

// StoreConversation records one exchange and learns from it.
//
// The conversation and its pattern upserts commit to RecordStore in one
// transaction; if that fails nothing is written anywhere and the error (a
// *store.StorageIOError) is returned. A snapshot write failure after the
// commit is logged and the call still succeeds; recall may miss the record
// until the snapshot is reconciled.
func (e *Engine) StoreConversation(userInput, response, context string, tags []string) (models.ConversationRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return models.ConversationRecord{}, ErrClosed
	}

	now := e.opts.Now()
	rec := models.ConversationRecord{
		SessionID: models.SessionIDFor(now),
		Timestamp: now,
		UserInput: userInput,
		Response:  response,
		Context:   context,
		Tags:      append([]string{}, tags...),
	}
	candidates := patterns.Extract(userInput)

	if _, err := e.records.CommitExchange(&rec, candidates); err != nil {
		e.metrics.storeFailed()
		return models.ConversationRecord{}, err
	}
	e.metrics.stored(candidates)

	e.syncSnapshot(rec, len(candidates) > 0)
	return rec, nil
}

// syncSnapshot mirrors a committed record into the cache. Must hold e.mu.
func (e *Engine) syncSnapshot(rec models.ConversationRecord, patternsChanged bool) {
	if e.dirty {
		if _, err := e.reconciler.Run(true); err != nil {
			e.metrics.snapshotFailed()
			e.logger.Warn("snapshot still inconsistent with record store", "id", rec.ID, "error", err)
			return
		}
		e.dirty = false
		return
	}

	if err := e.cache.Append(rec); err != nil {
		e.metrics.snapshotFailed()
		e.dirty = true
		e.logger.Warn("snapshot write failed, recall may miss record until reconciled",
			"id", rec.ID, "error", err)
		return
	}

	if patternsChanged {
		if err := e.reconciler.refreshPatterns(); err != nil {
			e.logger.Warn("learning snapshot refresh failed", "error", err)
		}
	}
}

// Recall returns stored conversations relevant to query, most relevant
// first. Only the most recent RecallWindow conversations are searched. A
// blank query yields an empty result.
func (e *Engine) Recall(query string, limit int) ([]models.ScoredConversation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if !relevance.ValidQuery(query) {
		e.logger.Debug("recall skipped", "error", ErrInvalidQuery)
		return []models.ScoredConversation{}, nil
	}
	if limit <= 0 {
		limit = e.opts.DefaultRecallLimit
	}

	results := e.ranker.Rank(query, e.cache.Window(e.opts.RecallWindow), limit)
	e.metrics.recalled(len(results))
	if results == nil {
		results = []models.ScoredConversation{}
	}
	return results, nil
}

// Recent returns the last n conversations in insertion order.
func (e *Engine) Recent(n int) ([]models.ConversationRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		n = e.opts.DefaultRecallLimit
	}
	return e.cache.Recent(n), nil
}

// SetPreference appends a preference value for userID, or for the default
// user when userID is empty.
func (e *Engine) SetPreference(userID, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyPreferenceKey
	}
	return e.records.AppendPreference(e.userOrDefault(userID), key, value, e.opts.Now())
}

// GetPreferences returns the current value of every preference key for
// userID. It always reads RecordStore.
func (e *Engine) GetPreferences(userID string) (map[string]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	return e.records.CurrentPreferences(e.userOrDefault(userID))
}

// PreferenceHistory returns every value ever set for key, oldest first.
func (e *Engine) PreferenceHistory(userID, key string) ([]models.UserPreference, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	return e.records.PreferenceHistory(e.userOrDefault(userID), key)
}

// Patterns lists learned patterns of one type, or all when patternType is
// empty.
func (e *Engine) Patterns(patternType models.PatternType) ([]models.LearningPattern, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	return e.records.ListPatterns(patternType)
}

// Summary aggregates counts from RecordStore.
func (e *Engine) Summary() (models.Summary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return models.Summary{}, ErrClosed
	}

	var sum models.Summary
	var err error
	if sum.TotalConversations, err = e.records.CountConversations(); err != nil {
		return models.Summary{}, err
	}
	since := e.opts.Now().AddDate(0, 0, -recentActivityDays)
	if sum.RecentActivity7Days, err = e.records.CountSince(since); err != nil {
		return models.Summary{}, err
	}
	if sum.LearningPatterns, err = e.records.CountPatterns(); err != nil {
		return models.Summary{}, err
	}
	if sum.Preferences, err = e.records.CountPreferences(); err != nil {
		return models.Summary{}, err
	}
	maxID, err := e.records.MaxConversationID()
	if err != nil {
		return models.Summary{}, err
	}
	sum.SnapshotSize = e.cache.Len()
	sum.SnapshotConsistent = !e.dirty && e.cache.LastID() == maxID
	return sum, nil
}

// Reconcile replays RecordStore into the snapshot cache.
func (e *Engine) Reconcile() (ReconcileResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ReconcileResult{}, ErrClosed
	}
	res, err := e.reconciler.Run(true)
	if err != nil {
		e.dirty = true
		return res, err
	}
	e.dirty = false
	return res, nil
}

// Close releases the ranker cache and, when the engine opened it, the
// database. Further calls return ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.ranker.Close()
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func (e *Engine) userOrDefault(userID string) string {
	if userID == "" {
		return e.opts.DefaultUserID
	}
	return userID
}
