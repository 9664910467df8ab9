// Package snapshot keeps a bounded, file-backed mirror of recent
// conversations and learned patterns for reads that should not touch
// SQLite.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// DefaultWindow is the number of recent conversations recall searches.
const DefaultWindow = 100

// CorruptSnapshotError reports a snapshot file that exists but cannot be
// parsed. The cache recovers by starting empty.
type CorruptSnapshotError struct {
	Path string
	Err  error
}

func (e *CorruptSnapshotError) Error() string {
	return fmt.Sprintf("corrupt snapshot %s: %v", e.Path, e.Err)
}

func (e *CorruptSnapshotError) Unwrap() error {
	return e.Err
}

// Options locate the snapshot files and bound their size.
type Options struct {
	Dir               string
	ConversationsFile string
	LearningFile      string
	Capacity          int
}

// learningData is the on-disk shape of the learning file.
type learningData struct {
	Patterns map[models.PatternType][]models.LearningPattern `json:"patterns"`
}

// Cache is the in-memory ordered mirror. All methods are safe for
// concurrent use; file rewrites happen under the exclusive lock.
type Cache struct {
	mu        sync.RWMutex
	convPath  string
	learnPath string
	capacity  int
	records   []models.ConversationRecord
	patterns  map[models.PatternType][]models.LearningPattern
	logger    *slog.Logger
}

// Open loads both snapshot files. Missing files start empty; unparsable
// files are logged and reset to empty rather than failing.
func Open(opts Options, logger *slog.Logger) *Cache {
	if opts.ConversationsFile == "" {
		opts.ConversationsFile = "conversations.json"
	}
	if opts.LearningFile == "" {
		opts.LearningFile = "learning_data.json"
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}

	c := &Cache{
		convPath:  filepath.Join(opts.Dir, opts.ConversationsFile),
		learnPath: filepath.Join(opts.Dir, opts.LearningFile),
		capacity:  opts.Capacity,
		patterns:  map[models.PatternType][]models.LearningPattern{},
		logger:    logger,
	}

	var records []models.ConversationRecord
	if err := readJSON(c.convPath, &records); err != nil {
		c.logger.Warn("resetting conversation snapshot", "path", c.convPath, "error", err)
		records = nil
	}
	c.records = c.trim(records)

	var learning learningData
	if err := readJSON(c.learnPath, &learning); err != nil {
		c.logger.Warn("resetting learning snapshot", "path", c.learnPath, "error", err)
	} else {
		for t, ps := range learning.Patterns {
			// Earlier learning files carry the type only as the map key.
			for i := range ps {
				if ps[i].Type == "" {
					ps[i].Type = t
				}
			}
			c.patterns[t] = ps
		}
	}

	return c
}

// Append adds rec to the end of the sequence and rewrites the backing file.
// On a write failure the in-memory sequence is left unchanged.
func (c *Cache) Append(rec models.ConversationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]models.ConversationRecord, 0, len(c.records)+1)
	next = append(next, c.records...)
	next = c.trim(append(next, rec))

	if err := writeJSON(c.convPath, next); err != nil {
		return fmt.Errorf("write conversation snapshot: %w", err)
	}
	c.records = next
	return nil
}

// Replace swaps the whole sequence, used when rebuilding from the
// authoritative store. records must be oldest first.
func (c *Cache) Replace(records []models.ConversationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.trim(append([]models.ConversationRecord(nil), records...))
	if next == nil {
		next = []models.ConversationRecord{}
	}
	if err := writeJSON(c.convPath, next); err != nil {
		return fmt.Errorf("write conversation snapshot: %w", err)
	}
	c.records = next
	return nil
}

// Recent returns the last n records in insertion order.
func (c *Cache) Recent(n int) []models.ConversationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(c.records) - n
	if start < 0 {
		start = 0
	}
	return append([]models.ConversationRecord(nil), c.records[start:]...)
}

// Window returns the bounded view recall searches: the last max records,
// DefaultWindow when max is not positive.
func (c *Cache) Window(max int) []models.ConversationRecord {
	if max <= 0 {
		max = DefaultWindow
	}
	return c.Recent(max)
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// LastID returns the id of the newest cached conversation, 0 when empty.
func (c *Cache) LastID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return 0
	}
	return c.records[len(c.records)-1].ID
}

// SetPatterns replaces the mirrored learning patterns and rewrites the
// learning file.
func (c *Cache) SetPatterns(patterns []models.LearningPattern) error {
	grouped := make(map[models.PatternType][]models.LearningPattern)
	for _, p := range patterns {
		grouped[p.Type] = append(grouped[p.Type], p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeJSON(c.learnPath, learningData{Patterns: grouped}); err != nil {
		return fmt.Errorf("write learning snapshot: %w", err)
	}
	c.patterns = grouped
	return nil
}

// Patterns returns mirrored patterns of one type, or all when patternType
// is empty. Types are visited in name order.
func (c *Cache) Patterns(patternType models.PatternType) []models.LearningPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if patternType != "" {
		return append([]models.LearningPattern(nil), c.patterns[patternType]...)
	}
	types := make([]string, 0, len(c.patterns))
	for t := range c.patterns {
		types = append(types, string(t))
	}
	sort.Strings(types)

	var all []models.LearningPattern
	for _, t := range types {
		all = append(all, c.patterns[models.PatternType(t)]...)
	}
	return all
}

func (c *Cache) trim(records []models.ConversationRecord) []models.ConversationRecord {
	if len(records) > c.capacity {
		return records[len(records)-c.capacity:]
	}
	return records
}

// readJSON decodes path into v. A missing or empty file is not an error;
// anything unparsable is a *CorruptSnapshotError.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &CorruptSnapshotError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &CorruptSnapshotError{Path: path, Err: err}
	}
	return nil
}

// writeJSON rewrites path atomically: the data goes to a uniquely named
// sibling first and is renamed over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
