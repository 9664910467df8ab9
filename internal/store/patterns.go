package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// UpsertPattern records one occurrence of (patternType, data). An existing
// identical pattern has its frequency incremented and last_used refreshed;
// otherwise a row is inserted with frequency 1. Returns the new frequency.
func (s *RecordStore) UpsertPattern(patternType models.PatternType, data models.PatternData) (int, error) {
	var freq int
	err := s.db.inTx(func(tx *sql.Tx) error {
		var err error
		freq, err = upsertPattern(tx, patternType, data, time.Now())
		return err
	})
	if err != nil {
		return 0, ioErr("upsert pattern", err)
	}
	return freq, nil
}

func upsertPattern(q querier, patternType models.PatternType, data models.PatternData, at time.Time) (int, error) {
	dataJSON, _ := json.Marshal(data)
	hash := DataHash(data)
	ts := formatTime(at)

	_, err := q.Exec(`
		INSERT INTO learning_patterns (pattern_type, pattern_data, pattern_data_hash, frequency, last_used, success_rate)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(pattern_type, pattern_data_hash) DO UPDATE SET
			frequency = frequency + 1,
			last_used = excluded.last_used
	`, string(patternType), string(dataJSON), hash, ts, models.InitialSuccessRate)
	if err != nil {
		return 0, fmt.Errorf("upsert pattern %s: %w", patternType, err)
	}

	var freq int
	err = q.QueryRow(`
		SELECT frequency FROM learning_patterns WHERE pattern_type = ? AND pattern_data_hash = ?
	`, string(patternType), hash).Scan(&freq)
	if err != nil {
		return 0, fmt.Errorf("read pattern frequency: %w", err)
	}
	return freq, nil
}

// ListPatterns returns learned patterns of the given type, or all patterns
// when patternType is empty, most frequent first.
func (s *RecordStore) ListPatterns(patternType models.PatternType) ([]models.LearningPattern, error) {
	query := `SELECT id, pattern_type, pattern_data, frequency, last_used, success_rate FROM learning_patterns`
	var args []any
	if patternType != "" {
		query += ` WHERE pattern_type = ?`
		args = append(args, string(patternType))
	}
	query += ` ORDER BY frequency DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ioErr("list patterns", err)
	}
	defer rows.Close()

	var patterns []models.LearningPattern
	for rows.Next() {
		var p models.LearningPattern
		var dataJSON, lastUsed string
		if err := rows.Scan(&p.ID, &p.Type, &dataJSON, &p.Frequency, &lastUsed, &p.SuccessRate); err != nil {
			return nil, ioErr("scan pattern", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &p.Data); err != nil {
			return nil, ioErr("decode pattern", fmt.Errorf("pattern %d: %w", p.ID, err))
		}
		p.LastUsed = parseTime(lastUsed)
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list patterns", err)
	}
	return patterns, nil
}

// ImportPatterns loads patterns kept outside the database, such as an
// earlier learning file, keeping their frequencies. Patterns already
// present have the imported frequency added. Returns the number of
// patterns applied.
func (s *RecordStore) ImportPatterns(patterns []models.LearningPattern) (int, error) {
	err := s.db.inTx(func(tx *sql.Tx) error {
		for _, p := range patterns {
			if p.Type == "" {
				return fmt.Errorf("import pattern: missing pattern type")
			}
			freq := p.Frequency
			if freq < 1 {
				freq = 1
			}
			rate := p.SuccessRate
			if rate == 0 {
				rate = models.InitialSuccessRate
			}
			lastUsed := p.LastUsed
			if lastUsed.IsZero() {
				lastUsed = time.Now()
			}
			dataJSON, _ := json.Marshal(p.Data)
			_, err := tx.Exec(`
				INSERT INTO learning_patterns (pattern_type, pattern_data, pattern_data_hash, frequency, last_used, success_rate)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(pattern_type, pattern_data_hash) DO UPDATE SET
					frequency = frequency + excluded.frequency,
					last_used = MAX(last_used, excluded.last_used)
			`, string(p.Type), string(dataJSON), DataHash(p.Data), freq, formatTime(lastUsed), rate)
			if err != nil {
				return fmt.Errorf("import pattern %s: %w", p.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, ioErr("import patterns", err)
	}
	return len(patterns), nil
}

// CountPatterns returns the number of distinct learning patterns.
func (s *RecordStore) CountPatterns() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM learning_patterns`).Scan(&count); err != nil {
		return 0, ioErr("count patterns", err)
	}
	return count, nil
}

// DataHash computes the identity hash of a pattern payload.
func DataHash(data models.PatternData) string {
	b, _ := json.Marshal(data)
	h := sha256.Sum256(b)
	return fmt.Sprintf("%x", h)
}

// rawDataHash hashes a stored JSON payload, normalizing it through
// PatternData when it parses so legacy key order does not matter.
func rawDataHash(raw string) string {
	var d models.PatternData
	if err := json.Unmarshal([]byte(raw), &d); err == nil {
		return DataHash(d)
	}
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h)
}
