package store

import (
	"time"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// AppendPreference adds a preference row stamped at. Earlier values for
// the same key are kept as history.
func (s *RecordStore) AppendPreference(userID, key, value string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO user_preferences (user_id, preference_key, preference_value, timestamp)
		VALUES (?, ?, ?, ?)
	`, userID, key, value, formatTime(at))
	return ioErr("append preference", err)
}

// CurrentPreferences returns the latest value per key for userID. Rows with
// equal timestamps are resolved in favour of the later insert.
func (s *RecordStore) CurrentPreferences(userID string) (map[string]string, error) {
	rows, err := s.db.Query(`
		SELECT preference_key, preference_value FROM user_preferences
		WHERE user_id = ? ORDER BY timestamp DESC, id DESC
	`, userID)
	if err != nil {
		return nil, ioErr("get preferences", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, ioErr("scan preference", err)
		}
		if _, seen := prefs[key]; !seen {
			prefs[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("get preferences", err)
	}
	return prefs, nil
}

// PreferenceHistory returns every value ever set for key, oldest first.
func (s *RecordStore) PreferenceHistory(userID, key string) ([]models.UserPreference, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, preference_key, preference_value, timestamp FROM user_preferences
		WHERE user_id = ? AND preference_key = ? ORDER BY timestamp ASC, id ASC
	`, userID, key)
	if err != nil {
		return nil, ioErr("preference history", err)
	}
	defer rows.Close()

	var history []models.UserPreference
	for rows.Next() {
		var p models.UserPreference
		var ts string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Key, &p.Value, &ts); err != nil {
			return nil, ioErr("scan preference", err)
		}
		p.Timestamp = parseTime(ts)
		history = append(history, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("preference history", err)
	}
	return history, nil
}

// CountPreferences returns the number of current preferences across all
// users, one per (user, key).
func (s *RecordStore) CountPreferences() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM (SELECT 1 FROM user_preferences GROUP BY user_id, preference_key)
	`).Scan(&count)
	if err != nil {
		return 0, ioErr("count preferences", err)
	}
	return count, nil
}
