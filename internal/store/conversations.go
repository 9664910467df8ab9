package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// conversationColumns tolerates NULLs left by legacy databases.
const conversationColumns = `id, IFNULL(session_id, ''), IFNULL(timestamp, ''),
	IFNULL(user_input, ''), IFNULL(response, ''), IFNULL(context, ''), IFNULL(tags, '[]')`

// InsertConversation appends rec and returns its id. Duplicate content is
// legal and produces a new row.
func (s *RecordStore) InsertConversation(rec *models.ConversationRecord) (int64, error) {
	id, err := insertConversation(s.db, rec)
	if err != nil {
		return 0, ioErr("insert conversation", err)
	}
	rec.ID = id
	return id, nil
}

func insertConversation(q querier, rec *models.ConversationRecord) (int64, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	res, err := q.Exec(`
		INSERT INTO conversations (session_id, timestamp, user_input, response, context, tags)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.SessionID, formatTime(rec.Timestamp), rec.UserInput, rec.Response, rec.Context, string(tagsJSON))
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation id: %w", err)
	}
	return id, nil
}

// CountConversations returns the total number of stored conversations.
func (s *RecordStore) CountConversations() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, ioErr("count conversations", err)
	}
	return count, nil
}

// CountRecent returns how many conversations were stored in the last
// windowDays days.
func (s *RecordStore) CountRecent(windowDays int) (int, error) {
	return s.CountSince(time.Now().AddDate(0, 0, -windowDays))
}

// CountSince returns how many conversations have a timestamp after t.
func (s *RecordStore) CountSince(t time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE timestamp > ?`, formatTime(t)).Scan(&count)
	if err != nil {
		return 0, ioErr("count recent conversations", err)
	}
	return count, nil
}

// MaxConversationID returns the newest conversation id, or 0 when empty.
func (s *RecordStore) MaxConversationID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM conversations`).Scan(&id); err != nil {
		return 0, ioErr("max conversation id", err)
	}
	return id.Int64, nil
}

// RecentConversations returns up to n of the newest conversations, oldest
// first.
func (s *RecordStore) RecentConversations(n int) ([]models.ConversationRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM conversations ORDER BY id DESC LIMIT ?`, conversationColumns), n)
	if err != nil {
		return nil, ioErr("recent conversations", err)
	}
	defer rows.Close()

	var records []models.ConversationRecord
	for rows.Next() {
		var rec models.ConversationRecord
		var ts, tagsJSON string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ts, &rec.UserInput, &rec.Response, &rec.Context, &tagsJSON); err != nil {
			return nil, ioErr("scan conversation", err)
		}
		rec.Timestamp = parseTime(ts)
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil || rec.Tags == nil {
			rec.Tags = []string{}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("recent conversations", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
