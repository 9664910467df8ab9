package store

import (
	"database/sql"
	"time"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// TimeLayout is the on-disk timestamp format. Values are always UTC with a
// fixed fraction width, so string order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// RecordStore is the authoritative store for conversations, learning
// patterns and preferences.
type RecordStore struct {
	db *DB
}

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// CommitExchange inserts rec and applies every pattern candidate in a single
// transaction. Either the conversation and all upserts are committed, or
// none are. rec.ID is set on success.
func (s *RecordStore) CommitExchange(rec *models.ConversationRecord, candidates []models.PatternCandidate) (int64, error) {
	var id int64
	err := s.db.inTx(func(tx *sql.Tx) error {
		var err error
		id, err = insertConversation(tx, rec)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if _, err := upsertPattern(tx, c.Type, c.Data, rec.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ioErr("commit exchange", err)
	}
	rec.ID = id
	return id, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	return models.ParseTime(s)
}
