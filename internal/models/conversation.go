package models

import "time"

// ConversationRecord is one stored user/agent exchange. Records are
// immutable once written.
type ConversationRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	UserInput string    `json:"user_input"`
	Response  string    `json:"response"`
	Context   string    `json:"context"`
	Tags      []string  `json:"tags"`
}

// SessionIDLayout formats the session id from the creation time. Two
// records created within the same second share a session id.
const SessionIDLayout = "20060102_150405"

// SessionIDFor derives a session id from t.
func SessionIDFor(t time.Time) string {
	return t.Format(SessionIDLayout)
}

// ScoredConversation pairs a record with the relevance score it was
// recalled with.
type ScoredConversation struct {
	ConversationRecord
	RelevanceScore float64 `json:"relevance_score"`
}
