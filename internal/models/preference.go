package models

import "time"

// UserPreference is one row of the append-only preference log.
type UserPreference struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
