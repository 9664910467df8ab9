package models

import (
	"encoding/json"
	"time"
)

// PatternType is the coarse usage category a learning pattern belongs to.
type PatternType string

const (
	PatternScreenshotCommands PatternType = "screenshot_commands"
	PatternFileOperations     PatternType = "file_operations"
	PatternSystemCommands     PatternType = "system_commands"
)

var ValidPatternTypes = map[PatternType]bool{
	PatternScreenshotCommands: true,
	PatternFileOperations:     true,
	PatternSystemCommands:     true,
}

func (t PatternType) IsValid() bool {
	return ValidPatternTypes[t]
}

// PatternData is the structured payload of a learning pattern. Two
// patterns are the same pattern when type and data are equal.
type PatternData struct {
	Trigger      string `json:"trigger"`
	ResponseType string `json:"response_type"`
	Context      string `json:"context"`
}

// PatternCandidate is one classification produced for an exchange.
type PatternCandidate struct {
	Type PatternType `json:"pattern_type"`
	Data PatternData `json:"data"`
}

// InitialSuccessRate is assigned to every new learning pattern.
const InitialSuccessRate = 0.8

// LearningPattern is an aggregated, deduplicated usage observation.
type LearningPattern struct {
	ID          int64       `json:"id"`
	Type        PatternType `json:"pattern_type"`
	Data        PatternData `json:"data"`
	Frequency   int         `json:"frequency"`
	LastUsed    time.Time   `json:"last_used"`
	SuccessRate float64     `json:"success_rate"`
}

// UnmarshalJSON accepts last_used in RFC 3339 or in the naive local form
// written by the earlier learning file.
func (p *LearningPattern) UnmarshalJSON(data []byte) error {
	type plain LearningPattern
	aux := struct {
		*plain
		LastUsed string `json:"last_used"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.LastUsed = ParseTime(aux.LastUsed)
	return nil
}
