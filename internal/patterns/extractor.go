// Package patterns classifies exchanges into coarse usage categories.
package patterns

import (
	"strings"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// rule maps a set of keywords to the pattern recorded when any of them
// appears in the user input.
type rule struct {
	patternType models.PatternType
	keywords    []string
	data        models.PatternData
}

var rules = []rule{
	{
		patternType: models.PatternScreenshotCommands,
		keywords:    []string{"screenshot", "take screenshot"},
		data: models.PatternData{
			Trigger:      "screenshot",
			ResponseType: "system_action",
			Context:      "user wants screenshot",
		},
	},
	{
		patternType: models.PatternFileOperations,
		keywords:    []string{"read file", "write file", "edit file"},
		data: models.PatternData{
			Trigger:      "file_operation",
			ResponseType: "file_action",
			Context:      "user wants file operation",
		},
	},
	{
		patternType: models.PatternSystemCommands,
		keywords:    []string{"run:", "run ", "explorer", "chrome"},
		data: models.PatternData{
			Trigger:      "system_command",
			ResponseType: "system_action",
			Context:      "user wants system command",
		},
	},
}

// Extract returns every pattern candidate matched by userInput. Matching is
// a case-insensitive substring test; categories are not exclusive.
func Extract(userInput string) []models.PatternCandidate {
	lowered := strings.ToLower(userInput)

	var out []models.PatternCandidate
	for _, r := range rules {
		if containsAny(lowered, r.keywords) {
			out = append(out, models.PatternCandidate{Type: r.patternType, Data: r.data})
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
