package models

// Summary aggregates counts across the engine's stores.
type Summary struct {
	TotalConversations  int  `json:"total_conversations"`
	RecentActivity7Days int  `json:"recent_activity_7_days"`
	LearningPatterns    int  `json:"learning_pattern_count"`
	Preferences         int  `json:"preference_count"`
	SnapshotSize        int  `json:"snapshot_size"`
	SnapshotConsistent  bool `json:"snapshot_consistent"`
}
