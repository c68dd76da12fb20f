package model

import "time"

// FeatureFlag は機能フラグの永続化表現。
type FeatureFlag struct {
	Name              string
	Description       string
	Enabled           bool
	RolloutPercentage int // 0〜100
	AllowedUsers      []string
	AllowedRoles      []string
	UpdatedAt         time.Time
}
