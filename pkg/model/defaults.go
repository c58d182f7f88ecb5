package model

import (
	"time"
)

const (
	PanelSize       = 3
	AppealPanelSize = 5
	// Quorum is the number of matching decisions that concludes a round
	Quorum       = 2
	AppealQuorum = 3

	DefaultAppealWindow     = 7 * 24 * time.Hour
	DefaultDeclineWindow    = 48 * time.Hour
	DefaultMaxResubmissions = 3

	DefaultReputationScore = 50.0
	MinReputationScore     = 0.0
	MaxReputationScore     = 100.0
	DefaultAlignedGain     = 1.0
	DefaultMinorityPenalty = 5.0
	DefaultMinorityStreak  = 3

	DefaultSweepSchedule = "@every 1m"
	DefaultRelaySchedule = "@every 5s"

	DefaultLogMaxSize    = 50 // megabytes
	DefaultLogMaxAge     = 30 // days
	DefaultLogMaxBackups = 7
)
