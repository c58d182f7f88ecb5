package model

import (
	"time"
)

// Reputation is the process-wide record of a reviewer, never deleted.
type Reputation struct {
	Reviewer       string
	Participations int
	Aligned        int
	Misaligned     int
	// MinorityStreak counts consecutive outcomes where the reviewer was in the minority
	MinorityStreak int
	Score          float64
	UpdatedAt      time.Time
}
