package model

import (
	"time"
)

// Pledge is the single accumulated pledge record of a backer for a campaign.
type Pledge struct {
	CampaignID string
	Backer     string
	Amount     int64
	// Refunded is set once the backer got the final share of a terminal campaign
	Refunded bool
	// RefundedAmount is what the backer received back so far, at most Amount
	RefundedAmount int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
