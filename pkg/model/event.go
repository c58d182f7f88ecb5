package model

import (
	"time"
)

type EventType string

const (
	EventCampaignStateChanged  = EventType("CampaignStateChanged")
	EventMilestoneStateChanged = EventType("MilestoneStateChanged")
	EventMilestoneForfeited    = EventType("MilestoneForfeited")
	EventVoteCast              = EventType("VoteCast")
	EventFundsReleased         = EventType("FundsReleased")
	EventFundsRefunded         = EventType("FundsRefunded")
	EventReputationChanged     = EventType("ReputationChanged")
	EventPanelRequested        = EventType("PanelRequested")
	EventReviewerAssigned      = EventType("ReviewerAssigned")
	EventCampaignHalted        = EventType("CampaignHalted")
)

// Event carries enough to drive notifications without the engine knowing about them.
type Event struct {
	ID         string
	Seq        uint64
	Type       EventType
	CampaignID string
	// Entity identifies the changed object, e.g. "campaign/abc" or "milestone/abc/1"
	Entity    string
	Old       string `json:",omitempty"`
	New       string `json:",omitempty"`
	Amount    int64  `json:",omitempty"`
	Timestamp time.Time
}
