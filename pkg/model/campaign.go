package model

import (
	"time"
)

// CampaignState is a campaign lifecycle state
type CampaignState string

const (
	CampaignDraft     = CampaignState("draft")
	CampaignFunding   = CampaignState("funding")
	CampaignActive    = CampaignState("active")
	CampaignPaused    = CampaignState("paused")
	CampaignCompleted = CampaignState("completed")
	CampaignFailed    = CampaignState("failed")
	CampaignCancelled = CampaignState("cancelled")
)

// Terminal states forbid further pledges, votes and releases.
func (s CampaignState) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignCancelled
}

// MilestoneStatus is a milestone sub-state
type MilestoneStatus string

const (
	MilestonePending     = MilestoneStatus("pending")
	MilestoneSubmitted   = MilestoneStatus("submitted")
	MilestoneUnderReview = MilestoneStatus("under_review")
	MilestoneApproved    = MilestoneStatus("approved")
	MilestoneRejected    = MilestoneStatus("rejected")
	MilestoneAppealed    = MilestoneStatus("appealed")
	MilestoneReleased    = MilestoneStatus("released")
)

type RoundKind string

const (
	RoundStandard = RoundKind("standard")
	RoundAppeal   = RoundKind("appeal")
)

type Milestone struct {
	CampaignID string
	// Index is 0-based and fixed at creation
	Index       int
	Title       string
	Amount      int64
	Status      MilestoneStatus
	ProofRef    string
	Submissions int
	// Round is the current vote round number, incremented every time a vote opens
	Round      int
	RoundKind  RoundKind
	RoundOpen  bool
	Outcome    Decision `json:",omitempty"`
	RejectedAt time.Time
	// Appealed is set once the single allowed appeal was opened
	Appealed bool
	// Final is set when no further transition is possible for this milestone
	Final      bool
	ReleasedAt time.Time
	UpdatedAt  time.Time
}

type Campaign struct {
	ID           string
	Creator      string
	Token        string
	Goal         int64
	Deadline     time.Time
	MetadataHash string
	Milestones   []*Milestone `json:"-"` // Stored as separate records
	State        CampaignState

	// TotalPledged == sum of all pledge records
	TotalPledged int64
	Released     int64
	Refunded     int64
	// Forfeited is the sum of milestones that failed permanently
	Forfeited int64

	FundedAt  time.Time
	Halted    bool
	HaltCause string `json:",omitempty"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Escrowed is the amount currently held by the engine for this campaign.
func (c *Campaign) Escrowed() int64 {
	return c.TotalPledged - c.Released - c.Refunded
}

// Refundable reports whether backers may reclaim anything right now.
func (c *Campaign) Refundable() bool {
	switch c.State {
	case CampaignFailed, CampaignCancelled, CampaignCompleted:
		return true
	case CampaignActive, CampaignPaused:
		return c.Forfeited > 0
	default:
		return false
	}
}

// RefundPool is the amount shared pro rata between all backers. A running
// campaign only gives back forfeited milestones, a terminal one everything
// that was not released.
func (c *Campaign) RefundPool() int64 {
	switch c.State {
	case CampaignFailed, CampaignCancelled, CampaignCompleted:
		return c.TotalPledged - c.Released
	case CampaignActive, CampaignPaused:
		return c.Forfeited
	default:
		return 0
	}
}

func (c *Campaign) Milestone(index int) (*Milestone, error) {
	if index < 0 || index >= len(c.Milestones) {
		return nil, ErrInvalidMilestone
	}
	return c.Milestones[index], nil
}

// MilestoneTotal returns the sum of all milestone amounts.
func (c *Campaign) MilestoneTotal() int64 {
	var total int64
	for _, m := range c.Milestones {
		total += m.Amount
	}
	return total
}

// Failed reports whether the milestone was rejected for good.
func (m *Milestone) Failed() bool {
	return m.Status == MilestoneRejected && m.Final
}

// Live reports whether the milestone may still be released.
func (m *Milestone) Live() bool {
	return m.Status != MilestoneReleased && !m.Failed()
}

// Settled reports whether no milestone is live anymore.
func (c *Campaign) Settled() bool {
	if len(c.Milestones) == 0 {
		return false
	}
	for _, m := range c.Milestones {
		if m.Live() {
			return false
		}
	}
	return true
}

// AllReleased reports whether every milestone reached Released.
func (c *Campaign) AllReleased() bool {
	if len(c.Milestones) == 0 {
		return false
	}
	for _, m := range c.Milestones {
		if m.Status != MilestoneReleased {
			return false
		}
	}
	return true
}
