package model

import (
	"time"
)

type Decision string

const (
	DecisionApprove = Decision("approve")
	DecisionReject  = Decision("reject")
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Vote is an append-only record of a single reviewer decision in a round.
type Vote struct {
	CampaignID string
	Milestone  int
	Round      int
	Reviewer   string
	Decision   Decision
	Note       string `json:",omitempty"`
	// Late votes arrive after the round concluded and never change the outcome
	Late   bool
	CastAt time.Time
}
