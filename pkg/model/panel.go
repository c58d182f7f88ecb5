package model

import (
	"time"
)

type ReviewerStatus string

const (
	ReviewerActive   = ReviewerStatus("active")
	ReviewerDeclined = ReviewerStatus("declined")
	ReviewerReplaced = ReviewerStatus("replaced")
)

type PanelMember struct {
	Reviewer   string
	Status     ReviewerStatus
	AssignedAt time.Time
	UpdatedAt  time.Time
}

// AppealPanel is the enlarged panel that re-votes a single rejected milestone.
type AppealPanel struct {
	Milestone int
	Members   []*PanelMember
	OpenedAt  time.Time
}

type Panel struct {
	CampaignID string
	// Members keeps the assignment order, including declined and replaced seats
	Members []*PanelMember
	Appeals []*AppealPanel `json:",omitempty"`
}

// Active returns the reviewers currently holding an active seat.
func (p *Panel) Active() []string {
	return activeOf(p.Members)
}

// Member returns the member record for reviewer, or nil.
func (p *Panel) Member(reviewer string) *PanelMember {
	for _, m := range p.Members {
		if m.Reviewer == reviewer {
			return m
		}
	}
	return nil
}

// Appeal returns the appeal panel opened for the milestone, or nil.
func (p *Panel) Appeal(milestone int) *AppealPanel {
	for _, a := range p.Appeals {
		if a.Milestone == milestone {
			return a
		}
	}
	return nil
}

func (a *AppealPanel) Active() []string {
	return activeOf(a.Members)
}

func activeOf(members []*PanelMember) []string {
	var out []string
	for _, m := range members {
		if m.Status == ReviewerActive {
			out = append(out, m.Reviewer)
		}
	}
	return out
}
