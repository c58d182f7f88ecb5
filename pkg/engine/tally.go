package engine

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// Ballot is a single reviewer decision on the current round of a milestone.
type Ballot struct {
	CampaignID string
	Milestone  int
	Reviewer   string
	Decision   model.Decision
	Note       string
}

// VoteState is the read model of a milestone's current round. Individual
// votes and counts stay hidden until the round concludes or everyone voted.
type VoteState struct {
	CampaignID string
	Milestone  int
	Round      int
	Kind       model.RoundKind
	Open       bool
	Outcome    model.Decision
	Eligible   int
	Cast       int
	Revealed   bool
	Approvals  int
	Rejections int
	Votes      []*model.Vote
}

// CastVote appends the reviewer's vote and evaluates the threshold in the same
// step. Votes arriving after the round concluded are kept for the record only,
// as long as the campaign is still running.
func (e *Engine) CastVote(ctx context.Context, ballot Ballot) error {
	if !ballot.Decision.Valid() {
		return errors.Wrapf(model.ErrInvalidDecision, "%q", ballot.Decision)
	}

	logger := log.WithFields(log.Fields{
		"campaign_id": ballot.CampaignID,
		"milestone":   ballot.Milestone,
		"reviewer":    ballot.Reviewer,
	})

	return e.apply(ctx, ballot.CampaignID, func(o *op, c *model.Campaign) error {
		if c.State != model.CampaignActive && c.State != model.CampaignPaused {
			return errors.Wrapf(model.ErrInvalidState, "can't vote on %s campaign", c.State)
		}

		m, err := c.Milestone(ballot.Milestone)
		if err != nil {
			return errors.Wrapf(err, "milestone %d of %d", ballot.Milestone, len(c.Milestones))
		}

		if m.Round == 0 {
			return errors.Wrapf(model.ErrInvalidState, "milestone %d has no vote round", m.Index)
		}

		panel, err := e.loadPanel(o.tx, c.ID)
		if err != nil {
			return err
		}

		eligible := roundMembers(panel, m)
		if !contains(eligible, ballot.Reviewer) {
			logger.Warn("vote from reviewer without a seat")
			return errors.Wrapf(model.ErrNotAuthorized, "%q can't vote on %s round %d", ballot.Reviewer, m.RoundKind, m.Round)
		}

		late := !m.RoundOpen
		if !late {
			if err := requireActive(c); err != nil {
				return err
			}
			if m.Status != model.MilestoneUnderReview && m.Status != model.MilestoneAppealed {
				return errors.Wrapf(model.ErrInvalidState, "milestone %d is %s", m.Index, m.Status)
			}
		}

		vote := &model.Vote{
			CampaignID: c.ID,
			Milestone:  m.Index,
			Round:      m.Round,
			Reviewer:   ballot.Reviewer,
			Decision:   ballot.Decision,
			Note:       ballot.Note,
			Late:       late,
			CastAt:     o.now,
		}

		if err := o.tx.AddVote(vote); err == model.ErrAlreadyExists {
			return errors.Wrapf(model.ErrAlreadyVoted, "%q in round %d", ballot.Reviewer, m.Round)
		} else if err != nil {
			return errors.Wrap(err, "failed to append vote")
		}

		// Decision is not part of the event, votes are confidential until the round is revealed
		o.emit(model.EventVoteCast, c.ID, voteEntity(c.ID, m.Index, m.Round, ballot.Reviewer), "", string(m.RoundKind), 0)

		if late {
			logger.Debug("late vote recorded")
			return e.recordOutcome(o, c.ID, ballot.Reviewer, ballot.Decision == m.Outcome)
		}

		approvals, rejections, err := countVotes(o.tx, c.ID, m.Index, m.Round)
		if err != nil {
			return err
		}

		threshold := model.Quorum
		if m.RoundKind == model.RoundAppeal {
			threshold = model.AppealQuorum
		}

		logger.WithFields(log.Fields{
			"round": m.Round,
			"kind":  m.RoundKind,
		}).Debug("vote accepted")

		switch {
		case approvals >= threshold:
			return e.conclude(o, c, m, model.DecisionApprove)
		case rejections >= threshold:
			return e.conclude(o, c, m, model.DecisionReject)
		default:
			return nil
		}
	})
}

// conclude closes the round, scores every voter and applies the outcome.
func (e *Engine) conclude(o *op, c *model.Campaign, m *model.Milestone, outcome model.Decision) error {
	m.RoundOpen = false
	m.Outcome = outcome
	appeal := m.RoundKind == model.RoundAppeal

	var voters []*model.Vote
	if err := o.tx.WalkVotes(c.ID, m.Index, m.Round, func(v *model.Vote) error {
		voters = append(voters, v)
		return nil
	}); err != nil {
		return errors.Wrap(err, "failed to walk votes")
	}

	for _, v := range voters {
		if err := e.recordOutcome(o, c.ID, v.Reviewer, v.Decision == outcome); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"campaign_id": c.ID,
		"milestone":   m.Index,
		"round":       m.Round,
		"kind":        m.RoundKind,
		"outcome":     outcome,
	}).Info("vote round concluded")

	if appeal {
		m.Final = true
	}

	if outcome == model.DecisionApprove {
		e.setMilestone(o, c, m, model.MilestoneApproved)
		return e.drainReleases(o, c)
	}

	m.RejectedAt = o.now
	e.setMilestone(o, c, m, model.MilestoneRejected)
	if appeal {
		e.failMilestone(o, c, m)
	}

	return nil
}

// GetVoteState returns the current round of the milestone.
func (e *Engine) GetVoteState(ctx context.Context, campaignID string, index int) (*VoteState, error) {
	var state *VoteState
	err := e.view(ctx, func(tx db.Tx) error {
		c, err := e.loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}

		m, err := c.Milestone(index)
		if err != nil {
			return err
		}

		state, err = e.voteState(tx, c, m)
		return err
	})
	return state, err
}

func (e *Engine) voteState(tx db.Tx, c *model.Campaign, m *model.Milestone) (*VoteState, error) {
	state := &VoteState{
		CampaignID: c.ID,
		Milestone:  m.Index,
		Round:      m.Round,
		Kind:       m.RoundKind,
		Open:       m.RoundOpen,
	}

	if m.Round == 0 {
		return state, nil
	}

	panel, err := tx.GetPanel(c.ID)
	if err != nil && err != model.ErrNotFound {
		return nil, errors.Wrap(err, "failed to load panel")
	}
	if panel != nil {
		state.Eligible = len(roundMembers(panel, m))
	}

	var votes []*model.Vote
	if err := tx.WalkVotes(c.ID, m.Index, m.Round, func(v *model.Vote) error {
		votes = append(votes, v)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to walk votes")
	}

	state.Cast = len(votes)
	state.Revealed = !m.RoundOpen || (state.Eligible > 0 && state.Cast >= state.Eligible)
	if !state.Revealed {
		return state, nil
	}

	state.Outcome = m.Outcome
	state.Votes = votes
	for _, v := range votes {
		if v.Decision == model.DecisionApprove {
			state.Approvals++
		} else {
			state.Rejections++
		}
	}

	return state, nil
}

// roundMembers returns the reviewers allowed to vote on the milestone's current round.
func roundMembers(panel *model.Panel, m *model.Milestone) []string {
	if m.RoundKind == model.RoundAppeal {
		if appeal := panel.Appeal(m.Index); appeal != nil {
			return appeal.Active()
		}
		return nil
	}
	return panel.Active()
}

// countVotes tallies on-time votes only.
func countVotes(tx db.Tx, campaignID string, index, round int) (approvals, rejections int, err error) {
	err = tx.WalkVotes(campaignID, index, round, func(v *model.Vote) error {
		if v.Late {
			return nil
		}
		switch v.Decision {
		case model.DecisionApprove:
			approvals++
		case model.DecisionReject:
			rejections++
		}
		return nil
	})
	if err != nil {
		err = errors.Wrap(err, "failed to count votes")
	}
	return
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
