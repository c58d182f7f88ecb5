package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// AppealRequest asks for a single re-vote of a rejected milestone by a larger panel.
type AppealRequest struct {
	CampaignID string
	Milestone  int
	// Actor must be the campaign creator
	Actor string
	// Reviewers are the five high-reputation identities picked by the external pool
	Reviewers []string
}

type AppealState struct {
	CampaignID string
	Milestone  int
	Status     model.MilestoneStatus
	Opened     bool
	Final      bool
	// WindowEndsAt is set only while a rejected milestone was not appealed yet
	WindowEndsAt time.Time
	Panel        *model.AppealPanel
	Votes        *VoteState
}

// OpenAppeal moves a rejected milestone into a five member appeal round.
// The appeal outcome is final.
func (e *Engine) OpenAppeal(ctx context.Context, req AppealRequest) error {
	return e.apply(ctx, req.CampaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireCreator(c, req.Actor, "appeal"); err != nil {
			return err
		}

		if err := requireActive(c); err != nil {
			return err
		}

		m, err := c.Milestone(req.Milestone)
		if err != nil {
			return errors.Wrapf(err, "milestone %d of %d", req.Milestone, len(c.Milestones))
		}

		if m.Status != model.MilestoneRejected {
			return errors.Wrapf(model.ErrNotRejected, "milestone %d is %s", m.Index, m.Status)
		}

		if m.Appealed || m.Final {
			return errors.Wrapf(model.ErrAlreadyAppealed, "milestone %d", m.Index)
		}

		if !o.now.Before(m.RejectedAt.Add(e.config.AppealWindow)) {
			return errors.Wrapf(model.ErrAppealWindowExpired, "rejected at %s, window is %s", m.RejectedAt, e.config.AppealWindow)
		}

		panel, err := e.loadPanel(o.tx, c.ID)
		if err != nil {
			return err
		}

		if err := e.expandForAppeal(o, c, panel, m.Index, req.Reviewers); err != nil {
			return err
		}

		m.Appealed = true
		e.openRound(o, c, m, model.RoundAppeal)

		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"milestone":   m.Index,
			"round":       m.Round,
		}).Info("appeal opened")

		return nil
	})
}

// GetAppealState returns the appeal panel and the current tally of the milestone.
func (e *Engine) GetAppealState(ctx context.Context, campaignID string, index int) (*AppealState, error) {
	var state *AppealState
	err := e.view(ctx, func(tx db.Tx) error {
		c, err := e.loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}

		m, err := c.Milestone(index)
		if err != nil {
			return err
		}

		state = &AppealState{
			CampaignID: c.ID,
			Milestone:  m.Index,
			Status:     m.Status,
			Opened:     m.Appealed,
			Final:      m.Final,
		}

		if !m.RejectedAt.IsZero() && !m.Appealed {
			state.WindowEndsAt = m.RejectedAt.Add(e.config.AppealWindow)
		}

		if !m.Appealed {
			return nil
		}

		panel, err := tx.GetPanel(c.ID)
		if err != nil {
			return errors.Wrap(err, "failed to load panel")
		}
		state.Panel = panel.Appeal(m.Index)

		if m.RoundKind == model.RoundAppeal {
			state.Votes, err = e.voteState(tx, c, m)
		}
		return err
	})
	return state, err
}
