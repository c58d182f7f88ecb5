package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// AssignPanel registers the externally selected reviewers as the campaign panel.
func (e *Engine) AssignPanel(ctx context.Context, campaignID string, reviewers []string) error {
	if len(reviewers) != model.PanelSize {
		return errors.Wrapf(model.ErrWrongPanelSize, "got %d reviewers, need %d", len(reviewers), model.PanelSize)
	}

	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := validateCandidates(c, reviewers); err != nil {
			return err
		}

		if c.State != model.CampaignActive && c.State != model.CampaignPaused {
			return errors.Wrapf(model.ErrInvalidState, "can't assign panel to %s campaign", c.State)
		}

		_, err := o.tx.GetPanel(c.ID)
		if err == nil {
			return errors.Wrapf(model.ErrPanelAssigned, "campaign %q", c.ID)
		} else if err != model.ErrNotFound {
			return errors.Wrap(err, "failed to load panel")
		}

		panel := &model.Panel{CampaignID: c.ID}
		for _, reviewer := range reviewers {
			panel.Members = append(panel.Members, &model.PanelMember{
				Reviewer:   reviewer,
				Status:     model.ReviewerActive,
				AssignedAt: o.now,
				UpdatedAt:  o.now,
			})
			o.emit(model.EventReviewerAssigned, c.ID, reviewerEntity(reviewer), "", string(model.ReviewerActive), 0)
		}

		if err := o.tx.PutPanel(panel); err != nil {
			return errors.Wrap(err, "failed to save panel")
		}

		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"reviewers":   reviewers,
		}).Info("reviewer panel assigned")

		return nil
	})
}

// DeclineAssignment lets a reviewer step down shortly after assignment. The
// vacant seat is requested from the external assignment input.
func (e *Engine) DeclineAssignment(ctx context.Context, campaignID, reviewer string) error {
	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if c.State.Terminal() {
			return errors.Wrapf(model.ErrInvalidState, "campaign is %s", c.State)
		}

		panel, err := e.loadPanel(o.tx, c.ID)
		if err != nil {
			return err
		}

		member := panel.Member(reviewer)
		if member == nil || member.Status != model.ReviewerActive {
			return errors.Wrapf(model.ErrNotAuthorized, "%q has no active seat on campaign %q", reviewer, c.ID)
		}

		if !o.now.Before(member.AssignedAt.Add(e.config.DeclineWindow)) {
			return errors.Wrapf(model.ErrWindowExpired, "assigned at %s, decline window is %s", member.AssignedAt, e.config.DeclineWindow)
		}

		voted, err := hasVoted(o.tx, c, reviewer)
		if err != nil {
			return err
		}
		if voted {
			return errors.Wrapf(model.ErrReviewerHasVoted, "%q", reviewer)
		}

		// A standard round needs the full base panel until it concludes
		for _, m := range c.Milestones {
			if m.RoundOpen && m.RoundKind == model.RoundStandard {
				return errors.Wrapf(model.ErrInvalidState, "vote on milestone %d is open", m.Index)
			}
		}

		member.Status = model.ReviewerDeclined
		member.UpdatedAt = o.now
		if err := o.tx.PutPanel(panel); err != nil {
			return errors.Wrap(err, "failed to save panel")
		}

		o.emit(model.EventReviewerAssigned, c.ID, reviewerEntity(reviewer), string(model.ReviewerActive), string(model.ReviewerDeclined), 0)
		o.emit(model.EventPanelRequested, c.ID, campaignEntity(c.ID), "", "1", 0)

		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"reviewer":    reviewer,
		}).Info("reviewer declined assignment")

		return nil
	})
}

// AssignReplacement fills the seat of a declined reviewer.
func (e *Engine) AssignReplacement(ctx context.Context, campaignID, reviewer string) error {
	if reviewer == "" {
		return errors.Wrap(model.ErrInvalidIdentity, "reviewer")
	}

	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if c.State.Terminal() {
			return errors.Wrapf(model.ErrInvalidState, "campaign is %s", c.State)
		}

		if reviewer == c.Creator {
			return errors.Wrapf(model.ErrCreatorAsReviewer, "%q", reviewer)
		}

		panel, err := e.loadPanel(o.tx, c.ID)
		if err != nil {
			return err
		}

		if panel.Member(reviewer) != nil {
			return errors.Wrapf(model.ErrDuplicateReviewer, "%q already served on campaign %q", reviewer, c.ID)
		}

		var vacant *model.PanelMember
		for _, m := range panel.Members {
			if m.Status == model.ReviewerDeclined {
				vacant = m
				break
			}
		}

		if vacant == nil {
			return errors.Wrapf(model.ErrNoVacancy, "campaign %q", c.ID)
		}

		vacant.Status = model.ReviewerReplaced
		vacant.UpdatedAt = o.now
		panel.Members = append(panel.Members, &model.PanelMember{
			Reviewer:   reviewer,
			Status:     model.ReviewerActive,
			AssignedAt: o.now,
			UpdatedAt:  o.now,
		})

		if err := o.tx.PutPanel(panel); err != nil {
			return errors.Wrap(err, "failed to save panel")
		}

		o.emit(model.EventReviewerAssigned, c.ID, reviewerEntity(vacant.Reviewer), string(model.ReviewerDeclined), string(model.ReviewerReplaced), 0)
		o.emit(model.EventReviewerAssigned, c.ID, reviewerEntity(reviewer), "", string(model.ReviewerActive), 0)

		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"replaced":    vacant.Reviewer,
			"reviewer":    reviewer,
		}).Info("replacement reviewer assigned")

		return nil
	})
}

// expandForAppeal attaches a five member appeal panel to the milestone.
// Members of the base panel may serve again.
func (e *Engine) expandForAppeal(o *op, c *model.Campaign, panel *model.Panel, index int, reviewers []string) error {
	if len(reviewers) != model.AppealPanelSize {
		return errors.Wrapf(model.ErrWrongPanelSize, "got %d appeal reviewers, need %d", len(reviewers), model.AppealPanelSize)
	}

	if err := validateCandidates(c, reviewers); err != nil {
		return err
	}

	if panel.Appeal(index) != nil {
		return errors.Wrapf(model.ErrAlreadyAppealed, "milestone %d", index)
	}

	appeal := &model.AppealPanel{Milestone: index, OpenedAt: o.now}
	for _, reviewer := range reviewers {
		appeal.Members = append(appeal.Members, &model.PanelMember{
			Reviewer:   reviewer,
			Status:     model.ReviewerActive,
			AssignedAt: o.now,
			UpdatedAt:  o.now,
		})
		o.emit(model.EventReviewerAssigned, c.ID, reviewerEntity(reviewer), "", fmt.Sprintf("appeal/%d", index), 0)
	}

	panel.Appeals = append(panel.Appeals, appeal)
	return o.tx.PutPanel(panel)
}

// recordOutcome adjusts the reviewer score after a concluded round. Aligned
// voters gain, repeated minority votes cost a penalty once the streak is long enough.
func (e *Engine) recordOutcome(o *op, campaignID, reviewer string, aligned bool) error {
	rep, err := o.tx.GetReputation(reviewer)
	if err == model.ErrNotFound {
		rep = e.newReputation(reviewer)
	} else if err != nil {
		return errors.Wrapf(err, "failed to load reputation of %q", reviewer)
	}

	cfg := e.config.Reputation
	old := rep.Score

	rep.Participations++
	if aligned {
		rep.Aligned++
		rep.MinorityStreak = 0
		rep.Score += cfg.AlignedGain
	} else {
		rep.Misaligned++
		rep.MinorityStreak++
		if rep.MinorityStreak >= cfg.MinorityStreak {
			rep.Score -= cfg.MinorityPenalty
			rep.MinorityStreak = 0
		}
	}

	rep.Score = clampScore(rep.Score)
	rep.UpdatedAt = o.now

	if err := o.tx.PutReputation(rep); err != nil {
		return errors.Wrapf(err, "failed to save reputation of %q", reviewer)
	}

	if rep.Score != old {
		o.emit(model.EventReputationChanged, campaignID, reviewerEntity(reviewer), formatScore(old), formatScore(rep.Score), 0)
	}

	return nil
}

// GetPanel returns the reviewer panel of a campaign, including appeal panels.
func (e *Engine) GetPanel(ctx context.Context, campaignID string) (*model.Panel, error) {
	var panel *model.Panel
	err := e.view(ctx, func(tx db.Tx) error {
		var err error
		panel, err = e.loadPanel(tx, campaignID)
		return err
	})
	return panel, err
}

// GetReputation returns the reviewer record. Unknown reviewers start with the initial score.
func (e *Engine) GetReputation(ctx context.Context, reviewer string) (*model.Reputation, error) {
	var rep *model.Reputation
	err := e.view(ctx, func(tx db.Tx) error {
		var err error
		rep, err = tx.GetReputation(reviewer)
		if err == model.ErrNotFound {
			rep, err = e.newReputation(reviewer), nil
		}
		return err
	})
	return rep, err
}

// ListReputation returns every stored reviewer record, ordered by reviewer.
func (e *Engine) ListReputation(ctx context.Context) ([]*model.Reputation, error) {
	var list []*model.Reputation
	err := e.store.WalkReputation(ctx, func(rep *model.Reputation) error {
		list = append(list, rep)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk reputation")
	}
	return list, nil
}

func (e *Engine) newReputation(reviewer string) *model.Reputation {
	return &model.Reputation{
		Reviewer: reviewer,
		Score:    e.config.Reputation.Initial,
	}
}

func (e *Engine) loadPanel(tx db.Tx, campaignID string) (*model.Panel, error) {
	panel, err := tx.GetPanel(campaignID)
	if err == model.ErrNotFound {
		return nil, errors.Wrapf(model.ErrNotFound, "panel of campaign %q", campaignID)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to load panel of %q", campaignID)
	}
	return panel, nil
}

func validateCandidates(c *model.Campaign, reviewers []string) error {
	seen := make(map[string]struct{}, len(reviewers))
	for _, reviewer := range reviewers {
		if reviewer == "" {
			return errors.Wrap(model.ErrInvalidIdentity, "empty reviewer identity")
		}
		if reviewer == c.Creator {
			return errors.Wrapf(model.ErrCreatorAsReviewer, "%q", reviewer)
		}
		if _, ok := seen[reviewer]; ok {
			return errors.Wrapf(model.ErrDuplicateReviewer, "%q", reviewer)
		}
		seen[reviewer] = struct{}{}
	}
	return nil
}

// hasVoted reports whether reviewer cast any vote on any round of the campaign.
func hasVoted(tx db.Tx, c *model.Campaign, reviewer string) (bool, error) {
	found := false
	for _, m := range c.Milestones {
		for round := 1; round <= m.Round && !found; round++ {
			err := tx.WalkVotes(c.ID, m.Index, round, func(v *model.Vote) error {
				if v.Reviewer == reviewer {
					found = true
				}
				return nil
			})
			if err != nil {
				return false, errors.Wrap(err, "failed to walk votes")
			}
		}
	}
	return found, nil
}

func clampScore(score float64) float64 {
	if score < model.MinReputationScore {
		return model.MinReputationScore
	}
	if score > model.MaxReputationScore {
		return model.MaxReputationScore
	}
	return score
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
