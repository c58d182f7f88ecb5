package engine

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// Draft is the creator's campaign submission
type Draft struct {
	Creator      string
	Token        string
	Goal         int64
	Deadline     time.Time
	MetadataHash string
	Milestones   []MilestoneDraft
}

type MilestoneDraft struct {
	Title  string
	Amount int64
}

func (d Draft) validate() error {
	var result *multierror.Error

	if d.Creator == "" {
		result = multierror.Append(result, errors.New("creator is required"))
	}

	if d.Token == "" {
		result = multierror.Append(result, errors.New("funding token is required"))
	}

	if d.Goal <= 0 {
		result = multierror.Append(result, errors.Errorf("goal must be positive (got %d)", d.Goal))
	}

	if d.Deadline.IsZero() {
		result = multierror.Append(result, errors.New("deadline is required"))
	}

	if len(d.Milestones) == 0 {
		result = multierror.Append(result, errors.New("at least one milestone is required"))
	}

	var total int64
	for idx, m := range d.Milestones {
		if m.Amount <= 0 {
			result = multierror.Append(result, errors.Errorf("milestone %d amount must be positive (got %d)", idx, m.Amount))
			continue
		}
		total += m.Amount
	}

	if len(d.Milestones) > 0 && total != d.Goal {
		result = multierror.Append(result, errors.Errorf("milestone amounts sum to %d, goal is %d", total, d.Goal))
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(model.ErrInvalidCampaign, err.Error())
	}

	return nil
}

// Create stores a new Draft campaign and returns it with its generated ID.
func (e *Engine) Create(ctx context.Context, draft Draft) (*model.Campaign, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}

	id, err := e.newCampaignID()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate campaign id")
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	now := e.clock.Now()
	campaign := &model.Campaign{
		ID:           id,
		Creator:      draft.Creator,
		Token:        draft.Token,
		Goal:         draft.Goal,
		Deadline:     draft.Deadline.UTC(),
		MetadataHash: draft.MetadataHash,
		State:        model.CampaignDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for idx, m := range draft.Milestones {
		campaign.Milestones = append(campaign.Milestones, &model.Milestone{
			CampaignID: id,
			Index:      idx,
			Title:      m.Title,
			Amount:     m.Amount,
			Status:     model.MilestonePending,
			UpdatedAt:  now,
		})
	}

	err = e.store.Update(ctx, func(tx db.Tx) error {
		if err := tx.CreateCampaign(campaign); err != nil {
			return errors.Wrapf(err, "failed to create campaign %q", id)
		}

		o := &op{tx: tx, now: now}
		o.emit(model.EventCampaignStateChanged, id, campaignEntity(id), "", string(model.CampaignDraft), 0)
		return o.flush()
	})

	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"campaign_id": id,
		"creator":     draft.Creator,
		"goal":        draft.Goal,
		"milestones":  len(draft.Milestones),
	}).Info("campaign created")

	return campaign, nil
}

// Publish opens a Draft campaign for pledges. The milestone list is fixed from now on.
func (e *Engine) Publish(ctx context.Context, campaignID, actor string) error {
	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireCreator(c, actor, "publish"); err != nil {
			return err
		}

		if c.State != model.CampaignDraft {
			return errors.Wrapf(model.ErrInvalidState, "can't publish %s campaign", c.State)
		}

		if len(c.Milestones) == 0 || c.Goal <= 0 {
			return errors.Wrap(model.ErrInvalidCampaign, "campaign needs a goal and at least one milestone")
		}

		if !o.now.Before(c.Deadline) {
			return errors.Wrapf(model.ErrDeadlinePassed, "deadline %s is not in the future", c.Deadline)
		}

		e.setState(o, c, model.CampaignFunding)
		return nil
	})
}

// Cancel is the creator's way out while the campaign is still collecting pledges.
func (e *Engine) Cancel(ctx context.Context, campaignID, actor string) error {
	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireCreator(c, actor, "cancel"); err != nil {
			return err
		}

		if c.State != model.CampaignFunding {
			return errors.Wrapf(model.ErrInvalidState, "can't cancel %s campaign", c.State)
		}

		e.setState(o, c, model.CampaignCancelled)
		return nil
	})
}

// Pause stops vote tallying and releases. Deadlines keep running while paused.
func (e *Engine) Pause(ctx context.Context, campaignID, admin string) error {
	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireAdmin(c, admin, "pause"); err != nil {
			return err
		}

		if c.State != model.CampaignActive {
			return errors.Wrapf(model.ErrInvalidState, "can't pause %s campaign", c.State)
		}

		e.setState(o, c, model.CampaignPaused)
		return nil
	})
}

// Resume reactivates a paused campaign and executes releases approved before the pause.
func (e *Engine) Resume(ctx context.Context, campaignID, admin string) error {
	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireAdmin(c, admin, "resume"); err != nil {
			return err
		}

		if c.State != model.CampaignPaused {
			return errors.Wrapf(model.ErrInvalidState, "can't resume %s campaign", c.State)
		}

		e.setState(o, c, model.CampaignActive)
		return e.drainReleases(o, c)
	})
}

// SubmitProof records the creator's proof reference and opens a standard vote round.
func (e *Engine) SubmitProof(ctx context.Context, campaignID string, index int, actor, proofRef string) error {
	if proofRef == "" {
		return model.ErrEmptyProof
	}

	return e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if err := e.requireCreator(c, actor, "submit proof"); err != nil {
			return err
		}

		if err := requireActive(c); err != nil {
			return err
		}

		m, err := c.Milestone(index)
		if err != nil {
			return errors.Wrapf(err, "milestone %d of %d", index, len(c.Milestones))
		}

		switch m.Status {
		case model.MilestonePending:
		case model.MilestoneRejected:
			if m.Final || m.Appealed {
				return errors.Wrapf(model.ErrInvalidState, "milestone %d rejection is final", index)
			}
			if m.Submissions-1 >= e.config.MaxResubmissions {
				return errors.Wrapf(model.ErrResubmissionLimit, "milestone %d was resubmitted %d time(s)", index, m.Submissions-1)
			}
		default:
			return errors.Wrapf(model.ErrInvalidState, "can't submit proof for %s milestone %d", m.Status, index)
		}

		panel, err := o.tx.GetPanel(c.ID)
		if err == model.ErrNotFound {
			return errors.Wrap(model.ErrPanelIncomplete, "no reviewer panel assigned")
		} else if err != nil {
			return errors.Wrap(err, "failed to load panel")
		}

		if active := len(panel.Active()); active != model.PanelSize {
			return errors.Wrapf(model.ErrPanelIncomplete, "%d of %d reviewers active", active, model.PanelSize)
		}

		m.ProofRef = proofRef
		m.Submissions++
		e.setMilestone(o, c, m, model.MilestoneSubmitted)
		e.openRound(o, c, m, model.RoundStandard)
		return nil
	})
}

// GetCampaign returns the campaign with its milestones and balances.
func (e *Engine) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	var campaign *model.Campaign
	err := e.view(ctx, func(tx db.Tx) error {
		var err error
		campaign, err = e.loadCampaign(tx, campaignID)
		return err
	})
	return campaign, err
}

// GetMilestone returns a single milestone record.
func (e *Engine) GetMilestone(ctx context.Context, campaignID string, index int) (*model.Milestone, error) {
	campaign, err := e.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	return campaign.Milestone(index)
}

// openRound moves a submitted or rejected milestone into a fresh vote round.
func (e *Engine) openRound(o *op, c *model.Campaign, m *model.Milestone, kind model.RoundKind) {
	m.Round++
	m.RoundKind = kind
	m.RoundOpen = true
	m.Outcome = ""

	if kind == model.RoundStandard {
		e.setMilestone(o, c, m, model.MilestoneUnderReview)
	} else {
		e.setMilestone(o, c, m, model.MilestoneAppealed)
	}
}

func (e *Engine) setState(o *op, c *model.Campaign, state model.CampaignState) {
	old := c.State
	c.State = state
	o.emit(model.EventCampaignStateChanged, c.ID, campaignEntity(c.ID), string(old), string(state), 0)

	log.WithFields(log.Fields{
		"campaign_id": c.ID,
		"from":        old,
		"to":          state,
	}).Info("campaign state changed")
}

func (e *Engine) setMilestone(o *op, c *model.Campaign, m *model.Milestone, status model.MilestoneStatus) {
	old := m.Status
	m.Status = status
	m.UpdatedAt = o.now
	o.emit(model.EventMilestoneStateChanged, c.ID, milestoneEntity(c.ID, m.Index), string(old), string(status), 0)

	log.WithFields(log.Fields{
		"campaign_id": c.ID,
		"milestone":   m.Index,
		"from":        old,
		"to":          status,
	}).Debug("milestone state changed")
}

// failMilestone marks a permanent rejection. The milestone amount is forfeited
// and becomes refundable while the other milestones carry on.
func (e *Engine) failMilestone(o *op, c *model.Campaign, m *model.Milestone) {
	m.Final = true
	m.UpdatedAt = o.now
	c.Forfeited += m.Amount

	o.emit(model.EventMilestoneForfeited, c.ID, milestoneEntity(c.ID, m.Index), "", "", m.Amount)

	log.WithFields(log.Fields{
		"campaign_id": c.ID,
		"milestone":   m.Index,
		"amount":      m.Amount,
	}).Info("milestone failed permanently")

	e.settle(o, c)
}

// settle ends a running campaign once no milestone is live: Completed when
// everything was released, Failed when at least one milestone was forfeited.
func (e *Engine) settle(o *op, c *model.Campaign) {
	if c.State != model.CampaignActive && c.State != model.CampaignPaused {
		return
	}

	switch {
	case c.AllReleased():
		e.setState(o, c, model.CampaignCompleted)
	case c.Settled():
		e.setState(o, c, model.CampaignFailed)
	}
}

func (e *Engine) requireCreator(c *model.Campaign, actor, action string) error {
	if actor != c.Creator {
		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"actor":       actor,
			"action":      action,
		}).Warn("rejected action from non-creator")
		return errors.Wrapf(model.ErrNotAuthorized, "%q can't %s campaign %q", actor, action, c.ID)
	}
	return nil
}

func (e *Engine) requireAdmin(c *model.Campaign, actor, action string) error {
	if !e.isAdmin(actor) {
		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"actor":       actor,
			"action":      action,
		}).Warn("rejected admin action")
		return errors.Wrapf(model.ErrNotAuthorized, "%q can't %s campaign %q", actor, action, c.ID)
	}
	return nil
}

func requireActive(c *model.Campaign) error {
	switch c.State {
	case model.CampaignActive:
		return nil
	case model.CampaignPaused:
		return errors.Wrapf(model.ErrCampaignPaused, "campaign %q", c.ID)
	default:
		return errors.Wrapf(model.ErrInvalidState, "campaign %q is %s", c.ID, c.State)
	}
}
