package engine

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/model"
)

// Sweep applies the transitions driven only by time passing: expired funding,
// approved releases queued while paused, and milestones that can no longer recover.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.clock.Now()

	var pending []string
	err := e.store.WalkCampaigns(ctx, func(c *model.Campaign) error {
		if !c.Halted && e.needsSweep(c, now) {
			pending = append(pending, c.ID)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to walk campaigns")
	}

	if len(pending) == 0 {
		return nil
	}

	log.Debugf("sweeping %d campaign(s)", len(pending))

	var result *multierror.Error
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.apply(ctx, id, func(o *op, c *model.Campaign) error {
			e.expireFunding(o, c)
			if err := e.drainReleases(o, c); err != nil {
				return err
			}
			e.failExhausted(o, c)
			return nil
		})

		if err != nil {
			log.WithError(err).WithField("campaign_id", id).Error("sweep failed")
			result = multierror.Append(result, errors.Wrapf(err, "campaign %q", id))
		}
	}

	return result.ErrorOrNil()
}

func (e *Engine) needsSweep(c *model.Campaign, now time.Time) bool {
	switch c.State {
	case model.CampaignFunding:
		return fundingExpired(c, now)
	case model.CampaignActive:
		for _, m := range c.Milestones {
			if m.Status == model.MilestoneApproved || e.exhausted(m, now) {
				return true
			}
		}
	case model.CampaignPaused:
		for _, m := range c.Milestones {
			if e.exhausted(m, now) {
				return true
			}
		}
	}
	return false
}

// expireFunding fails a campaign that missed its goal by the deadline.
func (e *Engine) expireFunding(o *op, c *model.Campaign) {
	if c.State == model.CampaignFunding && fundingExpired(c, o.now) {
		log.WithFields(log.Fields{
			"campaign_id": c.ID,
			"pledged":     c.TotalPledged,
			"goal":        c.Goal,
		}).Info("funding deadline passed without reaching goal")
		e.setState(o, c, model.CampaignFailed)
	}
}

// failExhausted forfeits every rejected milestone that has no path left: the
// appeal window is over and every resubmission is used.
func (e *Engine) failExhausted(o *op, c *model.Campaign) {
	for _, m := range c.Milestones {
		if c.State != model.CampaignActive && c.State != model.CampaignPaused {
			return
		}
		if e.exhausted(m, o.now) {
			log.WithFields(log.Fields{
				"campaign_id": c.ID,
				"milestone":   m.Index,
				"submissions": m.Submissions,
			}).Debug("rejected milestone exhausted its resubmissions")
			e.failMilestone(o, c, m)
		}
	}
}

func (e *Engine) exhausted(m *model.Milestone, now time.Time) bool {
	if m.Status != model.MilestoneRejected || m.Final || m.Appealed {
		return false
	}
	if m.Submissions-1 < e.config.MaxResubmissions {
		return false
	}
	return !now.Before(m.RejectedAt.Add(e.config.AppealWindow))
}

func fundingExpired(c *model.Campaign, now time.Time) bool {
	return !now.Before(c.Deadline) && c.TotalPledged < c.Goal
}
