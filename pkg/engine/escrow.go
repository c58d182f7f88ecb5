package engine

import (
	"context"
	"math"
	"math/big"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// Pledge adds amount to the backer's pledge record. Reaching the goal moves the
// campaign to Active and requests a reviewer panel.
func (e *Engine) Pledge(ctx context.Context, campaignID, backer string, amount int64) (*model.Pledge, error) {
	if amount <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidAmount, "pledge of %d", amount)
	}
	if backer == "" {
		return nil, errors.Wrap(model.ErrInvalidIdentity, "backer")
	}

	var result *model.Pledge
	err := e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		if c.State != model.CampaignFunding {
			return errors.Wrapf(model.ErrInvalidState, "can't pledge to %s campaign", c.State)
		}

		if !o.now.Before(c.Deadline) {
			return errors.Wrapf(model.ErrDeadlinePassed, "deadline was %s", c.Deadline)
		}

		if amount > math.MaxInt64-c.TotalPledged {
			return errors.Wrap(model.ErrInvalidAmount, "pledge overflows campaign total")
		}

		pledge, err := o.tx.GetPledge(c.ID, backer)
		if err == model.ErrNotFound {
			pledge = &model.Pledge{CampaignID: c.ID, Backer: backer, CreatedAt: o.now}
		} else if err != nil {
			return errors.Wrapf(err, "failed to load pledge of %q", backer)
		}

		pledge.Amount += amount
		pledge.UpdatedAt = o.now
		c.TotalPledged += amount

		if err := o.tx.PutPledge(pledge); err != nil {
			return errors.Wrapf(err, "failed to save pledge of %q", backer)
		}

		if c.TotalPledged >= c.Goal {
			c.FundedAt = o.now
			e.setState(o, c, model.CampaignActive)
			o.emit(model.EventPanelRequested, c.ID, campaignEntity(c.ID), "", strconv.Itoa(model.PanelSize), 0)
		}

		result = pledge
		return nil
	})

	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"campaign_id": campaignID,
		"backer":      backer,
		"amount":      amount,
		"total":       result.Amount,
	}).Debug("pledge accepted")

	return result, nil
}

// Refund pays out what the backer is owed from the campaign's refund pool.
// Shares are computed campaign-wide, so equal pledges always get equal
// refunds. A running campaign with forfeited milestones refunds their share
// and may be refunded again later if more is forfeited or the campaign ends.
func (e *Engine) Refund(ctx context.Context, campaignID, backer string) (int64, error) {
	var refunded int64
	err := e.apply(ctx, campaignID, func(o *op, c *model.Campaign) error {
		// Backers don't have to wait for the sweep once the deadline passed
		e.expireFunding(o, c)

		if !c.Refundable() {
			return errors.Wrapf(model.ErrInvalidState, "can't refund %s campaign", c.State)
		}

		pledge, err := o.tx.GetPledge(c.ID, backer)
		if err == model.ErrNotFound {
			return errors.Wrapf(model.ErrNothingToRefund, "no pledge from %q", backer)
		} else if err != nil {
			return errors.Wrapf(err, "failed to load pledge of %q", backer)
		}

		if pledge.Refunded {
			return errors.Wrapf(model.ErrNothingToRefund, "pledge of %q already refunded", backer)
		}

		entitled := refundShare(pledge.Amount, c.RefundPool(), c.TotalPledged)
		amount := entitled - pledge.RefundedAmount
		if amount <= 0 {
			return errors.Wrapf(model.ErrNothingToRefund, "pledge of %q has no refundable share left", backer)
		}

		if entitled > pledge.Amount || amount > c.Escrowed() {
			return errors.Wrapf(model.ErrInsufficientEscrow, "refund of %d exceeds escrow %d", amount, c.Escrowed())
		}

		pledge.RefundedAmount = entitled
		pledge.Refunded = c.State.Terminal()
		pledge.UpdatedAt = o.now
		c.Refunded += amount

		if err := o.tx.PutPledge(pledge); err != nil {
			return errors.Wrapf(err, "failed to save pledge of %q", backer)
		}

		o.emit(model.EventFundsRefunded, c.ID, pledgeEntity(c.ID, backer), "", backer, amount)
		refunded = amount
		return nil
	})

	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"campaign_id": campaignID,
		"backer":      backer,
		"amount":      refunded,
	}).Info("funds refunded")

	return refunded, nil
}

// release moves the milestone amount out of escrow to the creator. It is only
// reachable from the vote tally approval path and the queued release drain.
func (e *Engine) release(o *op, c *model.Campaign, m *model.Milestone) error {
	if m.Status == model.MilestoneReleased {
		return errors.Wrapf(model.ErrAlreadyReleased, "milestone %d", m.Index)
	}

	if m.Status != model.MilestoneApproved {
		return errors.Wrapf(model.ErrInvalidState, "can't release %s milestone %d", m.Status, m.Index)
	}

	if m.Amount > c.Escrowed() {
		return errors.Wrapf(model.ErrInsufficientEscrow, "milestone %d needs %d, escrow holds %d", m.Index, m.Amount, c.Escrowed())
	}

	c.Released += m.Amount
	m.ReleasedAt = o.now
	e.setMilestone(o, c, m, model.MilestoneReleased)
	o.emit(model.EventFundsReleased, c.ID, milestoneEntity(c.ID, m.Index), "", c.Creator, m.Amount)

	log.WithFields(log.Fields{
		"campaign_id": c.ID,
		"milestone":   m.Index,
		"amount":      m.Amount,
	}).Info("funds released")

	e.settle(o, c)
	return nil
}

// drainReleases executes queued releases of approved milestones.
func (e *Engine) drainReleases(o *op, c *model.Campaign) error {
	if c.State != model.CampaignActive {
		return nil
	}

	for _, m := range c.Milestones {
		if m.Status != model.MilestoneApproved {
			continue
		}
		if err := e.release(o, c, m); err != nil {
			return err
		}
	}

	return nil
}

// GetPledge returns the pledge record of a backer.
func (e *Engine) GetPledge(ctx context.Context, campaignID, backer string) (*model.Pledge, error) {
	var pledge *model.Pledge
	err := e.view(ctx, func(tx db.Tx) error {
		var err error
		pledge, err = tx.GetPledge(campaignID, backer)
		if err == model.ErrNotFound {
			return errors.Wrapf(model.ErrNotFound, "pledge of %q to %q", backer, campaignID)
		}
		return err
	})
	return pledge, err
}

// refundShare returns floor(pledge * unreleased / total) without overflow.
func refundShare(pledge, unreleased, total int64) int64 {
	if total <= 0 || unreleased <= 0 {
		return 0
	}
	if unreleased >= total {
		return pledge
	}

	share := new(big.Int).Mul(big.NewInt(pledge), big.NewInt(unreleased))
	share.Quo(share, big.NewInt(total))
	return share.Int64()
}

// checkBalances verifies the cheap per-record part of the conservation invariant.
func checkBalances(c *model.Campaign) error {
	if c.TotalPledged < 0 || c.Released < 0 || c.Refunded < 0 {
		return errors.Wrapf(model.ErrConservation, "negative balance: pledged=%d released=%d refunded=%d",
			c.TotalPledged, c.Released, c.Refunded)
	}

	if c.Escrowed() < 0 {
		return errors.Wrapf(model.ErrConservation, "escrow is negative: pledged=%d released=%d refunded=%d",
			c.TotalPledged, c.Released, c.Refunded)
	}

	var released, forfeited int64
	for _, m := range c.Milestones {
		switch {
		case m.Status == model.MilestoneReleased:
			released += m.Amount
		case m.Failed():
			forfeited += m.Amount
		}
	}

	if released != c.Released {
		return errors.Wrapf(model.ErrConservation, "released milestones sum to %d, ledger says %d", released, c.Released)
	}

	if forfeited != c.Forfeited {
		return errors.Wrapf(model.ErrConservation, "forfeited milestones sum to %d, ledger says %d", forfeited, c.Forfeited)
	}

	// Escrow of a running campaign must still cover every live milestone
	if !c.State.Terminal() && c.Refunded > c.Forfeited {
		return errors.Wrapf(model.ErrConservation, "refunded %d of running campaign exceeds forfeited %d", c.Refunded, c.Forfeited)
	}

	return nil
}
