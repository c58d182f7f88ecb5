package engine

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

type AuditReport struct {
	Checked int
	// Halted lists campaigns halted by this audit
	Halted []string
	// Skipped lists campaigns that were already halted
	Skipped []string
}

type auditOutcome int

const (
	auditPassed auditOutcome = iota
	auditHalted
	auditSkipped
)

// Audit recomputes every campaign ledger from its pledge records and halts
// campaigns whose balances don't add up.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	var ids []string
	if err := e.store.WalkCampaigns(ctx, func(c *model.Campaign) error {
		ids = append(ids, c.ID)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to walk campaigns")
	}

	report := &AuditReport{}

	var result *multierror.Error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := e.auditCampaign(ctx, id)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "campaign %q", id))
			continue
		}

		report.Checked++
		switch outcome {
		case auditHalted:
			report.Halted = append(report.Halted, id)
		case auditSkipped:
			report.Skipped = append(report.Skipped, id)
		}
	}

	log.WithFields(log.Fields{
		"checked": report.Checked,
		"halted":  len(report.Halted),
		"skipped": len(report.Skipped),
	}).Info("audit finished")

	return report, result.ErrorOrNil()
}

func (e *Engine) auditCampaign(ctx context.Context, campaignID string) (auditOutcome, error) {
	unlock := e.locks.Lock(campaignID)
	defer unlock()

	var (
		outcome   = auditPassed
		violation error
	)

	err := e.view(ctx, func(tx db.Tx) error {
		c, err := e.loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}

		if c.Halted {
			outcome = auditSkipped
			return nil
		}

		err = verifyLedger(tx, c)
		if model.IsInvariant(err) {
			violation = err
			return nil
		}
		return err
	})

	if err != nil {
		return outcome, err
	}

	if violation != nil {
		e.halt(ctx, campaignID, violation)
		outcome = auditHalted
	}

	return outcome, nil
}

// verifyLedger checks conservation against the stored pledge records.
// Storage failures are returned as is, imbalances as ErrConservation.
func verifyLedger(tx db.Tx, c *model.Campaign) error {
	if err := checkBalances(c); err != nil {
		return err
	}

	var pledged, refunded int64
	err := tx.WalkPledges(c.ID, func(p *model.Pledge) error {
		if p.RefundedAmount > p.Amount {
			return errors.Wrapf(model.ErrConservation, "%q got back %d of %d pledged", p.Backer, p.RefundedAmount, p.Amount)
		}
		pledged += p.Amount
		refunded += p.RefundedAmount
		return nil
	})
	if model.IsInvariant(err) {
		return err
	} else if err != nil {
		return errors.Wrap(err, "failed to walk pledges")
	}

	if pledged != c.TotalPledged {
		return errors.Wrapf(model.ErrConservation, "pledge records sum to %d, ledger says %d", pledged, c.TotalPledged)
	}

	if refunded != c.Refunded {
		return errors.Wrapf(model.ErrConservation, "refunds sum to %d, ledger says %d", refunded, c.Refunded)
	}

	return nil
}
