package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LadderMine/SoroFund/pkg/model"
)

var testCtx = context.TODO()

func TestNewBadger(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadger(&Config{Dir: dir})
	require.NoError(t, err)

	err = db.Close()
	assert.NoError(t, err)
}

func TestBadger_Version(t *testing.T) {
	db := newTestBadger(t)

	ver, err := db.Version()
	assert.NoError(t, err)
	assert.Equal(t, CurrentVersion, ver)
}

func TestBadger_CreateCampaign(t *testing.T) {
	db := newTestBadger(t)

	campaign := getCampaign()
	err := db.Update(testCtx, func(tx Tx) error {
		return tx.CreateCampaign(campaign)
	})
	require.NoError(t, err)

	// Second insert with the same ID must not overwrite
	err = db.Update(testCtx, func(tx Tx) error {
		return tx.CreateCampaign(campaign)
	})
	assert.Equal(t, model.ErrAlreadyExists, err)
}

func TestBadger_GetCampaign(t *testing.T) {
	db := newTestBadger(t)

	campaign := getCampaign()
	require.NoError(t, db.Update(testCtx, func(tx Tx) error {
		return tx.CreateCampaign(campaign)
	}))

	var actual *model.Campaign
	err := db.View(testCtx, func(tx Tx) error {
		var err error
		actual, err = tx.GetCampaign(campaign.ID)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, campaign.Goal, actual.Goal)
	assert.Equal(t, campaign.Creator, actual.Creator)
	require.Len(t, actual.Milestones, 2)
	assert.Equal(t, 0, actual.Milestones[0].Index)
	assert.EqualValues(t, 600, actual.Milestones[0].Amount)
	assert.Equal(t, 1, actual.Milestones[1].Index)
}

func TestBadger_GetCampaignNotFound(t *testing.T) {
	db := newTestBadger(t)

	err := db.View(testCtx, func(tx Tx) error {
		_, err := tx.GetCampaign("missing")
		return err
	})
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_PutCampaignUpdatesMilestones(t *testing.T) {
	db := newTestBadger(t)

	campaign := getCampaign()
	require.NoError(t, db.Update(testCtx, func(tx Tx) error {
		return tx.CreateCampaign(campaign)
	}))

	err := db.Update(testCtx, func(tx Tx) error {
		c, err := tx.GetCampaign(campaign.ID)
		if err != nil {
			return err
		}
		c.State = model.CampaignActive
		c.Milestones[1].Status = model.MilestoneSubmitted
		return tx.PutCampaign(c)
	})
	require.NoError(t, err)

	called := 0
	err = db.WalkCampaigns(testCtx, func(c *model.Campaign) error {
		called++
		assert.Equal(t, model.CampaignActive, c.State)
		require.Len(t, c.Milestones, 2)
		assert.Equal(t, model.MilestonePending, c.Milestones[0].Status)
		assert.Equal(t, model.MilestoneSubmitted, c.Milestones[1].Status)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestBadger_Pledges(t *testing.T) {
	db := newTestBadger(t)

	err := db.Update(testCtx, func(tx Tx) error {
		for _, backer := range []string{"bob", "alice"} {
			if err := tx.PutPledge(&model.Pledge{CampaignID: "c1", Backer: backer, Amount: 10}); err != nil {
				return err
			}
		}
		// Different campaign must not be visible through c1 prefix
		return tx.PutPledge(&model.Pledge{CampaignID: "c2", Backer: "carol", Amount: 5})
	})
	require.NoError(t, err)

	var backers []string
	err = db.View(testCtx, func(tx Tx) error {
		return tx.WalkPledges("c1", func(p *model.Pledge) error {
			backers = append(backers, p.Backer)
			return nil
		})
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, backers)

	err = db.View(testCtx, func(tx Tx) error {
		_, err := tx.GetPledge("c1", "carol")
		return err
	})
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_VotesAreAppendOnly(t *testing.T) {
	db := newTestBadger(t)

	vote := &model.Vote{CampaignID: "c1", Milestone: 0, Round: 1, Reviewer: "r1", Decision: model.DecisionApprove}
	require.NoError(t, db.Update(testCtx, func(tx Tx) error {
		return tx.AddVote(vote)
	}))

	err := db.Update(testCtx, func(tx Tx) error {
		changed := *vote
		changed.Decision = model.DecisionReject
		return tx.AddVote(&changed)
	})
	assert.Equal(t, model.ErrAlreadyExists, err)

	// Next round is a fresh vote set
	require.NoError(t, db.Update(testCtx, func(tx Tx) error {
		next := *vote
		next.Round = 2
		return tx.AddVote(&next)
	}))

	var decisions []model.Decision
	err = db.View(testCtx, func(tx Tx) error {
		return tx.WalkVotes("c1", 0, 1, func(v *model.Vote) error {
			decisions = append(decisions, v.Decision)
			return nil
		})
	})
	assert.NoError(t, err)
	assert.Equal(t, []model.Decision{model.DecisionApprove}, decisions)
}

func TestBadger_Reputation(t *testing.T) {
	db := newTestBadger(t)

	require.NoError(t, db.Update(testCtx, func(tx Tx) error {
		return tx.PutReputation(&model.Reputation{Reviewer: "r1", Score: 51})
	}))

	called := 0
	err := db.WalkReputation(testCtx, func(r *model.Reputation) error {
		called++
		assert.Equal(t, "r1", r.Reviewer)
		assert.EqualValues(t, 51, r.Score)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestBadger_Outbox(t *testing.T) {
	db := newTestBadger(t)

	err := db.Update(testCtx, func(tx Tx) error {
		for _, typ := range []model.EventType{model.EventCampaignStateChanged, model.EventFundsRefunded} {
			if err := tx.AppendEvent(&model.Event{Type: typ, CampaignID: "c1"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var events []*model.Event
	err = db.WalkOutbox(testCtx, func(e *model.Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCampaignStateChanged, events[0].Type)
	assert.Equal(t, model.EventFundsRefunded, events[1].Type)
	assert.True(t, events[0].Seq < events[1].Seq)

	err = db.AckEvents(testCtx, []uint64{events[0].Seq})
	require.NoError(t, err)

	called := 0
	err = db.WalkOutbox(testCtx, func(e *model.Event) error {
		called++
		assert.Equal(t, model.EventFundsRefunded, e.Type)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestBadger_RolledBackUpdateLeavesNoTrace(t *testing.T) {
	db := newTestBadger(t)

	err := db.Update(testCtx, func(tx Tx) error {
		if err := tx.PutPledge(&model.Pledge{CampaignID: "c1", Backer: "bob", Amount: 10}); err != nil {
			return err
		}
		return model.ErrInvalidState
	})
	assert.Equal(t, model.ErrInvalidState, err)

	err = db.View(testCtx, func(tx Tx) error {
		_, err := tx.GetPledge("c1", "bob")
		return err
	})
	assert.Equal(t, model.ErrNotFound, err)
}

func newTestBadger(t *testing.T) *Badger {
	t.Helper()

	db, err := NewBadger(&Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func getCampaign() *model.Campaign {
	now := time.Now().UTC()
	return &model.Campaign{
		ID:           "c1",
		Creator:      "creator",
		Token:        "USDC",
		Goal:         1000,
		Deadline:     now.Add(24 * time.Hour),
		MetadataHash: "sha256:abc",
		State:        model.CampaignDraft,
		Milestones: []*model.Milestone{
			{CampaignID: "c1", Index: 0, Title: "Prototype", Amount: 600, Status: model.MilestonePending},
			{CampaignID: "c1", Index: 1, Title: "Shipping", Amount: 400, Status: model.MilestonePending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
