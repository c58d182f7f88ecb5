package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LadderMine/SoroFund/pkg/model"
)

// rejectedMilestone returns a campaign whose milestone 0 was rejected by the base panel.
func rejectedMilestone(t *testing.T, e *Engine) string {
	t.Helper()

	id := activeCampaign(t, e)
	require.NoError(t, e.SubmitProof(testCtx, id, 0, creator, "ipfs://m0"))
	castVote(t, e, id, 0, "r1", model.DecisionReject)
	castVote(t, e, id, 0, "r2", model.DecisionReject)
	require.Equal(t, model.MilestoneRejected, milestoneStatus(t, e, id, 0))

	return id
}

func openAppeal(id string) AppealRequest {
	return AppealRequest{CampaignID: id, Milestone: 0, Actor: creator, Reviewers: appealPanel}
}

func TestOpenAppeal_ApprovedOnAppeal(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	id := rejectedMilestone(t, e)

	clock.Advance(3 * 24 * time.Hour)
	require.NoError(t, e.OpenAppeal(testCtx, openAppeal(id)))

	m, err := e.GetMilestone(testCtx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneAppealed, m.Status)
	assert.Equal(t, model.RoundAppeal, m.RoundKind)
	assert.Equal(t, 2, m.Round)

	// Base panel has no seat in the appeal round
	err = e.CastVote(testCtx, Ballot{CampaignID: id, Milestone: 0, Reviewer: "r3", Decision: model.DecisionApprove})
	assert.ErrorIs(t, err, model.ErrNotAuthorized)

	castVote(t, e, id, 0, "a1", model.DecisionApprove)
	castVote(t, e, id, 0, "a2", model.DecisionReject)
	castVote(t, e, id, 0, "a3", model.DecisionApprove)
	castVote(t, e, id, 0, "a4", model.DecisionReject)
	assert.Equal(t, model.MilestoneAppealed, milestoneStatus(t, e, id, 0))

	castVote(t, e, id, 0, "a5", model.DecisionApprove)

	m, err = e.GetMilestone(testCtx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneReleased, m.Status)
	assert.True(t, m.Final)

	err = e.OpenAppeal(testCtx, openAppeal(id))
	assert.ErrorIs(t, err, model.ErrNotRejected)

	state, err := e.GetAppealState(testCtx, id, 0)
	require.NoError(t, err)
	assert.True(t, state.Opened)
	assert.True(t, state.Final)
	require.NotNil(t, state.Panel)
	assert.Equal(t, appealPanel, state.Panel.Active())
	require.NotNil(t, state.Votes)
	assert.Equal(t, 3, state.Votes.Approvals)
	assert.Equal(t, 2, state.Votes.Rejections)
	assert.Equal(t, model.DecisionApprove, state.Votes.Outcome)
}

func TestOpenAppeal_RejectedOnAppealForfeitsMilestone(t *testing.T) {
	e, _, _ := newTestEngine(t)
	id := rejectedMilestone(t, e)

	require.NoError(t, e.OpenAppeal(testCtx, openAppeal(id)))

	castVote(t, e, id, 0, "a1", model.DecisionReject)
	castVote(t, e, id, 0, "a2", model.DecisionReject)
	castVote(t, e, id, 0, "a3", model.DecisionReject)

	m, err := e.GetMilestone(testCtx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneRejected, m.Status)
	assert.True(t, m.Final)

	c, err := e.GetCampaign(testCtx, id)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, c.State)
	assert.EqualValues(t, 600, c.Forfeited)

	err = e.SubmitProof(testCtx, id, 0, creator, "ipfs://again")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	require.NoError(t, e.SubmitProof(testCtx, id, 1, creator, "ipfs://m1"))

	amount, err := e.Refund(testCtx, id, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 300, amount)
}

func TestOpenAppeal_WindowExpired(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	id := rejectedMilestone(t, e)

	state, err := e.GetAppealState(testCtx, id, 0)
	require.NoError(t, err)
	assert.False(t, state.Opened)
	assert.Equal(t, clock.Now().Add(model.DefaultAppealWindow), state.WindowEndsAt)

	clock.Advance(model.DefaultAppealWindow)

	err = e.OpenAppeal(testCtx, openAppeal(id))
	assert.ErrorIs(t, err, model.ErrAppealWindowExpired)
	assert.Equal(t, model.MilestoneRejected, milestoneStatus(t, e, id, 0))
}

func TestOpenAppeal_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	id := activeCampaign(t, e)

	err := e.OpenAppeal(testCtx, openAppeal(id))
	assert.ErrorIs(t, err, model.ErrNotRejected)

	id = rejectedMilestone(t, e)

	req := openAppeal(id)
	req.Actor = "mallory"
	err = e.OpenAppeal(testCtx, req)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)

	req = openAppeal(id)
	req.Reviewers = appealPanel[:3]
	err = e.OpenAppeal(testCtx, req)
	assert.ErrorIs(t, err, model.ErrWrongPanelSize)

	req = openAppeal(id)
	req.Reviewers = []string{"a1", "a2", "a3", "a4", "a1"}
	err = e.OpenAppeal(testCtx, req)
	assert.ErrorIs(t, err, model.ErrDuplicateReviewer)

	// Base panel members may serve on the appeal panel
	req = openAppeal(id)
	req.Reviewers = []string{"r1", "r2", "r3", "a1", "a2"}
	require.NoError(t, e.OpenAppeal(testCtx, req))

	err = e.OpenAppeal(testCtx, openAppeal(id))
	assert.ErrorIs(t, err, model.ErrNotRejected)
}

func TestOpenAppeal_OnlyOnce(t *testing.T) {
	e, _, _ := newTestEngine(t)
	id := rejectedMilestone(t, e)

	require.NoError(t, e.OpenAppeal(testCtx, openAppeal(id)))
	castVote(t, e, id, 0, "a1", model.DecisionReject)
	castVote(t, e, id, 0, "a2", model.DecisionReject)
	castVote(t, e, id, 0, "a3", model.DecisionReject)

	err := e.OpenAppeal(testCtx, openAppeal(id))
	assert.ErrorIs(t, err, model.ErrAlreadyAppealed)
	assert.Equal(t, model.CampaignActive, campaignState(t, e, id))
}
