package db

import (
	"context"

	"github.com/LadderMine/SoroFund/pkg/model"
)

type Version int

const (
	CurrentVersion = 1
)

// Tx is a serializable view of the ledger. Every engine operation runs inside
// exactly one Tx, so its reads and writes commit or roll back together.
type Tx interface {
	// CreateCampaign inserts a new campaign with its milestones, fails with model.ErrAlreadyExists
	CreateCampaign(campaign *model.Campaign) error

	// GetCampaign loads the campaign record together with its ordered milestones
	GetCampaign(campaignID string) (*model.Campaign, error)

	// PutCampaign overwrites the campaign record and all of its milestone records
	PutCampaign(campaign *model.Campaign) error

	GetPledge(campaignID string, backer string) (*model.Pledge, error)
	PutPledge(pledge *model.Pledge) error
	WalkPledges(campaignID string, cb func(pledge *model.Pledge) error) error

	GetPanel(campaignID string) (*model.Panel, error)
	PutPanel(panel *model.Panel) error

	// AddVote appends a vote, existing votes are never overwritten (model.ErrAlreadyExists)
	AddVote(vote *model.Vote) error
	// WalkVotes iterates over the votes of a single milestone round in reviewer order
	WalkVotes(campaignID string, milestone int, round int, cb func(vote *model.Vote) error) error

	GetReputation(reviewer string) (*model.Reputation, error)
	PutReputation(reputation *model.Reputation) error

	// AppendEvent adds an event to the outbox
	AppendEvent(event *model.Event) error
}

type Storage interface {
	Close() error
	Version() (int, error)

	// Update runs fn in a read-write transaction
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(tx Tx) error) error

	// WalkCampaigns iterates over all campaigns (with milestones) saved to database
	WalkCampaigns(ctx context.Context, cb func(campaign *model.Campaign) error) error

	// WalkReputation iterates over all reviewer reputation records
	WalkReputation(ctx context.Context, cb func(reputation *model.Reputation) error) error

	// WalkOutbox iterates over undelivered events in append order
	WalkOutbox(ctx context.Context, cb func(event *model.Event) error) error

	// AckEvents removes delivered events from the outbox
	AckEvents(ctx context.Context, seqs []uint64) error
}
