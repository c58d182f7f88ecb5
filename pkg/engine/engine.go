// Package engine implements the escrow and quorum-release state machine.
//
// Every mutating operation runs under a per-campaign lock inside a single
// storage transaction. Events produced by an operation are written to the
// outbox in the same transaction and delivered later by the events relay.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	shortid "github.com/ventu-io/go-shortid"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config holds engine tunables loaded from the [engine] TOML section
type Config struct {
	// AppealWindow is how long after a rejection the creator may open an appeal
	AppealWindow time.Duration `toml:"appeal_window"`
	// DeclineWindow is how long after assignment a reviewer may decline
	DeclineWindow time.Duration `toml:"decline_window"`
	// MaxResubmissions caps Rejected -> Submitted transitions per milestone
	MaxResubmissions int `toml:"max_resubmissions"`
	// Admins may pause and resume campaigns. Empty list trusts the caller.
	Admins     []string         `toml:"admins"`
	Reputation ReputationConfig `toml:"reputation"`
}

type ReputationConfig struct {
	Initial         float64 `toml:"initial"`
	AlignedGain     float64 `toml:"aligned_gain"`
	MinorityPenalty float64 `toml:"minority_penalty"`
	// MinorityStreak is the number of consecutive minority outcomes that triggers the penalty
	MinorityStreak int `toml:"minority_streak"`
}

// ApplyDefaults fills zero values with package defaults
func (c *Config) ApplyDefaults() {
	if c.AppealWindow == 0 {
		c.AppealWindow = model.DefaultAppealWindow
	}
	if c.DeclineWindow == 0 {
		c.DeclineWindow = model.DefaultDeclineWindow
	}
	if c.MaxResubmissions == 0 {
		c.MaxResubmissions = model.DefaultMaxResubmissions
	}
	if c.Reputation.Initial == 0 {
		c.Reputation.Initial = model.DefaultReputationScore
	}
	if c.Reputation.AlignedGain == 0 {
		c.Reputation.AlignedGain = model.DefaultAlignedGain
	}
	if c.Reputation.MinorityPenalty == 0 {
		c.Reputation.MinorityPenalty = model.DefaultMinorityPenalty
	}
	if c.Reputation.MinorityStreak == 0 {
		c.Reputation.MinorityStreak = model.DefaultMinorityStreak
	}
}

type Option func(e *Engine)

// WithClock replaces the wall clock, used by tests and replays
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

type Engine struct {
	store  db.Storage
	config Config
	clock  Clock
	sid    *shortid.Shortid
	locks  *keyedMutex
	admins map[string]struct{}
}

func New(store db.Storage, config Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}

	config.ApplyDefaults()

	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create id generator")
	}

	e := &Engine{
		store:  store,
		config: config,
		clock:  systemClock{},
		sid:    sid,
		locks:  newKeyedMutex(),
		admins: make(map[string]struct{}, len(config.Admins)),
	}

	for _, admin := range config.Admins {
		e.admins[admin] = struct{}{}
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// op is the state of a single mutating operation
type op struct {
	tx     db.Tx
	now    time.Time
	events []*model.Event
}

func (o *op) emit(typ model.EventType, campaignID, entity, from, to string, amount int64) {
	o.events = append(o.events, &model.Event{
		Type:       typ,
		CampaignID: campaignID,
		Entity:     entity,
		Old:        from,
		New:        to,
		Amount:     amount,
		Timestamp:  o.now,
	})
}

func (o *op) flush() error {
	for _, event := range o.events {
		event.ID = newEventID()
		if err := o.tx.AppendEvent(event); err != nil {
			return errors.Wrapf(err, "failed to append %s event", event.Type)
		}
	}
	return nil
}

// apply runs fn as one atomic step against the campaign. The campaign record
// (with milestones) is saved after fn succeeds. Invariant violations roll the
// step back and halt the campaign.
func (e *Engine) apply(ctx context.Context, campaignID string, fn func(o *op, c *model.Campaign) error) error {
	unlock := e.locks.Lock(campaignID)
	defer unlock()

	now := e.clock.Now()

	err := e.store.Update(ctx, func(tx db.Tx) error {
		o := &op{tx: tx, now: now}

		c, err := e.loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}

		if c.Halted {
			return errors.Wrapf(model.ErrCampaignHalted, "campaign %q: %s", campaignID, c.HaltCause)
		}

		if err := fn(o, c); err != nil {
			return err
		}

		if err := checkBalances(c); err != nil {
			return err
		}

		c.UpdatedAt = now
		if err := tx.PutCampaign(c); err != nil {
			return errors.Wrapf(err, "failed to save campaign %q", campaignID)
		}

		return o.flush()
	})

	if err != nil && model.IsInvariant(err) && !errors.Is(err, model.ErrCampaignHalted) {
		e.halt(ctx, campaignID, err)
	}

	return err
}

// halt marks the campaign as unusable until manual audit. Caller must hold the campaign lock.
func (e *Engine) halt(ctx context.Context, campaignID string, cause error) {
	logger := log.WithFields(log.Fields{"campaign_id": campaignID})
	logger.WithError(cause).Error("invariant violation, halting campaign")

	now := e.clock.Now()
	err := e.store.Update(ctx, func(tx db.Tx) error {
		c, err := tx.GetCampaign(campaignID)
		if err != nil {
			return err
		}

		if c.Halted {
			return nil
		}

		c.Halted = true
		c.HaltCause = cause.Error()
		c.UpdatedAt = now
		if err := tx.PutCampaign(c); err != nil {
			return err
		}

		o := &op{tx: tx, now: now}
		o.emit(model.EventCampaignHalted, c.ID, campaignEntity(c.ID), "", model.CodeOf(cause), 0)
		return o.flush()
	})

	if err != nil {
		logger.WithError(err).Error("failed to persist campaign halt")
	}
}

func (e *Engine) loadCampaign(tx db.Tx, campaignID string) (*model.Campaign, error) {
	c, err := tx.GetCampaign(campaignID)
	if err == model.ErrNotFound {
		return nil, errors.Wrapf(model.ErrNotFound, "campaign %q", campaignID)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to load campaign %q", campaignID)
	}
	return c, nil
}

// view runs a read-only query against a consistent snapshot
func (e *Engine) view(ctx context.Context, fn func(tx db.Tx) error) error {
	return e.store.View(ctx, fn)
}

func (e *Engine) isAdmin(actor string) bool {
	if len(e.admins) == 0 {
		return true
	}
	_, ok := e.admins[actor]
	return ok
}

func (e *Engine) newCampaignID() (string, error) {
	return e.sid.Generate()
}

func newEventID() string {
	return uuid.New().String()
}

func campaignEntity(campaignID string) string {
	return fmt.Sprintf("campaign/%s", campaignID)
}

func milestoneEntity(campaignID string, index int) string {
	return fmt.Sprintf("milestone/%s/%d", campaignID, index)
}

func pledgeEntity(campaignID, backer string) string {
	return fmt.Sprintf("pledge/%s/%s", campaignID, backer)
}

func reviewerEntity(reviewer string) string {
	return fmt.Sprintf("reviewer/%s", reviewer)
}

func voteEntity(campaignID string, index, round int, reviewer string) string {
	return fmt.Sprintf("vote/%s/%d/%d/%s", campaignID, index, round, reviewer)
}
