package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/model"
)

const (
	versionPath      = "sorofund/version"
	sequencePath     = "sorofund/outbox_seq"
	campaignPrefix   = "campaign/"
	campaignPath     = "campaign/%s"
	milestonePrefix  = "milestone/%s/"
	milestonePath    = "milestone/%s/%04d" // CampaignID + Index
	pledgePrefix     = "pledge/%s/"
	pledgePath       = "pledge/%s/%s" // CampaignID + Backer
	panelPath        = "panel/%s"
	votePrefix       = "vote/%s/%04d/%04d/"
	votePath         = "vote/%s/%04d/%04d/%s" // CampaignID + Milestone + Round + Reviewer
	reputationPrefix = "reputation/"
	reputationPath   = "reputation/%s"
	outboxPrefix     = "outbox/"
	outboxPath       = "outbox/%020d"

	sequenceBandwidth  = 128
	maxConflictRetries = 8
)

// BadgerConfig represents BadgerDB configuration parameters
type BadgerConfig struct {
	Truncate bool `toml:"truncate"`
	FileIO   bool `toml:"file_io"`
}

type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ Storage = (*Badger)(nil)

func NewBadger(config *Config) (*Badger, error) {
	var (
		dir = config.Dir
	)

	log.Infof("opening database %q", dir)

	// Make sure database directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "could not mkdir database dir")
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(log.StandardLogger()).
		WithTruncate(true)

	if config.Badger != nil {
		opts.Truncate = config.Badger.Truncate
		if config.Badger.FileIO {
			opts.ValueLogLoadingMode = options.FileIO
		}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	storage := &Badger{db: db}

	if err := db.Update(func(txn *badger.Txn) error {
		if err := storage.setObj(txn, []byte(versionPath), CurrentVersion, false); err != nil && err != model.ErrAlreadyExists {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to read database version")
	}

	seq, err := db.GetSequence([]byte(sequencePath), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to open outbox sequence")
	}

	storage.seq = seq
	return storage, nil
}

func (b *Badger) Close() error {
	log.Debug("closing database")
	if err := b.seq.Release(); err != nil {
		log.WithError(err).Warn("failed to release outbox sequence")
	}
	return b.db.Close()
}

func (b *Badger) Version() (int, error) {
	var (
		version = -1
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, []byte(versionPath), &version)
	})

	return version, err
}

// Update retries the whole transaction when badger detects a write conflict.
// fn must only touch storage through tx, so rerunning it is safe.
func (b *Badger) Update(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{b: b, txn: txn})
		})

		if err == badger.ErrConflict && attempt < maxConflictRetries {
			log.WithField("attempt", attempt+1).Debug("transaction conflict, retrying")
			continue
		}

		return err
	}
}

func (b *Badger) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{b: b, txn: txn})
	})
}

func (b *Badger) WalkCampaigns(_ context.Context, cb func(campaign *model.Campaign) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(campaignPrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			campaign := &model.Campaign{}
			if err := b.unmarshalObj(item, campaign); err != nil {
				return err
			}

			if err := b.walkMilestones(txn, campaign.ID, func(milestone *model.Milestone) error {
				campaign.Milestones = append(campaign.Milestones, milestone)
				return nil
			}); err != nil {
				return err
			}

			return cb(campaign)
		})
	})
}

func (b *Badger) WalkReputation(_ context.Context, cb func(reputation *model.Reputation) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(reputationPrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			reputation := &model.Reputation{}
			if err := b.unmarshalObj(item, reputation); err != nil {
				return err
			}

			return cb(reputation)
		})
	})
}

func (b *Badger) WalkOutbox(_ context.Context, cb func(event *model.Event) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(outboxPrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			event := &model.Event{}
			if err := b.unmarshalObj(item, event); err != nil {
				return err
			}

			return cb(event)
		})
	})
}

func (b *Badger) AckEvents(_ context.Context, seqs []uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, seq := range seqs {
			if err := txn.Delete(b.getKey(outboxPath, seq)); err != nil {
				return errors.Wrapf(err, "failed to delete outbox event %d", seq)
			}
		}
		return nil
	})
}

func (b *Badger) walkMilestones(txn *badger.Txn, campaignID string, cb func(milestone *model.Milestone) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = b.getKey(milestonePrefix, campaignID)
	opts.PrefetchValues = true
	return b.iterator(txn, opts, func(item *badger.Item) error {
		milestone := &model.Milestone{}
		if err := b.unmarshalObj(item, milestone); err != nil {
			return err
		}

		return cb(milestone)
	})
}

func (b *Badger) iterator(txn *badger.Txn, opts badger.IteratorOptions, callback func(item *badger.Item) error) error {
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()

		if err := callback(item); err != nil {
			return err
		}
	}

	return nil
}

func (b *Badger) getKey(format string, a ...interface{}) []byte {
	resourcePath := fmt.Sprintf(format, a...)
	fullPath := fmt.Sprintf("sorofund/v%d/%s", CurrentVersion, resourcePath)

	return []byte(fullPath)
}

func (b *Badger) setObj(txn *badger.Txn, key []byte, obj interface{}, overwrite bool) error {
	if !overwrite {
		// Overwrites are not allowed, make sure there is no object with the given key
		_, err := txn.Get(key)
		if err == nil {
			return model.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return errors.Wrap(err, "failed to check whether key exists")
		}
	}

	data, err := b.marshalObj(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize object for key %q", key)
	}

	return txn.Set(key, data)
}

func (b *Badger) getObj(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return model.ErrNotFound
		}

		return err
	}

	return b.unmarshalObj(item, out)
}

func (b *Badger) marshalObj(obj interface{}) ([]byte, error) {
	return json.Marshal(obj)
}

func (b *Badger) unmarshalObj(item *badger.Item, out interface{}) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// badgerTx implements Tx on top of a single badger transaction
type badgerTx struct {
	b   *Badger
	txn *badger.Txn
}

var _ Tx = (*badgerTx)(nil)

func (t *badgerTx) CreateCampaign(campaign *model.Campaign) error {
	key := t.b.getKey(campaignPath, campaign.ID)
	if err := t.b.setObj(t.txn, key, campaign, false); err != nil {
		return err
	}

	return t.putMilestones(campaign)
}

func (t *badgerTx) GetCampaign(campaignID string) (*model.Campaign, error) {
	campaign := &model.Campaign{}
	if err := t.b.getObj(t.txn, t.b.getKey(campaignPath, campaignID), campaign); err != nil {
		return nil, err
	}

	if err := t.b.walkMilestones(t.txn, campaignID, func(milestone *model.Milestone) error {
		campaign.Milestones = append(campaign.Milestones, milestone)
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to load milestones of %q", campaignID)
	}

	return campaign, nil
}

func (t *badgerTx) PutCampaign(campaign *model.Campaign) error {
	key := t.b.getKey(campaignPath, campaign.ID)
	if err := t.b.setObj(t.txn, key, campaign, true); err != nil {
		return err
	}

	return t.putMilestones(campaign)
}

func (t *badgerTx) putMilestones(campaign *model.Campaign) error {
	for _, milestone := range campaign.Milestones {
		key := t.b.getKey(milestonePath, campaign.ID, milestone.Index)
		if err := t.b.setObj(t.txn, key, milestone, true); err != nil {
			return errors.Wrapf(err, "failed to save milestone %d", milestone.Index)
		}
	}

	return nil
}

func (t *badgerTx) GetPledge(campaignID string, backer string) (*model.Pledge, error) {
	pledge := &model.Pledge{}
	if err := t.b.getObj(t.txn, t.b.getKey(pledgePath, campaignID, backer), pledge); err != nil {
		return nil, err
	}

	return pledge, nil
}

func (t *badgerTx) PutPledge(pledge *model.Pledge) error {
	return t.b.setObj(t.txn, t.b.getKey(pledgePath, pledge.CampaignID, pledge.Backer), pledge, true)
}

func (t *badgerTx) WalkPledges(campaignID string, cb func(pledge *model.Pledge) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = t.b.getKey(pledgePrefix, campaignID)
	opts.PrefetchValues = true
	return t.b.iterator(t.txn, opts, func(item *badger.Item) error {
		pledge := &model.Pledge{}
		if err := t.b.unmarshalObj(item, pledge); err != nil {
			return err
		}

		return cb(pledge)
	})
}

func (t *badgerTx) GetPanel(campaignID string) (*model.Panel, error) {
	panel := &model.Panel{}
	if err := t.b.getObj(t.txn, t.b.getKey(panelPath, campaignID), panel); err != nil {
		return nil, err
	}

	return panel, nil
}

func (t *badgerTx) PutPanel(panel *model.Panel) error {
	return t.b.setObj(t.txn, t.b.getKey(panelPath, panel.CampaignID), panel, true)
}

func (t *badgerTx) AddVote(vote *model.Vote) error {
	key := t.b.getKey(votePath, vote.CampaignID, vote.Milestone, vote.Round, vote.Reviewer)
	return t.b.setObj(t.txn, key, vote, false)
}

func (t *badgerTx) WalkVotes(campaignID string, milestone int, round int, cb func(vote *model.Vote) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = t.b.getKey(votePrefix, campaignID, milestone, round)
	opts.PrefetchValues = true
	return t.b.iterator(t.txn, opts, func(item *badger.Item) error {
		vote := &model.Vote{}
		if err := t.b.unmarshalObj(item, vote); err != nil {
			return err
		}

		return cb(vote)
	})
}

func (t *badgerTx) GetReputation(reviewer string) (*model.Reputation, error) {
	reputation := &model.Reputation{}
	if err := t.b.getObj(t.txn, t.b.getKey(reputationPath, reviewer), reputation); err != nil {
		return nil, err
	}

	return reputation, nil
}

func (t *badgerTx) PutReputation(reputation *model.Reputation) error {
	return t.b.setObj(t.txn, t.b.getKey(reputationPath, reputation.Reviewer), reputation, true)
}

func (t *badgerTx) AppendEvent(event *model.Event) error {
	seq, err := t.b.seq.Next()
	if err != nil {
		return errors.Wrap(err, "failed to allocate outbox sequence")
	}

	event.Seq = seq
	return t.b.setObj(t.txn, t.b.getKey(outboxPath, seq), event, false)
}
