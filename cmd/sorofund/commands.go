package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/engine"
	"github.com/LadderMine/SoroFund/pkg/events"
	"github.com/LadderMine/SoroFund/pkg/model"
)

// serve runs the background sweep and the outbox relay until a signal arrives.
func serve(ctx context.Context, cancel context.CancelFunc, stop <-chan os.Signal, cfg *Config, store db.Storage, eng *engine.Engine) error {
	sinks, closeSinks, err := newSinks(&cfg.Events)
	if err != nil {
		return errors.Wrap(err, "failed to create event sinks")
	}
	defer closeSinks()

	relay := events.NewRelay(store, cfg.Events.BatchSize, sinks...)

	group, ctx := errgroup.WithContext(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger()))))

	if _, err := c.AddFunc(cfg.Sweep.Schedule, func() {
		if err := eng.Sweep(ctx); err != nil {
			log.WithError(err).Error("sweep failed")
		}
	}); err != nil {
		return errors.Wrapf(err, "can't create sweep task")
	}

	if _, err := c.AddFunc(cfg.Events.Schedule, func() {
		if _, err := relay.Flush(ctx); err != nil {
			log.WithError(err).Warn("event relay failed")
		}
	}); err != nil {
		return errors.Wrapf(err, "can't create relay task")
	}

	log.Debugf("sweep every %q, relay every %q", cfg.Sweep.Schedule, cfg.Events.Schedule)

	group.Go(func() error {
		defer func() {
			log.Info("shutting down cron")
			<-c.Stop().Done()
		}()

		// Catch up on anything that expired while the process was down
		if err := eng.Sweep(ctx); err != nil {
			log.WithError(err).Error("initial sweep failed")
		}

		c.Start()

		<-ctx.Done()
		return ctx.Err()
	})

	group.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			cancel()
			return nil
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}

	// Deliver what is left before closing the database
	if _, err := relay.Flush(context.Background()); err != nil {
		log.WithError(err).Warn("failed to flush events on shutdown")
	}

	log.Info("gracefully stopped")
	return nil
}

// audit verifies every campaign ledger and fails when any campaign got halted.
func audit(ctx context.Context, eng *engine.Engine) error {
	report, err := eng.Audit(ctx)
	if err != nil {
		return err
	}

	for _, id := range report.Halted {
		log.WithField("campaign_id", id).Error("campaign halted by audit")
	}

	for _, id := range report.Skipped {
		log.WithField("campaign_id", id).Warn("campaign is halted and waits for manual audit")
	}

	if len(report.Halted) > 0 {
		return errors.Errorf("%d campaign(s) failed audit", len(report.Halted))
	}

	return nil
}

type inspection struct {
	Campaign   *model.Campaign
	Milestones []*model.Milestone
	Panel      *model.Panel `json:",omitempty"`
	Votes      []*engine.VoteState
}

// inspect prints the campaign read model as JSON.
func inspect(ctx context.Context, eng *engine.Engine, campaignID string) error {
	if campaignID == "" {
		return errors.New("campaign id is required")
	}

	campaign, err := eng.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	out := inspection{Campaign: campaign, Milestones: campaign.Milestones}

	out.Panel, err = eng.GetPanel(ctx, campaignID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	for _, m := range campaign.Milestones {
		state, err := eng.GetVoteState(ctx, campaignID, m.Index)
		if err != nil {
			return err
		}
		out.Votes = append(out.Votes, state)
	}

	return printJSON(out)
}

// reputation prints every reviewer record as JSON.
func reputation(ctx context.Context, eng *engine.Engine) error {
	list, err := eng.ListReputation(ctx)
	if err != nil {
		return err
	}

	return printJSON(list)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSinks(cfg *events.Config) ([]events.Sink, func(), error) {
	var (
		sinks   []events.Sink
		closers []func() error
	)

	if cfg.Log {
		sinks = append(sinks, events.LogSink{})
	}

	if len(cfg.Hooks) > 0 {
		sinks = append(sinks, events.NewHookSink(cfg.Hooks))
	}

	if cfg.Redis != nil {
		redis, err := events.NewRedisSink(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, redis)
		closers = append(closers, redis.Close)
	}

	if len(sinks) == 0 {
		log.Warn("no event sinks configured, events will be logged")
		sinks = append(sinks, events.LogSink{})
	}

	closeAll := func() {
		for _, fn := range closers {
			if err := fn(); err != nil {
				log.WithError(err).Warn("failed to close event sink")
			}
		}
	}

	return sinks, closeAll, nil
}
