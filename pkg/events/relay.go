package events

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/model"
)

const defaultBatchSize = 256

var errBatchFull = errors.New("batch is full")

// Relay moves events from the storage outbox to the configured sinks. Delivery
// is at-least-once and in outbox order: an event is acknowledged only after
// every sink accepted it, and a failing event blocks the ones behind it.
type Relay struct {
	outbox outbox
	sinks  []Sink
	batch  int
}

func NewRelay(outbox outbox, batch int, sinks ...Sink) *Relay {
	if batch <= 0 {
		batch = defaultBatchSize
	}

	return &Relay{outbox: outbox, sinks: sinks, batch: batch}
}

// Flush delivers up to one batch of pending events and returns the number acknowledged.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var pending []*model.Event
	err := r.outbox.WalkOutbox(ctx, func(event *model.Event) error {
		pending = append(pending, event)
		if len(pending) >= r.batch {
			return errBatchFull
		}
		return nil
	})

	if err != nil && err != errBatchFull {
		return 0, errors.Wrap(err, "failed to read outbox")
	}

	if len(pending) == 0 {
		return 0, nil
	}

	var (
		delivered  []uint64
		deliverErr error
	)

	for _, event := range pending {
		if deliverErr = r.deliver(ctx, event); deliverErr != nil {
			log.WithError(deliverErr).WithFields(log.Fields{
				"seq":  event.Seq,
				"type": event.Type,
			}).Warn("event delivery failed, will retry")
			break
		}
		delivered = append(delivered, event.Seq)
	}

	if len(delivered) > 0 {
		if err := r.outbox.AckEvents(ctx, delivered); err != nil {
			return 0, errors.Wrap(err, "failed to acknowledge events")
		}
	}

	log.Debugf("delivered %d of %d pending event(s)", len(delivered), len(pending))
	return len(delivered), deliverErr
}

func (r *Relay) deliver(ctx context.Context, event *model.Event) error {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			return errors.Wrapf(err, "failed to publish event %d", event.Seq)
		}
	}
	return nil
}
