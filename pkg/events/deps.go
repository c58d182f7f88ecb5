//go:generate mockgen -source=deps.go -destination=deps_mock_test.go -package=events

package events

import (
	"context"

	"github.com/LadderMine/SoroFund/pkg/model"
)

// Sink delivers a single event to an external collaborator.
type Sink interface {
	Publish(ctx context.Context, event *model.Event) error
}

type outbox interface {
	WalkOutbox(ctx context.Context, cb func(event *model.Event) error) error
	AckEvents(ctx context.Context, seqs []uint64) error
}
