package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/model"
)

var testCtx = context.TODO()

func TestRelay_Flush(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	events := getEvents(3)

	outbox := NewMockoutbox(ctrl)
	outbox.EXPECT().WalkOutbox(gomock.Any(), gomock.Any()).DoAndReturn(walk(events))
	outbox.EXPECT().AckEvents(gomock.Any(), []uint64{1, 2, 3}).Return(nil)

	first := NewMockSink(ctrl)
	second := NewMockSink(ctrl)
	for _, event := range events {
		first.EXPECT().Publish(gomock.Any(), event).Return(nil)
		second.EXPECT().Publish(gomock.Any(), event).Return(nil)
	}

	relay := NewRelay(outbox, 0, first, second)
	count, err := relay.Flush(testCtx)
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRelay_FailedEventBlocksTheRest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	events := getEvents(3)

	outbox := NewMockoutbox(ctrl)
	outbox.EXPECT().WalkOutbox(gomock.Any(), gomock.Any()).DoAndReturn(walk(events))
	outbox.EXPECT().AckEvents(gomock.Any(), []uint64{1}).Return(nil)

	sink := NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Publish(gomock.Any(), events[0]).Return(nil),
		sink.EXPECT().Publish(gomock.Any(), events[1]).Return(errors.New("unavailable")),
	)

	relay := NewRelay(outbox, 0, sink)
	count, err := relay.Flush(testCtx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, 1, count)
}

func TestRelay_BatchSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	events := getEvents(5)

	outbox := NewMockoutbox(ctrl)
	outbox.EXPECT().WalkOutbox(gomock.Any(), gomock.Any()).DoAndReturn(walk(events))
	outbox.EXPECT().AckEvents(gomock.Any(), []uint64{1, 2}).Return(nil)

	sink := NewMockSink(ctrl)
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(2).Return(nil)

	relay := NewRelay(outbox, 2, sink)
	count, err := relay.Flush(testCtx)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRelay_EmptyOutbox(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	outbox := NewMockoutbox(ctrl)
	outbox.EXPECT().WalkOutbox(gomock.Any(), gomock.Any()).Return(nil)

	relay := NewRelay(outbox, 0, NewMockSink(ctrl))
	count, err := relay.Flush(testCtx)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRelay_OutboxError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	outbox := NewMockoutbox(ctrl)
	outbox.EXPECT().WalkOutbox(gomock.Any(), gomock.Any()).Return(errors.New("disk"))

	relay := NewRelay(outbox, 0, NewMockSink(ctrl))
	_, err := relay.Flush(testCtx)
	assert.Error(t, err)
}

func TestRelay_Badger(t *testing.T) {
	store, err := db.NewBadger(&db.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Update(testCtx, func(tx db.Tx) error {
		for _, event := range getEvents(4) {
			if err := tx.AppendEvent(event); err != nil {
				return err
			}
		}
		return nil
	}))

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var seen []model.EventType
	sink := NewMockSink(ctrl)
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(4).DoAndReturn(func(_ context.Context, event *model.Event) error {
		seen = append(seen, event.Type)
		return nil
	})

	relay := NewRelay(store, 0, LogSink{}, sink)
	count, err := relay.Flush(testCtx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, []model.EventType{
		model.EventCampaignStateChanged,
		model.EventVoteCast,
		model.EventFundsReleased,
		model.EventCampaignStateChanged,
	}, seen)

	count, err = relay.Flush(testCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func walk(events []*model.Event) func(context.Context, func(*model.Event) error) error {
	return func(_ context.Context, cb func(*model.Event) error) error {
		for _, event := range events {
			if err := cb(event); err != nil {
				return err
			}
		}
		return nil
	}
}

func getEvents(n int) []*model.Event {
	types := []model.EventType{model.EventCampaignStateChanged, model.EventVoteCast, model.EventFundsReleased}

	var out []*model.Event
	for i := 0; i < n; i++ {
		out = append(out, &model.Event{
			ID:         "event",
			Seq:        uint64(i + 1),
			Type:       types[i%len(types)],
			CampaignID: "c1",
			Entity:     "campaign/c1",
			Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		})
	}
	return out
}
