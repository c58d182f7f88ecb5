package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/model"
)

const defaultRedisChannel = "sorofund/events"

// LogSink writes events to the application log
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event *model.Event) error {
	log.WithFields(log.Fields{
		"seq":         event.Seq,
		"event_id":    event.ID,
		"campaign_id": event.CampaignID,
		"entity":      event.Entity,
		"old":         event.Old,
		"new":         event.New,
		"amount":      event.Amount,
	}).Infof("event %s", event.Type)
	return nil
}

// RedisSink publishes JSON encoded events to a Redis pub/sub channel.
// Subscribe with:
//      127.0.0.1:6379> subscribe sorofund/events
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(cfg *RedisConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}

	channel := cfg.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}

	return &RedisSink{client: client, channel: channel}, nil
}

func (r *RedisSink) Publish(ctx context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	return r.client.WithContext(ctx).Publish(r.channel, data).Err()
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
