package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/examwatch/internal/domain"
)

type SignalService struct {
	rdb     *redis.Client
	channel string
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb:     redisClient,
		channel: domain.ActivityChannel,
	}
}

// Publish is a no-op when redis is not configured.
func (s *SignalService) Publish(ctx context.Context, event domain.ActivityEvent) error {
	if s.rdb == nil {
		return nil
	}

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, s.channel, jsonstr).Err()
	if err != nil {
		return errors.Wrap(err, "publish activity")
	}

	return nil
}

// Realtime forwards activity events to output until ctx is done.
func (s *SignalService) Realtime(ctx context.Context, output chan<- domain.ActivityEvent) error {
	if s.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe activity")
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.ActivityEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("dropping malformed activity event")
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
