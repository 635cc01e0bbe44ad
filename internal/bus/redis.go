package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const channelPrefix = "larder:household:"

// RedisBridge extends the in-process broker across server instances. Events
// are published to a per-household Redis channel and relayed back into the
// local broker, so every instance's subscribers see the same ordered stream.
type RedisBridge struct {
	broker *Broker
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBridge(broker *Broker, client *redis.Client, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{broker: broker, client: client, logger: logger}
}

// Publish sends the event through Redis. The caller is never blocked on
// Redis health: the network call runs on its own goroutine with a small
// bounded retry, and a persistent failure falls back to local-only delivery.
func (b *RedisBridge) Publish(householdID int64, ev Event) {
	ev.HouseholdID = householdID
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		channel := channelPrefix + strconv.FormatInt(householdID, 10)
		backoff := retry.WithMaxRetries(2, retry.NewExponential(50*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			b.logger.Error("redis publish, delivering locally", "error", err, "household_id", householdID)
			b.broker.Publish(householdID, ev)
		}
	}()
}

// Run relays Redis traffic into the local broker until ctx is done. It
// blocks, so callers start it on its own goroutine.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			householdID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64)
			if err != nil {
				b.logger.Warn("unparseable channel", "channel", msg.Channel)
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("unparseable event payload", "error", err)
				continue
			}
			b.broker.Publish(householdID, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
