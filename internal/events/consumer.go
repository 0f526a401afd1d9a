package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/logging"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
)

// MessageStore is the slice of the Message Store the consumer needs: a
// single idempotent insert keyed on the message's full primary key.
type MessageStore interface {
	Insert(ctx context.Context, msg model.Message) error
}

// Broadcaster is the slice of the Fan-out Manager the consumer needs.
type Broadcaster interface {
	Broadcast(event model.ChatEvent)
}

// Guard is the slice of resourceguard.Guard the consumer needs for
// backpressure: a hard rate limit plus a CPU-based pause signal.
type Guard interface {
	AllowConsume() bool
	ShouldPauseConsumption() bool
}

// Consumer is the Event Bus Consumer: one fixed consumer-group-id
// deployment per chat service, auto.offset.reset=earliest,
// enable.auto.commit=false. Within a partition (a chat_id) inserts and
// broadcasts happen in publish order; across partitions there is no
// ordering.
type Consumer struct {
	client *kgo.Client
	store  MessageStore
	fanout Broadcaster
	guard  Guard
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Store   MessageStore
	Fanout  Broadcaster
	Guard   Guard // optional; nil disables backpressure
	Logger  zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Store == nil {
		return nil, apperr.Internalf(nil, "consumer requires a store")
	}
	if cfg.Fanout == nil {
		return nil, apperr.Internalf(nil, "consumer requires a fanout broadcaster")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()), // earliest
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", assigned).Msg("consumer partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, c *kgo.Client, revoked map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", revoked).Msg("consumer partitions revoked")
			if err := c.CommitMarkedOffsets(context.Background()); err != nil {
				cfg.Logger.Warn().Err(err).Msg("commit on partition revoke failed")
			}
		}),
	)
	if err != nil {
		return nil, apperr.Internalf(err, "create event bus consumer client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client: client,
		store:  cfg.Store,
		fanout: cfg.Fanout,
		guard:  cfg.Guard,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Run blocks, polling and processing fetches until Stop is called or ctx
// is cancelled. Acknowledgement is asynchronous: marked offsets are
// committed by a background ticker rather than after every record.
func (c *Consumer) Run(ctx context.Context) {
	defer logging.RecoverPanic(c.logger, "events.Consumer.Run", nil)

	c.wg.Add(1)
	defer c.wg.Done()

	go c.commitLoop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		default:
		}

		if c.guard != nil && c.guard.ShouldPauseConsumption() {
			c.logger.Warn().Msg("pausing consumption: cpu over pause threshold")
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
				return
			}
			continue
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		reportLag(fetches)

		fetches.EachRecord(func(rec *kgo.Record) {
			c.processRecord(c.ctx, rec)
		})
	}
}

// reportLag sums, across every partition in this fetch batch, the gap
// between the partition's high watermark and the last record we just
// received. It is a point-in-time estimate refreshed every poll cycle,
// not a continuously tracked counter.
func reportLag(fetches kgo.Fetches) {
	var lag int64
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if n := len(p.Records); n > 0 {
			last := p.Records[n-1].Offset
			if gap := p.HighWatermark - last - 1; gap > 0 {
				lag += gap
			}
		}
	})
	metrics.ConsumerLagMessages.Set(float64(lag))
}

// commitLoop periodically flushes marked offsets so acknowledgement never
// blocks message processing.
func (c *Consumer) commitLoop() {
	defer logging.RecoverPanic(c.logger, "events.Consumer.commitLoop", nil)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.client.CommitMarkedOffsets(c.ctx); err != nil {
				c.logger.Warn().Err(err).Msg("commit marked offsets failed")
			}
		case <-c.ctx.Done():
			_ = c.client.CommitMarkedOffsets(context.Background())
			return
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) {
	// Rate limit exceeded: hold this record and retry it once the bucket
	// refills, so a throttled record is never skipped.
	for c.guard != nil && !c.guard.AllowConsume() {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}

	event, err := DecodeEvent(rec.Value)
	if err != nil {
		// Poison-pill policy: drop and acknowledge. A malformed event can
		// never make progress, and retrying it would wedge the partition.
		c.logger.Warn().Err(err).Int64("offset", rec.Offset).Msg("dropping undecodable event")
		c.client.MarkCommitRecords(rec)
		return
	}

	msg := model.MessageFromEvent(event)
	if err := c.store.Insert(ctx, msg); err != nil {
		// At-least-once to the store: do not ack, the offset is
		// re-delivered after a restart.
		c.logger.Error().Err(err).Str("message_id", msg.MessageID).Msg("store insert failed, will redeliver")
		return
	}

	func() {
		defer logging.RecoverPanic(c.logger, "events.Consumer.broadcast", map[string]any{"message_id": msg.MessageID})
		c.fanout.Broadcast(event)
	}()

	c.client.MarkCommitRecords(rec)
}

// Stop cancels the poll loop and waits for it to exit, then closes the
// client. Offsets marked via MarkCommitRecords are flushed on close.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
}
