package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/model"
)

// Producer publishes ChatEvents keyed by chat_id in idempotent-producer
// mode. A successful Publish means "eventually visible to all consumers
// of that partition, in publish order" — callers never wait on the
// consumer side.
type Producer struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	logger  zerolog.Logger
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
	Logger  zerolog.Logger
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		// idempotent producer: default in franz-go unless explicitly
		// disabled, guarantees no duplicate/out-of-order writes per
		// partition under retry.
	)
	if err != nil {
		return nil, apperr.Internalf(err, "create event bus producer client")
	}

	return &Producer{client: client, topic: cfg.Topic, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

// Publish sends event to the topic partition keyed by event.ChatID and
// blocks until the broker acknowledges durability or the producer's
// timeout (5s by default) elapses.
func (p *Producer) Publish(ctx context.Context, event model.ChatEvent) error {
	payload, err := EncodeEvent(event)
	if err != nil {
		return apperr.Internalf(err, "encode chat event for message %s", event.MessageID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.ChatID),
		Value: payload,
	}

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return apperr.Transientf(err, "publish event for message %s", event.MessageID)
	}
	return nil
}

// Close flushes and shuts down the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
