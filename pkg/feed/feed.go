// Package feed publishes events produced by the matching engine to
// downstream consumers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
)

// Publisher delivers a market's new events in production order.
type Publisher interface {
	Publish(ctx context.Context, market string, evs []events.Event) error
	Close() error
}

// Message is the JSON value written per event.
type Message struct {
	Market string       `json:"market"`
	Event  events.Event `json:"event"`
	Kind   string       `json:"kind"`
	Side   string       `json:"side"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by market name so a
// market's events stay ordered within one partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, market string, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		value, err := json.Marshal(Message{Market: market, Event: ev, Kind: ev.Kind.String(), Side: ev.Side.String()})
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(market), Value: value})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []events.Event) error { return nil }
func (NopPublisher) Close() error                                         { return nil }

type batch struct {
	market string
	evs    []events.Event
}

// Pump decouples the engine from a slow publisher. Enqueue never blocks;
// when the queue is full the batch is dropped and logged.
type Pump struct {
	pub    Publisher
	logger *zap.SugaredLogger
	queue  chan batch
}

func NewPump(pub Publisher, logger *zap.SugaredLogger, size int) *Pump {
	return &Pump{pub: pub, logger: logger, queue: make(chan batch, size)}
}

// Enqueue schedules evs for publishing. It reports false when dropped.
func (p *Pump) Enqueue(market string, evs []events.Event) bool {
	select {
	case p.queue <- batch{market: market, evs: evs}:
		return true
	default:
		p.logger.Warnw("feed_queue_full", "market", market, "dropped", len(evs))
		return false
	}
}

// Run publishes queued batches until ctx is done.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-p.queue:
			if err := p.pub.Publish(ctx, b.market, b.evs); err != nil {
				p.logger.Errorw("feed_publish_failed", "market", b.market, "events", len(b.evs), "err", err)
				continue
			}
			p.logger.Debugw("feed_published", "market", b.market, "events", len(b.evs))
		}
	}
}
