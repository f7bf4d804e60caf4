package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// publishTimeout bounds each produce. Events are published after the ledger
// write has committed, so a broker outage must not hold up the request.
const publishTimeout = 5 * time.Second

// KafkaPublisher produces events as JSON records keyed by subject, so all
// events for one entity land on the same partition.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.ClientID("ehrledger"),
		kgo.RecordDeliveryTimeout(publishTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, timeout: publishTimeout}, nil
}

// Publish produces e and waits at most the publish timeout for the broker to
// acknowledge it. Cancelling ctx does not abandon the record early.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	rec, err := newRecord(p.topic, e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce %s: %w", e.Type, err)
	}
	return nil
}

// Ping checks connectivity to at least one broker.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func newRecord(topic string, e Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("kafka: encode %s: %w", e.Type, err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}
