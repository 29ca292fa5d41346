// Package kafka forwards consent lifecycle events to a Kafka topic so
// downstream systems (warehouses, CMP auditors) can consume them without
// polling the consent store.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"consentgate/internal/consent"
	"consentgate/internal/events"
)

// Sink publishes consent lifecycle events to one topic. Publishing is
// fire-and-forget from the dispatcher's point of view: a broker outage never
// blocks or fails a consent action.
type Sink struct {
	client   *kgo.Client
	topic    string
	logger   *slog.Logger
	failures prometheus.Counter
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithFailureCounter wires the delivery-failure metric.
func WithFailureCounter(c prometheus.Counter) SinkOption {
	return func(s *Sink) { s.failures = c }
}

// NewSink connects to the brokers and returns a ready sink.
func NewSink(brokers []string, topic string, logger *slog.Logger, opts ...SinkOption) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	s := &Sink{client: client, topic: topic, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// EnsureTopic creates the topic when it does not exist yet. Already-exists
// errors are swallowed so concurrent instances can race the creation.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replicas int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopic(ctx, partitions, replicas, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", s.topic, resp.Err)
	}
	return nil
}

type envelope struct {
	Event     string          `json:"event"`
	EmittedAt time.Time       `json:"emitted_at"`
	ConsentID string          `json:"consent_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Listener adapts the sink to the event bus. Register it as a wildcard
// listener; non-consent events pass through untouched.
func (s *Sink) Listener() events.Listener {
	return func(ev events.Event) {
		ce, ok := ev.(*consent.Event)
		if !ok {
			return
		}
		s.publish(ce)
	}
}

func (s *Sink) publish(ce *consent.Event) {
	payload, err := json.Marshal(ce)
	if err != nil {
		s.fail("marshal consent event", err)
		return
	}
	value, err := json.Marshal(envelope{
		Event:     ce.Type,
		EmittedAt: time.Now().UTC(),
		ConsentID: ce.Record.ConsentID,
		Payload:   payload,
	})
	if err != nil {
		s.fail("marshal event envelope", err)
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ce.Record.ConsentID),
		Value: value,
	}
	s.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.fail("produce consent event", err)
		}
	})
}

func (s *Sink) fail(msg string, err error) {
	s.logger.Error(msg, "error", err)
	if s.failures != nil {
		s.failures.Inc()
	}
}

// Close flushes outstanding produces and releases the client.
func (s *Sink) Close(ctx context.Context) error {
	err := s.client.Flush(ctx)
	s.client.Close()
	return err
}
