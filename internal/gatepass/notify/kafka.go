package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

const DefaultTopic = "gatepass.events"

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Username and Password enable SASL/PLAIN over TLS.  Both empty means
	// a plaintext connection.
	Username string
	Password string

	Format Format
}

// KafkaPublisher writes events to a topic keyed by pass id, so every
// event of one pass lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	format Format
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	transport := &kafka.Transport{}
	if cfg.Username != "" || cfg.Password != "" {
		transport.SASL = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
		transport.TLS = &tls.Config{}
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Transport:    transport,
			WriteTimeout: 10 * time.Second,
		},
		format: cfg.Format,
	}, nil
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, ev types.Event) error {
	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) message(ev types.Event) (kafka.Message, error) {
	value, err := Encode(ev, p.format)
	if err != nil {
		return kafka.Message{}, err
	}
	format := p.format
	if format == "" {
		format = FormatJSON
	}
	return kafka.Message{
		Key:   []byte(ev.PassID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "recipient", Value: []byte(ev.RecipientID)},
			{Key: "content-type", Value: []byte(format.ContentType())},
		},
	}, nil
}
