package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/frontiertower/towerbot/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaIngestor publishes episodes to a Kafka topic keyed by chat ID, so the
// episodes of one group stay ordered within a partition.
type KafkaIngestor struct {
	topic  string
	writer messageWriter
}

// NewKafkaIngestor builds a writer for cfg.Topic on cfg.KafkaBrokers.
func NewKafkaIngestor(cfg config.IngestConfig) (*KafkaIngestor, error) {
	mech, err := saslMechanism(cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
	if err != nil {
		return nil, fmt.Errorf("sasl config: %w", err)
	}
	transport := &kafka.Transport{
		DialTimeout: 8 * time.Second,
		SASL:        mech,
	}
	if cfg.TLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var brokers []string
	for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 20 * time.Millisecond,
		Transport:    transport,
	}
	return &KafkaIngestor{topic: cfg.Topic, writer: w}, nil
}

func saslMechanism(name, user, pass string) (sasl.Mechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: user, Password: pass}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, user, pass)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, user, pass)
	default:
		return nil, fmt.Errorf("unsupported sasl.mechanism: %s", name)
	}
}

// IngestEpisode writes ep to the episode topic.
func (k *KafkaIngestor) IngestEpisode(ctx context.Context, ep Episode) error {
	if ep.MessageID == "" {
		return fmt.Errorf("episode without message id")
	}
	value, err := encodeEpisode(ep)
	if err != nil {
		return fmt.Errorf("encode episode: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ep.ChatID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "episode", Value: []byte(ep.Name())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write episode %s to %s: %w", ep.Name(), k.topic, err)
	}
	slog.Debug("KafkaIngestor: episode written", "episode", ep.Name(), "topic", k.topic)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaIngestor) Close() error {
	return k.writer.Close()
}
