// Package journal streams every applied contract event to an external
// audit log. Kafka is the production driver; stdio exists for local runs
// and tests. The journal is observability, not state: the mirror is
// rebuilt from the chain, never from the journal.
package journal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wagr-app/wagr-relay/internal/wagrabi"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const envKafkaTLS = "WAGR_JOURNAL_KAFKA_TLS"

var ErrInvalidConfig = errors.New("journal: invalid config")

// Entry is one journaled contract event.
type Entry struct {
	EventID string    `json:"eventId"`
	Event   string    `json:"event"`
	WagerID string    `json:"wagerId"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type Config struct {
	Driver string

	// Kafka fields.
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration

	// Stdio fields.
	Writer io.Writer

	Now func() time.Time
}

type publisher interface {
	publish(ctx context.Context, key, payload []byte) error
	close() error
}

// Journal publishes entries keyed by wager id, so a partitioned consumer
// still sees each wager's events in order.
type Journal struct {
	pub publisher
	now func() time.Time
}

func New(cfg Config) (*Journal, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var (
		pub publisher
		err error
	)
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverKafka, "":
		pub, err = newKafkaPublisher(cfg)
	case DriverStdio:
		pub = newStdioPublisher(cfg)
	default:
		err = fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &Journal{pub: pub, now: cfg.Now}, nil
}

// Record publishes one applied event. Satisfies reconcile.Recorder.
func (j *Journal) Record(ctx context.Context, eventID string, ev wagrabi.Event) error {
	entry := Entry{
		EventID: eventID,
		Event:   ev.Name(),
		WagerID: ev.WagerID().String(),
		Payload: ev,
		At:      j.now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry %s: %w", eventID, err)
	}
	if err := j.pub.publish(ctx, []byte(entry.WagerID), payload); err != nil {
		return fmt.Errorf("journal: publish entry %s: %w", eventID, err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.pub.close()
}

type kafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func newKafkaPublisher(cfg Config) (publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka driver requires at least one broker", ErrInvalidConfig)
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: kafka driver requires a topic", ErrInvalidConfig)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	if kafkaTLSEnabled() {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}
	return &kafkaPublisher{writer: writer, topic: topic}, nil
}

func (p *kafkaPublisher) publish(ctx context.Context, key, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: p.topic, Key: key, Value: payload})
}

func (p *kafkaPublisher) close() error {
	return p.writer.Close()
}

type stdioPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

func newStdioPublisher(cfg Config) publisher {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &stdioPublisher{w: w}
}

func (p *stdioPublisher) publish(_ context.Context, _ []byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(payload); err != nil {
		return err
	}
	_, err := p.w.Write([]byte("\n"))
	return err
}

func (p *stdioPublisher) close() error {
	return nil
}

func kafkaTLSEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
