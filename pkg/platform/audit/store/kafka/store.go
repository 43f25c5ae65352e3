// Package kafka forwards audit events to a Kafka topic. A circuit breaker
// stops produce attempts while the cluster is unreachable so audit never
// stalls the request path for long.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "certreg/pkg/platform/audit"
	"certreg/pkg/platform/circuit"
	"certreg/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned while the breaker rejects produce attempts.
var ErrCircuitOpen = fmt.Errorf("kafka audit sink circuit open: %w", sentinel.ErrUnavailable)

// Config describes the target topic.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	FailureThreshold  int
	Cooldown          time.Duration
}

// producer is the slice of *kgo.Client the store uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Store produces one JSON record per audit event, keyed by subject so the
// history of one organization or recipient stays in one partition.
type Store struct {
	client  producer
	admin   *kadm.Client
	cfg     Config
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New builds a franz-go client for cfg. It does not contact the cluster.
func New(cfg Config, opts ...Option) (*Store, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	s := newStore(client, cfg, opts...)
	s.admin = kadm.NewClient(client)
	return s, nil
}

func newStore(client producer, cfg Config, opts ...Option) *Store {
	s := &Store{
		client: client,
		cfg:    cfg,
		breaker: circuit.New("kafka-audit",
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (s *Store) EnsureTopic(ctx context.Context) error {
	if s.admin == nil {
		return nil
	}
	partitions := s.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := s.cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	resp, err := s.admin.CreateTopics(ctx, partitions, replication, nil, s.cfg.Topic)
	if err != nil {
		return fmt.Errorf("create audit topic %s: %w", s.cfg.Topic, err)
	}
	for topic, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", topic, r.Err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.cfg.Topic,
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "action", Value: []byte(event.Action)},
		},
	}

	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened && s.logger != nil {
			s.logger.WarnContext(ctx, "kafka audit sink circuit opened",
				"topic", s.cfg.Topic,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed && s.logger != nil {
		s.logger.InfoContext(ctx, "kafka audit sink circuit closed",
			"topic", s.cfg.Topic,
		)
	}
	return nil
}

// Health pings the cluster.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close flushes nothing (produce is synchronous) and releases connections.
func (s *Store) Close() {
	s.client.Close()
}
