// Package redpanda provides the Kafka-compatible transport for clinic events.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names. Prescription and consultation events are keyed by
// consultation id so one consultation's events stay ordered.
const (
	TopicPrescriptionEvents = "clinic.prescription.events"
	TopicConsultationEvents = "clinic.consultation.events"
	TopicDispatchResults    = "clinic.dispatch.results"
	TopicDeadLetter         = "clinic.dead.letter"
)

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topics the clinic services expect.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	events := func(name string, partitions int32, retention string) TopicConfig {
		return TopicConfig{
			Name:              name,
			Partitions:        partitions,
			ReplicationFactor: 1, // 3 in production
			Configs: map[string]*string{
				"retention.ms":     ptr(retention),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		}
	}

	// Domain events keep 7 days, dispatch audit and dead letters 30.
	return []TopicConfig{
		events(TopicPrescriptionEvents, 6, "604800000"),
		events(TopicConsultationEvents, 6, "604800000"),
		events(TopicDispatchResults, 3, "2592000000"),
		events(TopicDeadLetter, 1, "2592000000"),
	}
}

// Admin provides administrative operations for Redpanda
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Admin{
		client: kadm.NewClient(kgoClient),
		logger: logger,
	}, nil
}

// CreateTopics creates the given topics. Existing topics are left alone.
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}

		for _, r := range resp {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics ensures all required topics exist with proper configuration
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// ListTopics returns the sorted topic names on the cluster.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	names := topics.Names()
	sort.Strings(names)
	return names, nil
}

// ConsumerGroupLag returns the total lag of a consumer group per topic.
func (a *Admin) ConsumerGroupLag(ctx context.Context, groupID string) (map[string]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}

	result := make(map[string]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			for _, lag := range partitions {
				result[topic] += lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies Redpanda connectivity
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}
