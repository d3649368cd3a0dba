package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Message is one consumed Kafka record.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Handler processes a message. A returned error stops the partition until
// the next restart so the record is redelivered.
type Handler func(ctx context.Context, msg Message) error

// committer is the part of kgo.Client used by the poll loop.
type committer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Ping(ctx context.Context) error
	Close()
}

// Consumer reads delivery events from Kafka with manual commits.
type Consumer struct {
	client   committer
	logger   *zap.Logger
	groupID  string
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewConsumer creates a consumer group member for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.Group == "" {
		return nil, errors.New("kafka brokers, group and topic are required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return newConsumer(client, cfg.Group, logger), nil
}

func newConsumer(client committer, groupID string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		client:   client,
		logger:   logger,
		groupID:  groupID,
		handlers: make(map[string]Handler),
	}
}

// AddHandler registers a handler for a topic and subscribes to it.
func (c *Consumer) AddHandler(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = handler
	if kc, ok := c.client.(*kgo.Client); ok {
		kc.AddConsumeTopics(topic)
	}
}

// Close closes the underlying client
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started", zap.String("group", c.groupID))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for _, fe := range errs {
				c.logger.Error("Kafka fetch error",
					zap.String("topic", fe.Topic),
					zap.Int32("partition", fe.Partition),
					zap.Error(fe.Err))
			}
			continue
		}

		records := fetches.Records()
		commit := c.processRecords(ctx, records)
		if len(commit) > 0 {
			if err := c.client.CommitRecords(ctx, commit...); err != nil {
				c.logger.Error("Failed to commit records", zap.Error(err))
			}
		}
	}
}

// processRecords runs the handlers and returns, per partition, the last
// record that may be committed.
func (c *Consumer) processRecords(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	type topicPartition struct {
		topic     string
		partition int32
	}
	blocked := make(map[topicPartition]bool)
	lastSuccess := make(map[topicPartition]*kgo.Record)
	order := make([]topicPartition, 0)

	for _, record := range records {
		tp := topicPartition{topic: record.Topic, partition: record.Partition}
		if blocked[tp] {
			// committing past a failed record would skip it on restart
			continue
		}

		c.mu.RLock()
		handler, exists := c.handlers[record.Topic]
		c.mu.RUnlock()

		if exists {
			hdrs := make(map[string]string, len(record.Headers))
			for _, h := range record.Headers {
				hdrs[h.Key] = string(h.Value)
			}
			msg := Message{
				Key:       record.Key,
				Value:     record.Value,
				Headers:   hdrs,
				Topic:     record.Topic,
				Partition: record.Partition,
				Offset:    record.Offset,
				Timestamp: record.Timestamp,
			}
			if err := handler(ctx, msg); err != nil {
				c.logger.Error("Failed to handle message, will retry on restart",
					zap.String("topic", record.Topic),
					zap.Int32("partition", record.Partition),
					zap.Int64("offset", record.Offset),
					zap.Error(err))
				blocked[tp] = true
				continue
			}
		} else {
			c.logger.Warn("No handler registered for topic", zap.String("topic", record.Topic))
		}

		if _, ok := lastSuccess[tp]; !ok {
			order = append(order, tp)
		}
		lastSuccess[tp] = record
	}

	commit := make([]*kgo.Record, 0, len(order))
	for _, tp := range order {
		commit = append(commit, lastSuccess[tp])
	}
	return commit
}

// HealthCheck pings the brokers.
func (c *Consumer) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}
