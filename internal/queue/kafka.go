package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaQueue publishes jobs to a topic and consumes them as a member of a
// consumer group. Each Consume call joins the group as a separate member.
type KafkaQueue struct {
	producer sarama.SyncProducer
	brokers  []string
	topic    string
	group    string
	config   *sarama.Config
	logger   *slog.Logger
}

// NewKafkaConfig returns the client configuration used for both roles
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// NewKafkaQueue connects a synchronous producer to the brokers
func NewKafkaQueue(brokers []string, topic, group string, logger *slog.Logger) (*KafkaQueue, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	return NewKafkaQueueFromProducer(producer, brokers, topic, group, logger), nil
}

// NewKafkaQueueFromProducer wraps an existing producer
func NewKafkaQueueFromProducer(producer sarama.SyncProducer, brokers []string, topic, group string, logger *slog.Logger) *KafkaQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaQueue{
		producer: producer,
		brokers:  brokers,
		topic:    topic,
		group:    group,
		config:   NewKafkaConfig(),
		logger:   logger,
	}
}

// Enqueue publishes the job keyed by its id. The producer call itself is
// not cancellable; Enqueue stops waiting when ctx is done.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}

	sent := make(chan error, 1)
	go func() {
		_, _, err := q.producer.SendMessage(&sarama.ProducerMessage{
			Topic: q.topic,
			Key:   sarama.StringEncoder(job.ID),
			Value: sarama.ByteEncoder(payload),
		})
		sent <- err
	}()

	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("queue: kafka enqueue: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: kafka enqueue: %w", ctx.Err())
	}
}

// Consume joins the consumer group and delivers jobs until ctx is done.
// Every message is marked once handled; the job status record carries
// failures.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	group, err := sarama.NewConsumerGroup(q.brokers, q.group, q.config)
	if err != nil {
		return fmt.Errorf("queue: join consumer group %s: %w", q.group, err)
	}
	defer group.Close()

	logger := q.logger.With("component", "queue", "backend", "kafka", "topic", q.topic, "group", q.group)
	go func() {
		for err := range group.Errors() {
			logger.Warn("consumer error", "error", err)
		}
	}()

	handler := &groupHandler{handle: h, logger: logger}
	for {
		if err := group.Consume(ctx, []string{q.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			logger.Warn("consume session ended", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close closes the producer
func (q *KafkaQueue) Close() error {
	return q.producer.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	handle Handler
	logger *slog.Logger
}

func (g *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (g *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			g.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (g *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		g.logger.Warn("dropping undecodable job", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}
	if err := g.handle(ctx, job); err != nil {
		g.logger.Error("job handler failed", "job_id", job.ID, "error", err)
	}
}
