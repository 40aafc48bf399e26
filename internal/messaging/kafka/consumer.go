package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ErrMalformedMessage помечает сообщения, которые бессмысленно обрабатывать
// повторно. Такие сообщения сразу уходят в DLQ.
var ErrMalformedMessage = errors.New("malformed message")

const (
	defaultConsumerMaxRetries = 3
	defaultConsumerRetryDelay = 500 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт повторы и DLQ.
type ConsumerOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	DLQ        *Producer
	DLQTopic   string
	Logger     *log.Entry
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithMaxRetries задаёт число повторов после первой неудачи.
func WithMaxRetries(n int) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.MaxRetries = n
	}
}

// WithRetryDelay задаёт базовую паузу между повторами (растёт линейно).
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.RetryDelay = d
	}
}

// WithDeadLetterQueue включает отправку необработанных сообщений в DLQ.
func WithDeadLetterQueue(producer *Producer, topic string) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.DLQ = producer
		o.DLQTopic = topic
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.Logger = logger
	}
}

// Consumer читает топики в consumer group, повторяет обработку и
// перекладывает непереваренные сообщения в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	opts    ConsumerOptions
	logger  *log.Entry
	now     func() time.Time
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)

// NewConsumer подключается к брокерам как участник группы groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	options := ConsumerOptions{
		MaxRetries: defaultConsumerMaxRetries,
		RetryDelay: defaultConsumerRetryDelay,
		DLQTopic:   TopicDeadLetterQueue,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}
	if options.DLQTopic == "" {
		options.DLQTopic = TopicDeadLetterQueue
	}
	logger := options.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}

	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		opts:    options,
		logger:  logger,
		now:     time.Now,
	}
}

// Run блокируется до отмены ctx. Consume вызывается в цикле, потому что
// завершается при каждом rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("consume failed")
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka consumer stopped")
			return nil
		}
	}
}

// Close покидает группу.
func (c *Consumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

// Setup вызывается в начале сессии.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается в конце сессии.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции. Offset фиксируется только
// после успешной обработки или отправки в DLQ; иначе сессия завершается и
// сообщение будет прочитано снова.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.handle(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message left unprocessed")
				return err
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var err error
	attempts := 0
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.opts.RetryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		attempts++
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedMessage) {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": attempts,
		}).Warn("message handler failed")
	}

	if c.opts.DLQ == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err, retryCount(message)+attempts); dlqErr != nil {
		return fmt.Errorf("send to dlq: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempts,
	}).Warn("message moved to dlq")
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error, retries int) error {
	failedAt := c.now().UTC()
	dead := ConsumerDeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Error:             cause.Error(),
		RetryCount:        retries,
		FailedAt:          failedAt,
	}
	return c.opts.DLQ.PublishJSON(ctx, c.opts.DLQTopic, string(message.Key), dead, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}

// retryCount читает число предыдущих попыток из заголовка (сообщения,
// возвращённые из DLQ, приходят с ним).
func retryCount(message *sarama.ConsumerMessage) int {
	raw, ok := headerValue(message.Headers, HeaderRetryCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
