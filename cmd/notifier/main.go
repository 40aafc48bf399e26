// Command notifier читает задания на письма-подтверждения из Kafka и
// доставляет их. Неудачные сообщения после повторов уходят в DLQ.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
)

type config struct {
	brokers    []string
	groupID    string
	topic      string
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
}

func parseConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)
	fs.StringVar(&brokersRaw, "brokers", getenv("STOREFRONT_KAFKA_BROKERS"), "Kafka brokers, comma-separated")
	fs.StringVar(&cfg.groupID, "group", "storefront-notifier", "consumer group id")
	fs.StringVar(&cfg.topic, "topic", kafka.TopicNotifications, "notification topic")
	fs.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic, empty disables DLQ")
	fs.IntVar(&cfg.maxRetries, "max-retries", 3, "retries before a message goes to the DLQ")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", 500*time.Millisecond, "base delay between retries")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, b := range strings.Split(brokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.brokers = append(cfg.brokers, b)
		}
	}
	if len(cfg.brokers) == 0 {
		return config{}, errors.New("kafka brokers are required (-brokers or STOREFRONT_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.topic) == "" || strings.TrimSpace(cfg.groupID) == "" {
		return config{}, errors.New("topic and group are required")
	}
	if cfg.maxRetries < 0 {
		return config{}, errors.New("max-retries must be >= 0")
	}
	return cfg, nil
}

// confirmationHandler доставляет письмо через sender. Битые сообщения
// помечаются как ErrMalformedMessage и не повторяются.
func confirmationHandler(sender domain.Notifier) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseOrderConfirmation(message)
		if err != nil {
			return fmt.Errorf("%w: %v", kafka.ErrMalformedMessage, err)
		}
		return sender.SendOrderConfirmation(ctx, event.Confirmation())
	}
}

func run(ctx context.Context, cfg config) error {
	opts := []kafka.ConsumerOption{
		kafka.WithMaxRetries(cfg.maxRetries),
		kafka.WithRetryDelay(cfg.retryDelay),
	}

	if cfg.dlqTopic != "" {
		dlq, err := kafka.NewProducer(cfg.brokers, "storefront-notifier")
		if err != nil {
			return err
		}
		defer func() { _ = dlq.Close() }()
		opts = append(opts, kafka.WithDeadLetterQueue(dlq, cfg.dlqTopic))
	}

	sender := notification.NewLogSender(log.WithField("component", "notifier"))
	consumer, err := kafka.NewConsumer(cfg.brokers, cfg.groupID, []string{cfg.topic}, confirmationHandler(sender), opts...)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	return consumer.Run(ctx)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"brokers": cfg.brokers,
		"topic":   cfg.topic,
		"group":   cfg.groupID,
	}).Info("starting notifier")

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("notifier stopped with error")
	}
	log.Info("notifier stopped")
}
