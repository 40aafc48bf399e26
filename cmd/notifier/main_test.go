package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type recordingSender struct {
	sent []domain.OrderConfirmation
	err  error
}

func (s *recordingSender) SendOrderConfirmation(_ context.Context, msg domain.OrderConfirmation) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestConfirmationHandlerDelivers(t *testing.T) {
	sender := &recordingSender{}
	raw, err := json.Marshal(kafka.NewOrderConfirmationEvent(domain.OrderConfirmation{
		OrderID:     "order-1",
		Email:       "buyer@example.com",
		OrderNumber: "ORD-1",
		Total:       2299,
		Currency:    "INR",
	}, time.Now()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := confirmationHandler(sender)(context.Background(), &sarama.ConsumerMessage{Value: raw}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].OrderNumber != "ORD-1" || sender.sent[0].Total != 2299 {
		t.Fatalf("unexpected deliveries: %+v", sender.sent)
	}
}

func TestConfirmationHandlerMalformed(t *testing.T) {
	err := confirmationHandler(&recordingSender{})(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
	if !errors.Is(err, kafka.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestConfirmationHandlerPropagatesSenderError(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	raw, _ := json.Marshal(kafka.NewOrderConfirmationEvent(domain.OrderConfirmation{OrderID: "o", Email: "e@x.io"}, time.Now()))

	err := confirmationHandler(sender)(context.Background(), &sarama.ConsumerMessage{Value: raw})
	if err == nil || errors.Is(err, kafka.ErrMalformedMessage) {
		t.Fatalf("expected retryable sender error, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	env := func(key string) string {
		if key == "STOREFRONT_KAFKA_BROKERS" {
			return "k1:9092, k2:9092"
		}
		return ""
	}
	cfg, err := parseConfig(flag.NewFlagSet("t", flag.ContinueOnError), []string{"-max-retries", "1"}, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.maxRetries != 1 || cfg.topic != kafka.TopicNotifications {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	none := func(string) string { return "" }
	if _, err := parseConfig(flag.NewFlagSet("t", flag.ContinueOnError), nil, none); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := parseConfig(flag.NewFlagSet("t", flag.ContinueOnError), []string{"-brokers", "k:1", "-max-retries", "-1"}, none); err == nil {
		t.Fatal("expected error for negative retries")
	}
}
