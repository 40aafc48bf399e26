package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

type fakeGroup struct {
	sarama.ConsumerGroup
	consume func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errs    chan error
	closed  bool
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	return g.consume(ctx, topics, handler)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	if !g.closed {
		g.closed = true
		close(g.errs)
	}
	return nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	t.Parallel()

	var seen []string
	c := newConsumer(nil, []string{TopicNotifications}, func(_ context.Context, m *sarama.ConsumerMessage) error {
		seen = append(seen, string(m.Value))
		return nil
	}, WithConsumerLogger(quietLogger()))

	session := &fakeSession{ctx: context.Background()}
	claim := claimOf(
		&sarama.ConsumerMessage{Topic: TopicNotifications, Offset: 10, Value: []byte("a")},
		&sarama.ConsumerMessage{Topic: TopicNotifications, Offset: 11, Value: []byte("b")},
	)

	if err := c.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume claim: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected handled messages: %v", seen)
	}
	if len(session.marked) != 2 || session.marked[1] != 11 {
		t.Fatalf("unexpected marked offsets: %v", session.marked)
	}
}

func TestConsumeClaimRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		if calls < 3 {
			return errors.New("smtp unavailable")
		}
		return nil
	}, WithMaxRetries(3), WithRetryDelay(time.Millisecond), WithConsumerLogger(quietLogger()))

	session := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, claimOf(&sarama.ConsumerMessage{Offset: 1})); err != nil {
		t.Fatalf("consume claim: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls)
	}
	if len(session.marked) != 1 {
		t.Fatalf("message must be marked after success")
	}
}

func TestConsumeClaimWithoutDLQLeavesMessageUnmarked(t *testing.T) {
	t.Parallel()

	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("boom")
	}, WithMaxRetries(1), WithRetryDelay(time.Millisecond), WithConsumerLogger(quietLogger()))

	session := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, claimOf(&sarama.ConsumerMessage{Offset: 5})); err == nil {
		t.Fatal("expected error when handler keeps failing without dlq")
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message must not be marked, got %v", session.marked)
	}
}

func TestConsumerMovesExhaustedMessageToDLQ(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var dead ConsumerDeadLetter
		if err := json.Unmarshal(value, &dead); err != nil {
			return err
		}
		if dead.OriginalTopic != TopicNotifications || dead.OriginalValue != `{"x":1}` {
			return errors.New("unexpected dead letter origin")
		}
		if dead.RetryCount != 4 {
			return errors.New("retry count must include previous attempts")
		}
		return nil
	})
	dlq := NewProducerFromSync(mockProducer, quietLogger())

	calls := 0
	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		return errors.New("still failing")
	}, WithMaxRetries(1), WithRetryDelay(time.Millisecond), WithDeadLetterQueue(dlq, TopicDeadLetterQueue), WithConsumerLogger(quietLogger()))

	session := &fakeSession{ctx: context.Background()}
	msg := &sarama.ConsumerMessage{
		Topic:   TopicNotifications,
		Offset:  7,
		Key:     []byte("order-1"),
		Value:   []byte(`{"x":1}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}},
	}
	if err := c.ConsumeClaim(session, claimOf(msg)); err != nil {
		t.Fatalf("consume claim: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(session.marked) != 1 {
		t.Fatal("message moved to dlq must be marked")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMalformedMessageSkipsRetries(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()
	dlq := NewProducerFromSync(mockProducer, quietLogger())

	calls := 0
	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		return ErrMalformedMessage
	}, WithMaxRetries(5), WithDeadLetterQueue(dlq, ""), WithConsumerLogger(quietLogger()))

	if err := c.handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if calls != 1 {
		t.Fatalf("malformed message must not be retried, got %d calls", calls)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil }, WithConsumerLogger(quietLogger()))
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	if err := c.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Fatalf("expected nil on cancelled session, got %v", err)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	group := &fakeGroup{errs: make(chan error)}
	rounds := 0
	group.consume = func(ctx context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
		rounds++
		if len(topics) != 1 || topics[0] != TopicNotifications {
			t.Errorf("unexpected topics: %v", topics)
		}
		if rounds == 2 {
			cancel()
		}
		return nil
	}

	c := newConsumer(group, []string{TopicNotifications}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, WithConsumerLogger(quietLogger()))
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rounds != 2 {
		t.Fatalf("expected consume to be re-entered until cancel, got %d rounds", rounds)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRetryCountHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers []*sarama.RecordHeader
		want    int
	}{
		{name: "missing", want: 0},
		{name: "valid", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}}, want: 3},
		{name: "garbage", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("x")}}, want: 0},
		{name: "negative", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("-1")}}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryCount(&sarama.ConsumerMessage{Headers: tt.headers})
			if got != tt.want {
				t.Fatalf("retryCount = %d, want %d", got, tt.want)
			}
		})
	}
}
