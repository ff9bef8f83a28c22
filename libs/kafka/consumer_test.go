package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "moderation.actions" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func runClaim(t *testing.T, h *consumerGroupHandler, msgs ...*sarama.ConsumerMessage) *stubSession {
	t.Helper()
	msgCh := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		msgCh <- m
	}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	return session
}

func TestConsumerGroupHandlerDLQsOnError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), ReasonDecode)
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "moderation.actions.dlq",
	}

	session := runClaim(t, handler, &sarama.ConsumerMessage{Topic: "moderation.actions", Offset: 1, Value: []byte("bad")})
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	payload, ok := dlq.calls[0].value.(DeadLetter)
	if !ok {
		t.Fatalf("expected DeadLetter, got %T", dlq.calls[0].value)
	}
	if payload.Reason != ReasonDecode || payload.OriginalTopic != "moderation.actions" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Offset == nil || *payload.Offset != 1 || payload.Error != "decode failed" {
		t.Fatalf("expected consumed position and cause, got %+v", payload)
	}
}

func TestConsumerGroupHandlerLeavesTransientErrorsUnmarked(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return errors.New("db down")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "moderation.actions.dlq",
	}

	session := runClaim(t, handler, &sarama.ConsumerMessage{Topic: "moderation.actions", Offset: 1})
	if session.marked != 0 {
		t.Fatalf("expected message unmarked, got %d", session.marked)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish")
	}
}

func TestPeekEventTypeRejectsGarbage(t *testing.T) {
	_, err := PeekEventType([]byte("{"))
	var dlqErr *DLQError
	if !errors.As(err, &dlqErr) {
		t.Fatalf("expected DLQError, got %v", err)
	}

	env, err := NewEnvelope("moderation.user_suspended", 1, "moderation", "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.EventID == "" || env.Timestamp.IsZero() {
		t.Fatalf("expected populated envelope")
	}
	if _, err := NewEnvelope("", 1, "x", ""); err == nil {
		t.Fatalf("expected error for empty event type")
	}
}
