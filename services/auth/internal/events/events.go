package events

import (
	"context"
	"log/slog"

	"github.com/aksharshruti/platform/libs/kafka"
	"github.com/aksharshruti/platform/libs/logging"
)

const (
	Topic  = "auth.events"
	Source = "auth-service"

	UserRegistered       = "auth.user_registered"
	PasswordChanged      = "auth.password_changed"
	RefreshReuseDetected = "auth.refresh_reuse_detected"
	SessionsRevoked      = "auth.sessions_revoked"

	eventVersion = 1
)

// SecurityEvent is the payload for every event on Topic.
type SecurityEvent struct {
	kafka.Envelope
	UserID    string `json:"user_id"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Revoked   int64  `json:"revoked,omitempty"`
}

type Event struct {
	Type      string
	UserID    string
	IP        string
	UserAgent string
	Reason    string
	Revoked   int64
}

// Publisher emits security events. Implementations never fail the caller;
// delivery problems are logged.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}

type correlationKey struct{}

// WithCorrelationID attaches the request id events raised under ctx carry.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

type KafkaPublisher struct {
	producer kafka.Publisher
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(producer kafka.Publisher, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = Topic
	}
	logger = logging.OrDefault(logger)
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	env, err := kafka.NewEnvelope(event.Type, eventVersion, Source, correlationID(ctx))
	if err != nil {
		p.logger.Error("build event envelope", slog.String("event_type", event.Type), slog.String("error", err.Error()))
		return
	}

	payload := SecurityEvent{
		Envelope:  env,
		UserID:    event.UserID,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Reason:    event.Reason,
		Revoked:   event.Revoked,
	}
	// Keyed by user so one user's events stay ordered within a partition.
	if err := p.producer.PublishJSON(ctx, p.topic, event.UserID, payload); err != nil {
		p.logger.Warn("publish security event failed",
			slog.String("event_type", event.Type),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	}
}
