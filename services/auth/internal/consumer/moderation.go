package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/aksharshruti/platform/libs/kafka"
	"github.com/aksharshruti/platform/libs/logging"
	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/google/uuid"
)

const (
	ModerationTopic = "moderation.actions"

	UserSuspended  = "moderation.user_suspended"
	UserDeleted    = "moderation.user_deleted"
	UserReinstated = "moderation.user_reinstated"
)

type ModerationAction struct {
	kafka.Envelope
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

type StatusSetter interface {
	SetStatus(ctx context.Context, userID uuid.UUID, status, reason string) error
}

// ModerationConsumer applies account status decisions made by moderation.
type ModerationConsumer struct {
	sessions StatusSetter
	logger   *slog.Logger
}

func NewModerationConsumer(sessions StatusSetter, logger *slog.Logger) *ModerationConsumer {
	logger = logging.OrDefault(logger)
	return &ModerationConsumer{sessions: sessions, logger: logger}
}

func (c *ModerationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := kafka.PeekEventType(msg.Value)
	if err != nil {
		return err
	}

	var status string
	switch env.EventType {
	case UserSuspended:
		status = storage.StatusSuspended
	case UserDeleted:
		status = storage.StatusDeleted
	case UserReinstated:
		status = storage.StatusActive
	default:
		c.logger.Debug("ignoring moderation event", slog.String("event_type", env.EventType))
		return nil
	}

	var action ModerationAction
	if err := json.Unmarshal(msg.Value, &action); err != nil {
		return kafka.DLQ(fmt.Errorf("decode moderation action: %w", err), kafka.ReasonDecode)
	}
	userID, err := uuid.Parse(action.UserID)
	if err != nil {
		return kafka.DLQ(fmt.Errorf("moderation action user_id: %w", err), "invalid_user_id")
	}

	if err := c.sessions.SetStatus(ctx, userID, status, action.Reason); err != nil {
		return fmt.Errorf("apply %s to %s: %w", env.EventType, userID, err)
	}
	c.logger.Info("moderation status applied",
		slog.String("user_id", userID.String()),
		slog.String("status", status),
		slog.String("event_id", env.EventID),
	)
	return nil
}
