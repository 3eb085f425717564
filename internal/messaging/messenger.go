// Package messaging provides the in-app system-message collaborator the
// dispatcher fans out through.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
)

// Messenger creates one in-app message for one recipient.
type Messenger interface {
	SendSystemMessage(ctx context.Context, userID int64, title, content string, priority model.Priority) (*model.Message, error)
}

type systemMessenger struct {
	store  storage.MessageStorage
	logger *slog.Logger
}

func NewSystemMessenger(store storage.MessageStorage, logger *slog.Logger) Messenger {
	return &systemMessenger{
		store:  store,
		logger: logger.With("layer", "messaging", "component", "systemMessenger"),
	}
}

func (m *systemMessenger) SendSystemMessage(ctx context.Context, userID int64, title, content string, priority model.Priority) (*model.Message, error) {
	msg := &model.Message{
		ReceiverID: userID,
		Kind:       model.MessageKindSystem,
		Title:      title,
		Content:    content,
		Priority:   priority,
	}
	if err := m.store.Insert(ctx, msg); err != nil {
		m.logger.Error("Failed to create system message",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return nil, fmt.Errorf("send system message to user %d: %w", userID, err)
	}
	return msg, nil
}
