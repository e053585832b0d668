package interfaces

import (
	"context"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/service"
)

// This file defines the interfaces for our core services.
// Depending on these interfaces, instead of concrete implementations, allows
// for decoupling (e.g., API layer from Service layer) and easier testing via
// mocking.

// ChatService defines the contract for the session controller.
type ChatService interface {
	Send(ctx context.Context, req *service.SendRequest) (string, <-chan model.StreamResponse, error)
	Regenerate(ctx context.Context, chatID, assistantMessageID string) (<-chan model.StreamResponse, error)
	ListChats(ctx context.Context, userID string) ([]*model.Chat, error)
	GetFullChat(ctx context.Context, chatID string) (*model.FullChat, error)
	UpdateChatTitle(ctx context.Context, chatID, newTitle string) error
	DeleteChat(ctx context.Context, chatID string) error
	State(chatID string) model.SessionState
	CancelBySession(sessionID string)
	Stop()
}
