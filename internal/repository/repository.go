package repository

import (
	"context"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

// Repository is the persistence collaborator the controller talks to. The
// controller's optimistic view stays authoritative until the next history
// reload; this interface only has to make turns durable and hand back
// server-assigned ids.
type Repository interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	GetChats(ctx context.Context, userID string) ([]*model.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, newTitle string) error
	// UpdateChatSummary refreshes the sidebar projection of a chat: the last
	// message preview and, when title is non-empty, the title.
	UpdateChatSummary(ctx context.Context, chatID, lastMessage, title string) error
	DeleteChat(ctx context.Context, chatID string) error

	// AppendMessage persists one turn and returns the server-assigned id.
	AppendMessage(ctx context.Context, chatID string, message *model.Message) (int64, error)
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
	DeleteMessagesBatch(ctx context.Context, chatID string, serverIDs []int64) error
}
