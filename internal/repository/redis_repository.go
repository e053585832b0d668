package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

// redisRepository is the Redis-backed implementation, selected with
// REPOSITORY_BACKEND=redis. Server-assigned message ids come from a global
// INCR counter, mirroring what AUTOINCREMENT provides in the SQLite
// implementation.
type redisRepository struct {
	rdb *redis.Client
}

func NewRedisRepository(rdb *redis.Client) Repository {
	return &redisRepository{rdb: rdb}
}

func (r *redisRepository) chatKey(chatID string) string     { return fmt.Sprintf("chat:%s", chatID) }
func (r *redisRepository) messagesKey(chatID string) string { return fmt.Sprintf("chat:%s:messages", chatID) }
func (r *redisRepository) messageKey(serverID int64) string { return fmt.Sprintf("message:%d", serverID) }
func (r *redisRepository) userChatsKey(userID string) string {
	return fmt.Sprintf("user:%s:chats", userID)
}

const messageIDCounterKey = "message:next_id"

func (r *redisRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("could not marshal chat: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.chatKey(chat.ID), data, 0)
	pipe.ZAdd(ctx, r.userChatsKey(chat.UserID), redis.Z{
		Score:  float64(-chat.UpdatedAt.UnixNano()),
		Member: chat.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	val, err := r.rdb.Get(ctx, r.chatKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var chat model.Chat
	if err := json.Unmarshal([]byte(val), &chat); err != nil {
		return nil, fmt.Errorf("could not unmarshal chat %s: %w", chatID, err)
	}
	return &chat, nil
}

func (r *redisRepository) GetChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	chatIDs, err := r.rdb.ZRange(ctx, r.userChatsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	chats := make([]*model.Chat, 0, len(chatIDs))
	for _, id := range chatIDs {
		chat, err := r.GetChat(ctx, id)
		if err != nil {
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (r *redisRepository) UpdateChatTitle(ctx context.Context, chatID, newTitle string) error {
	return r.updateChat(ctx, chatID, func(chat *model.Chat) {
		chat.Title = newTitle
	})
}

func (r *redisRepository) UpdateChatSummary(ctx context.Context, chatID, lastMessage, title string) error {
	return r.updateChat(ctx, chatID, func(chat *model.Chat) {
		chat.LastMessage = lastMessage
		if title != "" {
			chat.Title = title
		}
	})
}

func (r *redisRepository) updateChat(ctx context.Context, chatID string, mutate func(*model.Chat)) error {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	mutate(chat)
	chat.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("could not marshal chat: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.chatKey(chatID), data, 0)
	pipe.ZAdd(ctx, r.userChatsKey(chat.UserID), redis.Z{
		Score:  float64(-chat.UpdatedAt.UnixNano()),
		Member: chatID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) DeleteChat(ctx context.Context, chatID string) error {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	ids, err := r.rdb.ZRange(ctx, r.messagesKey(chatID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("could not list message ids for deletion: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	for _, raw := range ids {
		if serverID, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			pipe.Del(ctx, r.messageKey(serverID))
		}
	}
	pipe.Del(ctx, r.chatKey(chatID))
	pipe.Del(ctx, r.messagesKey(chatID))
	pipe.ZRem(ctx, r.userChatsKey(chat.UserID), chatID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) AppendMessage(ctx context.Context, chatID string, message *model.Message) (int64, error) {
	serverID, err := r.rdb.Incr(ctx, messageIDCounterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("could not allocate message id: %w", err)
	}

	stored := *message
	stored.ServerID = &serverID
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("could not marshal message: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.messageKey(serverID), data, 0)
	pipe.ZAdd(ctx, r.messagesKey(chatID), redis.Z{Score: float64(serverID), Member: serverID})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return serverID, nil
}

func (r *redisRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	ids, err := r.rdb.ZRange(ctx, r.messagesKey(chatID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Message{}, nil
		}
		return nil, err
	}

	messages := make([]model.Message, 0, len(ids))
	for _, raw := range ids {
		serverID, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			continue
		}
		val, err := r.rdb.Get(ctx, r.messageKey(serverID)).Result()
		if err != nil {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(val), &msg); err == nil {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (r *redisRepository) DeleteMessagesBatch(ctx context.Context, chatID string, serverIDs []int64) error {
	if len(serverIDs) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	members := make([]any, 0, len(serverIDs))
	for _, serverID := range serverIDs {
		pipe.Del(ctx, r.messageKey(serverID))
		members = append(members, serverID)
	}
	pipe.ZRem(ctx, r.messagesKey(chatID), members...)
	_, err := pipe.Exec(ctx)
	return err
}
