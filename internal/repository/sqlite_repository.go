package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/telemetry"
)

type sqliteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	query := "INSERT INTO chats (id, user_id, title, last_message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"
	_, err := r.db.ExecContext(ctx, query, chat.ID, chat.UserID, chat.Title, chat.LastMessage, chat.CreatedAt, chat.UpdatedAt)
	return err
}

func (r *sqliteRepository) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	query := "SELECT id, user_id, title, last_message, created_at, updated_at FROM chats WHERE id = ?"
	row := r.db.QueryRowContext(ctx, query, chatID)
	var chat model.Chat
	err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.LastMessage, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (r *sqliteRepository) GetChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	query := "SELECT id, user_id, title, last_message, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at DESC"
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []*model.Chat
	for rows.Next() {
		var chat model.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.LastMessage, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func (r *sqliteRepository) UpdateChatTitle(ctx context.Context, chatID, newTitle string) error {
	query := "UPDATE chats SET title = ?, updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, newTitle, time.Now().UTC(), chatID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepository) UpdateChatSummary(ctx context.Context, chatID, lastMessage, title string) error {
	if title != "" {
		query := "UPDATE chats SET last_message = ?, title = ?, updated_at = ? WHERE id = ?"
		_, err := r.db.ExecContext(ctx, query, lastMessage, title, time.Now().UTC(), chatID)
		return err
	}
	query := "UPDATE chats SET last_message = ?, updated_at = ? WHERE id = ?"
	_, err := r.db.ExecContext(ctx, query, lastMessage, time.Now().UTC(), chatID)
	return err
}

func (r *sqliteRepository) DeleteChat(ctx context.Context, chatID string) error {
	// Messages cascade via the FK.
	query := "DELETE FROM chats WHERE id = ?"
	_, err := r.db.ExecContext(ctx, query, chatID)
	return err
}

// AppendMessage inserts the turn and touches the parent chat inside one
// transaction, so a chat can never point at a message that was not recorded.
func (r *sqliteRepository) AppendMessage(ctx context.Context, chatID string, message *model.Message) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metadata, err := marshalNullable(message.Metrics)
	if err != nil {
		return 0, fmt.Errorf("could not marshal message metadata: %w", err)
	}
	attachments, err := marshalNullable(message.Attachments)
	if err != nil {
		return 0, fmt.Errorf("could not marshal attachments: %w", err)
	}

	insertQuery := `
		INSERT INTO messages (client_id, chat_id, role, content, attachments, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := tx.ExecContext(ctx, insertQuery,
		message.ID,
		chatID,
		message.Role,
		message.Content,
		attachments,
		metadata,
		message.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("could not insert message: %w", err)
	}
	serverID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("could not read inserted message id: %w", err)
	}

	touchQuery := "UPDATE chats SET updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, touchQuery, time.Now().UTC(), chatID); err != nil {
		return 0, fmt.Errorf("could not update chat timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return serverID, nil
}

func (r *sqliteRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	query := `
		SELECT id, client_id, role, content, attachments, metadata, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var serverID int64
		var attachments, metadata sql.NullString

		if err := rows.Scan(&serverID, &msg.ID, &msg.Role, &msg.Content, &attachments, &metadata, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.ServerID = &serverID
		if attachments.Valid {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("could not decode attachments for message %d: %w", serverID, err)
			}
		}
		if metadata.Valid {
			var block telemetry.Block
			if err := json.Unmarshal([]byte(metadata.String), &block); err == nil {
				msg.Metrics = &block
			}
			// Undecodable metadata degrades to "metrics unknown" rather than
			// failing the whole history load.
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *sqliteRepository) DeleteMessagesBatch(ctx context.Context, chatID string, serverIDs []int64) error {
	if len(serverIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(serverIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(serverIDs)+1)
	args = append(args, chatID)
	for _, id := range serverIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf("DELETE FROM messages WHERE chat_id = ? AND id IN (%s)", placeholders)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func marshalNullable(v any) (sql.NullString, error) {
	var out sql.NullString
	if v == nil {
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	s := string(data)
	if s == "null" || s == "[]" {
		return out, nil
	}
	out.String = s
	out.Valid = true
	return out, nil
}
