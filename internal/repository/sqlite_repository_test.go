package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/repository"
)

func setupRepo(t *testing.T) (repository.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteRepository(db), mockDB
}

func TestSQLite_GetChat_NotFound(t *testing.T) {
	repo, mockDB := setupRepo(t)

	mockDB.ExpectQuery("SELECT id, user_id, title, last_message, created_at, updated_at FROM chats").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "last_message", "created_at", "updated_at"}))

	_, err := repo.GetChat(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_CreateChat(t *testing.T) {
	repo, mockDB := setupRepo(t)
	now := time.Now().UTC()

	mockDB.ExpectExec("INSERT INTO chats").
		WithArgs("chat-1", "default-user", "First prompt", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateChat(context.Background(), &model.Chat{
		ID:        "chat-1",
		UserID:    "default-user",
		Title:     "First prompt",
		CreatedAt: now,
		UpdatedAt: now,
	})
	assert.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_AppendMessage_TransactionalWithServerID(t *testing.T) {
	// GOAL: the message insert and the chat touch commit together, and the
	// caller gets the AUTOINCREMENT id back for the server-id patch.
	repo, mockDB := setupRepo(t)
	ts := time.Now().UTC()

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO messages").
		WithArgs("client-7", "chat-1", model.RoleAssistant, "final text", sqlmock.AnyArg(), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mockDB.ExpectExec("UPDATE chats SET updated_at").
		WithArgs(sqlmock.AnyArg(), "chat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	serverID, err := repo.AppendMessage(context.Background(), "chat-1", &model.Message{
		ID:        "client-7",
		Role:      model.RoleAssistant,
		Content:   "final text",
		Timestamp: ts,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), serverID)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_AppendMessage_RollsBackOnInsertFailure(t *testing.T) {
	repo, mockDB := setupRepo(t)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO messages").
		WillReturnError(assert.AnError)
	mockDB.ExpectRollback()

	_, err := repo.AppendMessage(context.Background(), "chat-1", &model.Message{
		ID: "client-7", Role: model.RoleUser, Content: "hi", Timestamp: time.Now(),
	})
	assert.Error(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_ListMessages_DecodesMetadata(t *testing.T) {
	repo, mockDB := setupRepo(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "client_id", "role", "content", "attachments", "metadata", "timestamp"}).
		AddRow(int64(1), "client-1", "user", "hi", nil, nil, ts).
		AddRow(int64(2), "client-2", "assistant", "hello", nil,
			`{"stats":{"stopReason":"stop","tokensPerSecond":9.5}}`, ts)

	mockDB.ExpectQuery("SELECT id, client_id, role, content, attachments, metadata, timestamp").
		WithArgs("chat-1").
		WillReturnRows(rows)

	messages, err := repo.ListMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	require.NotNil(t, messages[0].ServerID)
	assert.Equal(t, int64(1), *messages[0].ServerID)
	assert.Nil(t, messages[0].Metrics)

	require.NotNil(t, messages[1].Metrics)
	require.NotNil(t, messages[1].Metrics.Stats)
	assert.Equal(t, "stop", *messages[1].Metrics.Stats.StopReason)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_ListMessages_MalformedMetadataDegradesToNil(t *testing.T) {
	// Undecodable stored metadata means "metrics unknown" for that message,
	// not a failed history load.
	repo, mockDB := setupRepo(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "client_id", "role", "content", "attachments", "metadata", "timestamp"}).
		AddRow(int64(1), "client-1", "assistant", "hello", nil, "{corrupt", ts)

	mockDB.ExpectQuery("SELECT id, client_id, role, content, attachments, metadata, timestamp").
		WithArgs("chat-1").
		WillReturnRows(rows)

	messages, err := repo.ListMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].Metrics)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLite_DeleteMessagesBatch(t *testing.T) {
	repo, mockDB := setupRepo(t)

	mockDB.ExpectExec(`DELETE FROM messages WHERE chat_id = \? AND id IN`).
		WithArgs("chat-1", int64(3), int64(4), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.DeleteMessagesBatch(context.Background(), "chat-1", []int64{3, 4, 9})
	assert.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())

	// Empty batch short-circuits without touching the database.
	assert.NoError(t, repo.DeleteMessagesBatch(context.Background(), "chat-1", nil))
}

func TestSQLite_UpdateChatTitle_NotFound(t *testing.T) {
	repo, mockDB := setupRepo(t)

	mockDB.ExpectExec("UPDATE chats SET title").
		WithArgs("New", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateChatTitle(context.Background(), "missing", "New")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
