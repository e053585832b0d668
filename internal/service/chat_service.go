// Package service implements the session controller: it owns the optimistic
// view, the single-flight job queue and the cancellation protocol, and it is
// the only layer that talks to both the repository and the generation backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/config"
	apperrors "github.com/JoshBonura/ai-agent-playground-sub001/internal/errors"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/llm"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/repository"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/scheduler"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/store"
)

// activeStream is the handle to the job currently holding the generation
// backend. cancel severs the stream's request context; hardAborted records
// that the grace period expired and the abort was forced rather than flushed.
type activeStream struct {
	sessionID   string
	cancel      context.CancelFunc
	hardAborted bool
}

type ChatService struct {
	repo repository.Repository
	llm  llm.StreamProvider
	view *store.Store
	cfg  *config.Config

	sched *scheduler.Scheduler

	mu       sync.Mutex
	cancels  map[string]time.Time
	active   *activeStream
	visible  string
	untitled map[string]bool
}

// SendRequest is a new user turn. An empty ChatID means "start a new chat".
type SendRequest struct {
	ChatID      string             `json:"chat_id"`
	Content     string             `json:"content" validate:"required"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

func NewChatService(repo repository.Repository, provider llm.StreamProvider, view *store.Store, cfg *config.Config) *ChatService {
	s := &ChatService{
		repo:     repo,
		llm:      provider,
		view:     view,
		cfg:      cfg,
		cancels:  map[string]time.Time{},
		untitled: map[string]bool{},
	}
	s.sched = scheduler.New(s.runJob)
	return s
}

// Send records the user turn optimistically, creates the chat if needed, and
// enqueues a generation job. It returns immediately with the chat id and the
// event channel the job will report on; the channel is closed when the job
// reaches a terminal state.
func (s *ChatService) Send(ctx context.Context, req *SendRequest) (string, <-chan model.StreamResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", nil, fmt.Errorf("%w: message content is empty", apperrors.ErrValidation)
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
		chat := &model.Chat{
			ID:        chatID,
			UserID:    "default-user",
			Title:     truncate(content, 50),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.repo.CreateChat(ctx, chat); err != nil {
			slog.Error("Failed to create chat", "error", err)
			return "", nil, fmt.Errorf("%w: could not create chat", apperrors.ErrInternal)
		}
		s.mu.Lock()
		s.untitled[chatID] = true
		s.mu.Unlock()
	} else {
		if _, err := s.repo.GetChat(ctx, chatID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return "", nil, fmt.Errorf("%w: chat %s", apperrors.ErrNotFound, chatID)
			}
			slog.Error("Failed to load chat", "chat_id", chatID, "error", err)
			return "", nil, fmt.Errorf("%w: could not load chat", apperrors.ErrInternal)
		}
	}

	userMsg := model.Message{
		ID:          uuid.NewString(),
		Role:        model.RoleUser,
		Content:     content,
		Attachments: req.Attachments,
		Timestamp:   time.Now(),
	}
	s.view.AppendUser(chatID, userMsg)

	// Persistence of the user turn is best-effort: the optimistic view stays
	// authoritative, and a failed write only costs durability until the next
	// successful turn.
	if serverID, err := s.repo.AppendMessage(ctx, chatID, &userMsg); err != nil {
		slog.Error("Failed to persist user message", "chat_id", chatID, "error", err)
	} else {
		s.view.PatchServerID(chatID, userMsg.ID, serverID)
	}
	if err := s.repo.UpdateChatSummary(ctx, chatID, truncate(content, 120), ""); err != nil {
		slog.Warn("Failed to refresh chat summary", "chat_id", chatID, "error", err)
	}

	assistantID := uuid.NewString()
	s.view.EnsurePlaceholder(chatID, assistantID)
	s.view.SetQueued(chatID, true)

	s.mu.Lock()
	s.visible = chatID
	s.mu.Unlock()

	events := make(chan model.StreamResponse, 16)
	s.sched.Enqueue(scheduler.Job{
		SessionID:   chatID,
		Prompt:      content,
		AssistantID: assistantID,
		Attachments: req.Attachments,
		Events:      events,
	})
	return chatID, events, nil
}

// Regenerate discards an assistant turn and everything after it, then re-runs
// generation from the preceding user turn. The stale rows are removed durably
// in one batch before the new job is enqueued.
func (s *ChatService) Regenerate(ctx context.Context, chatID, assistantMessageID string) (<-chan model.StreamResponse, error) {
	msgs := s.view.Messages(chatID)
	idx := -1
	for i, m := range msgs {
		if m.ID == assistantMessageID && m.Role == model.RoleAssistant {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, assistantMessageID)
	}

	prompt := ""
	for i := idx - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			prompt = msgs[i].Content
			break
		}
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: no user turn precedes message %s", apperrors.ErrValidation, assistantMessageID)
	}

	var staleIDs []int64
	for _, m := range msgs[idx:] {
		if m.ServerID != nil {
			staleIDs = append(staleIDs, *m.ServerID)
		}
	}
	if len(staleIDs) > 0 {
		if err := s.repo.DeleteMessagesBatch(ctx, chatID, staleIDs); err != nil {
			slog.Error("Failed to delete stale messages before regeneration", "chat_id", chatID, "error", err)
		}
	}
	s.view.ReplaceMessages(chatID, msgs[:idx])

	assistantID := uuid.NewString()
	s.view.EnsurePlaceholder(chatID, assistantID)
	s.view.SetQueued(chatID, true)

	s.mu.Lock()
	s.visible = chatID
	s.mu.Unlock()

	events := make(chan model.StreamResponse, 16)
	s.sched.Enqueue(scheduler.Job{
		SessionID:   chatID,
		Prompt:      prompt,
		AssistantID: assistantID,
		Events:      events,
	})
	return events, nil
}

// ListChats retrieves all chats for a user, most recently updated first.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	return s.repo.GetChats(ctx, userID)
}

// GetFullChat loads a chat and its durable history, reconciles the optimistic
// view against it, and marks the chat as the visible session.
func (s *ChatService) GetFullChat(ctx context.Context, chatID string) (*model.FullChat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: chat %s", apperrors.ErrNotFound, chatID)
		}
		return nil, fmt.Errorf("could not get chat: %w", err)
	}
	messages, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("could not get messages: %w", err)
	}

	// Reload only overwrites the view when no job is mid-flight for this
	// session, otherwise the durable rows would clobber the open placeholder.
	state := s.view.State(chatID)
	if !state.Loading && !state.Queued {
		s.view.ReplaceMessages(chatID, messages)
	}

	s.mu.Lock()
	s.visible = chatID
	s.mu.Unlock()

	return &model.FullChat{Chat: *chat, Messages: s.view.Messages(chatID)}, nil
}

// UpdateChatTitle handles a manual title change.
func (s *ChatService) UpdateChatTitle(ctx context.Context, chatID, newTitle string) error {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return fmt.Errorf("%w: title cannot be empty", apperrors.ErrValidation)
	}
	if err := s.repo.UpdateChatTitle(ctx, chatID, newTitle); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: chat %s", apperrors.ErrNotFound, chatID)
		}
		return err
	}
	return nil
}

// DeleteChat cancels any work in flight for the chat, then removes the chat
// and its view state.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	if s.hasWork(chatID) {
		s.CancelBySession(chatID)
	}
	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: chat %s", apperrors.ErrNotFound, chatID)
		}
		return err
	}
	s.view.DropSession(chatID)

	s.mu.Lock()
	if s.visible == chatID {
		s.visible = ""
	}
	delete(s.untitled, chatID)
	s.mu.Unlock()
	return nil
}

// State exposes the read-only per-session view: flags, latest telemetry and
// its flattened form.
func (s *ChatService) State(chatID string) model.SessionState {
	return s.view.State(chatID)
}

// Messages exposes the current optimistic message list for a session.
func (s *ChatService) Messages(chatID string) []model.Message {
	return s.view.Messages(chatID)
}

// Shutdown rejects new jobs and fails everything still queued. The active
// job, if any, runs to completion.
func (s *ChatService) Shutdown() {
	for _, job := range s.sched.Dispose() {
		s.view.RemoveMessage(job.SessionID, job.AssistantID)
		s.view.SetQueued(job.SessionID, false)
		job.Events <- model.StreamResponse{Done: true, Canceled: true}
		close(job.Events)
	}
}

func (s *ChatService) hasWork(sessionID string) bool {
	if s.sched.HasQueuedJob(sessionID) {
		return true
	}
	active, ok := s.sched.ActiveSession()
	return ok && active == sessionID
}

// generateTitle asks the backend for a short title based on the first
// exchange, then applies it. Failures leave the truncated-prompt title.
func (s *ChatService) generateTitle(ctx context.Context, chatID, userQuery, assistantResponse string) {
	prompt := fmt.Sprintf(
		"You create short, concise titles for conversations. Respond with only the title.\n\n---\nUser: %s\n\nAssistant: %s\n---",
		truncate(userQuery, 150),
		truncate(assistantResponse, 200),
	)
	resp, err := s.llm.Generate(ctx, &llm.StreamPayload{
		SessionID: chatID,
		Messages:  []llm.Message{{Role: model.RoleUser, Content: prompt}},
		Model:     s.cfg.TitleModel,
	})
	if err != nil {
		slog.Warn("Failed to generate chat title", "chat_id", chatID, "error", err)
		return
	}

	newTitle := strings.TrimSpace(resp)
	newTitle = strings.Trim(newTitle, `"'`)
	if newTitle == "" {
		return
	}
	if err := s.repo.UpdateChatTitle(ctx, chatID, truncate(newTitle, 80)); err != nil {
		slog.Warn("Failed to apply generated chat title", "chat_id", chatID, "error", err)
	}
}

// takeUntitled consumes the one-shot retitle flag for a chat.
func (s *ChatService) takeUntitled(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.untitled[chatID] {
		return false
	}
	delete(s.untitled, chatID)
	return true
}

// truncate shortens a string to a specified number of runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
