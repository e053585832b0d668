package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	app_errors "github.com/JoshBonura/ai-agent-playground-sub001/internal/errors"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/interfaces"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/service"
)

// ChatHandler handles HTTP requests for chats, streaming sends and session
// control.
type ChatHandler struct {
	service interfaces.ChatService
}

func NewChatHandler(svc interfaces.ChatService) *ChatHandler {
	return &ChatHandler{service: svc}
}

// GetChats godoc
// @Summary      List chats
// @Description  Gets all chats for the current user, most recently updated first.
// @Tags         Chats
// @Produce      json
// @Success      200  {array}   model.Chat
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/chats [get]
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID := "default-user"
	chats, err := h.service.ListChats(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, chats)
}

// GetChat godoc
// @Summary      Get a chat with its history
// @Description  Loads a chat's metadata and full message history, reconciled with the live session view.
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  model.FullChat
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID} [get]
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	fullChat, err := h.service.GetFullChat(r.Context(), chatID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, fullChat)
}

// GetSessionState godoc
// @Summary      Get live session state
// @Description  Returns the loading/queued flags and the latest telemetry for a session.
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  model.SessionState
// @Router       /v1/chats/{chatID}/state [get]
func (h *ChatHandler) GetSessionState(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	respondWithJSON(w, http.StatusOK, h.service.State(chatID))
}

// UpdateChatTitle godoc
// @Summary      Rename a chat
// @Tags         Chats
// @Accept       json
// @Produce      json
// @Param        chatID  path      string              true  "Chat ID"
// @Param        title   body      UpdateTitleRequest  true  "New title"
// @Success      200     {object}  StatusResponse
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/title [put]
func (h *ChatHandler) UpdateChatTitle(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.service.UpdateChatTitle(r.Context(), chatID, req.Title); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleDeleteChat godoc
// @Summary      Delete a chat
// @Description  Cancels any in-flight work for the chat, then removes it with all messages.
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  StatusResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID} [delete]
func (h *ChatHandler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := h.service.DeleteChat(r.Context(), chatID); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleCancelChat godoc
// @Summary      Cancel a session's generation
// @Description  Drops queued jobs immediately and winds down the active stream gracefully.
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  StatusResponse
// @Router       /v1/chats/{chatID}/cancel [post]
func (h *ChatHandler) HandleCancelChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	h.service.CancelBySession(chatID)
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleStop godoc
// @Summary      Stop the visible session
// @Description  Cancels whatever session the caller is currently looking at. No-op when idle.
// @Tags         Chats
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /v1/chats/stop [post]
func (h *ChatHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.service.Stop()
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleRegenerateMessage godoc
// @Summary      Regenerate an assistant reply
// @Description  Discards the assistant turn and everything after it, then streams a fresh reply as Server-Sent Events.
// @Tags         Chats
// @Produce      text/event-stream
// @Param        chatID     path  string  true  "Chat ID"
// @Param        messageID  path  string  true  "Assistant message ID"
// @Success      200  {object}  model.StreamResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/messages/{messageID}/regenerate [post]
func (h *ChatHandler) HandleRegenerateMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	messageID := chi.URLParam(r, "messageID")

	events, err := h.service.Regenerate(r.Context(), chatID, messageID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	h.streamEvents(w, r, chatID, events)
}

// HandleSendMessage godoc
// @Summary      Send a message and stream the reply
// @Description  Enqueues a generation job and streams progress as Server-Sent Events. The first frame carries the chat id; the terminal frame carries the final text and telemetry.
// @Tags         Chats
// @Accept       json
// @Produce      text/event-stream
// @Param        message  body  service.SendRequest  true  "User message"
// @Success      200  {object}  model.StreamResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/chats/messages [post]
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	chatID, events, err := h.service.Send(r.Context(), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	h.streamEvents(w, r, chatID, events)
}

// streamEvents relays job progress to the client as SSE frames. The first
// frame carries the chat id, which matters when the send created the chat. A
// client disconnect cancels the session; the channel is still drained so the
// runner can reach its terminal state.
func (h *ChatHandler) streamEvents(w http.ResponseWriter, r *http.Request, chatID string, events <-chan model.StreamResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientGone := writeStreamEvent(w, map[string]string{"chat_id": chatID}) != nil

	abort := func() {
		slog.Info("Client disconnected mid-stream, canceling session", "chat_id", chatID)
		h.service.CancelBySession(chatID)
	}
	if clientGone {
		abort()
	}

	for chunk := range events {
		if clientGone {
			continue
		}
		if chunk.Error != "" {
			// Mirror failures on the dedicated error event for clients that
			// listen for it; the data frame below still carries the full
			// terminal chunk.
			sendStreamError(w, chunk.Error)
		}
		if r.Context().Err() != nil || writeStreamEvent(w, chunk) != nil {
			clientGone = true
			abort()
		}
	}
}
