// The `_test` suffix creates a "black box" test package: only the api
// package's exported identifiers are reachable from here.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/api"
	app_errors "github.com/JoshBonura/ai-agent-playground-sub001/internal/errors"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/interfaces/mocks"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

func setupChatHandler(t *testing.T) (*api.ChatHandler, *mocks.MockChatService) {
	mockSvc := mocks.NewMockChatService(t)
	return api.NewChatHandler(mockSvc), mockSvc
}

// addChiURLParams simulates the chi router injecting URL parameters (e.g.
// `{chatID}`) into the request's context; without it chi.URLParam returns "".
func addChiURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for key, value := range params {
		chiCtx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

func TestChatHandler_GetChats(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		expectedChats := []*model.Chat{{ID: "chat1", Title: "Test Chat"}}
		mockSvc.On("ListChats", mock.Anything, "default-user").Return(expectedChats, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
		rr := httptest.NewRecorder()
		handler.GetChats(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var returnedChats []*model.Chat
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &returnedChats))
		assert.Equal(t, expectedChats, returnedChats)
	})

	t.Run("Failure - Service returns error", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("ListChats", mock.Anything, "default-user").Return(nil, app_errors.ErrInternal).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
		rr := httptest.NewRecorder()
		handler.GetChats(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestChatHandler_GetChat(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		fullChat := &model.FullChat{Chat: model.Chat{ID: "chat1"}}
		mockSvc.On("GetFullChat", mock.Anything, "chat1").Return(fullChat, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/chat1", nil)
		req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
		rr := httptest.NewRecorder()
		handler.GetChat(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Failure - Not found", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("GetFullChat", mock.Anything, "nope").Return(nil, app_errors.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/nope", nil)
		req = addChiURLParams(req, map[string]string{"chatID": "nope"})
		rr := httptest.NewRecorder()
		handler.GetChat(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestChatHandler_GetSessionState(t *testing.T) {
	handler, mockSvc := setupChatHandler(t)
	mockSvc.On("State", "chat1").Return(model.SessionState{Loading: true}).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/chat1/state", nil)
	req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
	rr := httptest.NewRecorder()
	handler.GetSessionState(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var state model.SessionState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.True(t, state.Loading)
}

func TestChatHandler_UpdateChatTitle(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("UpdateChatTitle", mock.Anything, "chat1", "New Title").Return(nil).Once()

		body := strings.NewReader(`{"title": "New Title"}`)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/chats/chat1/title", body)
		req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
		rr := httptest.NewRecorder()
		handler.UpdateChatTitle(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Failure - Empty title fails validation", func(t *testing.T) {
		handler, _ := setupChatHandler(t)

		body := strings.NewReader(`{"title": ""}`)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/chats/chat1/title", body)
		req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
		rr := httptest.NewRecorder()
		handler.UpdateChatTitle(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Failure - Malformed body", func(t *testing.T) {
		handler, _ := setupChatHandler(t)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/chats/chat1/title", strings.NewReader("{not json"))
		req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
		rr := httptest.NewRecorder()
		handler.UpdateChatTitle(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestChatHandler_HandleDeleteChat(t *testing.T) {
	handler, mockSvc := setupChatHandler(t)
	mockSvc.On("DeleteChat", mock.Anything, "chat1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chats/chat1", nil)
	req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
	rr := httptest.NewRecorder()
	handler.HandleDeleteChat(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestChatHandler_HandleCancelChat(t *testing.T) {
	handler, mockSvc := setupChatHandler(t)
	mockSvc.On("CancelBySession", "chat1").Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/chat1/cancel", nil)
	req = addChiURLParams(req, map[string]string{"chatID": "chat1"})
	rr := httptest.NewRecorder()
	handler.HandleCancelChat(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestChatHandler_HandleStop(t *testing.T) {
	handler, mockSvc := setupChatHandler(t)
	mockSvc.On("Stop").Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/stop", nil)
	rr := httptest.NewRecorder()
	handler.HandleStop(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestChatHandler_HandleRegenerateMessage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)

		events := make(chan model.StreamResponse, 1)
		events <- model.StreamResponse{Done: true, FinalText: "fresh reply"}
		close(events)

		mockSvc.On("Regenerate", mock.Anything, "chat1", "msg1").
			Return((<-chan model.StreamResponse)(events), nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/chat1/messages/msg1/regenerate", nil)
		req = addChiURLParams(req, map[string]string{"chatID": "chat1", "messageID": "msg1"})
		rr := httptest.NewRecorder()
		handler.HandleRegenerateMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "fresh reply")
	})

	t.Run("Failure - unknown message", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("Regenerate", mock.Anything, "chat1", "nope").
			Return(nil, app_errors.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/chat1/messages/nope/regenerate", nil)
		req = addChiURLParams(req, map[string]string{"chatID": "chat1", "messageID": "nope"})
		rr := httptest.NewRecorder()
		handler.HandleRegenerateMessage(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestChatHandler_HandleSendMessage(t *testing.T) {
	t.Run("Success - streams events until the channel closes", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)

		events := make(chan model.StreamResponse, 3)
		events <- model.StreamResponse{Content: "Hello "}
		events <- model.StreamResponse{Content: "world"}
		events <- model.StreamResponse{Done: true, FinalText: "Hello world"}
		close(events)

		mockSvc.On("Send", mock.Anything, mock.AnythingOfType("*service.SendRequest")).
			Return("chat1", (<-chan model.StreamResponse)(events), nil).Once()

		body := strings.NewReader(`{"chat_id": "chat1", "content": "hi"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/messages", body)
		rr := httptest.NewRecorder()
		handler.HandleSendMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

		out := rr.Body.String()
		assert.Contains(t, out, `"chat_id":"chat1"`)
		assert.Contains(t, out, `"content":"Hello "`)
		assert.Contains(t, out, `"final_text":"Hello world"`)

		// SSE framing: every frame is a data line followed by a blank line.
		for _, frame := range strings.Split(strings.TrimSpace(out), "\n\n") {
			assert.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame: %q", frame)
		}
	})

	t.Run("Failure - validation error responds with JSON, not a stream", func(t *testing.T) {
		handler, _ := setupChatHandler(t)

		body := strings.NewReader(`{"chat_id": "chat1"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/messages", body)
		rr := httptest.NewRecorder()
		handler.HandleSendMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})

	t.Run("Failure - unknown chat maps to 404", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("Send", mock.Anything, mock.Anything).
			Return("", nil, app_errors.ErrNotFound).Once()

		body := strings.NewReader(`{"chat_id": "nope", "content": "hi"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/messages", body)
		rr := httptest.NewRecorder()
		handler.HandleSendMessage(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Terminal error chunk is mirrored on the error event", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)

		events := make(chan model.StreamResponse, 1)
		events <- model.StreamResponse{Done: true, Error: "backend unreachable"}
		close(events)

		mockSvc.On("Send", mock.Anything, mock.Anything).
			Return("chat1", (<-chan model.StreamResponse)(events), nil).Once()

		body := strings.NewReader(`{"chat_id": "chat1", "content": "hi"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/messages", body)
		rr := httptest.NewRecorder()
		handler.HandleSendMessage(rr, req)

		out := rr.Body.String()
		assert.Contains(t, out, "event: error")
		assert.Contains(t, out, "backend unreachable")
	})
}
