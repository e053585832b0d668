package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/llm"
)

func TestOpenStream_DeliversRawBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/stream", r.URL.Path)
		var payload llm.StreamPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "sess-1", payload.SessionID)
		require.Len(t, payload.Messages, 1)

		_, _ = w.Write([]byte("Hello "))
		_, _ = w.Write([]byte("world"))
	}))
	defer server.Close()

	provider := llm.NewHTTPProvider(server.URL)
	reader, err := provider.OpenStream(context.Background(), &llm.StreamPayload{
		SessionID: "sess-1",
		Messages:  []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(out))
}

func TestOpenStream_Non200StatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := llm.NewHTTPProvider(server.URL)
	_, err := provider.OpenStream(context.Background(), &llm.StreamPayload{SessionID: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestOpenStream_ContextCancelAbortsRead(t *testing.T) {
	// The stream must honor context cancellation mid-read; this is the hard
	// abort path the canceller escalates to after the grace period.
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	provider := llm.NewHTTPProvider(server.URL)
	reader, err := provider.OpenStream(ctx, &llm.StreamPayload{SessionID: "s"})
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	buf := make([]byte, 64)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf[:n]))

	cancel()
	_, err = reader.Read(buf)
	require.Error(t, err)
}

func TestRequestCancel_FireAndForget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/cancel", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["session_id"])
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := llm.NewHTTPProvider(server.URL)
	provider.RequestCancel("sess-1")
	provider.RequestCancel("sess-1") // idempotent from the caller's view

	assert.Eventually(t, func() bool { return calls.Load() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestRequestCancel_SwallowsBackendFailure(t *testing.T) {
	provider := llm.NewHTTPProvider("http://127.0.0.1:1") // nothing listening
	// Must not panic or block beyond its own short timeout.
	provider.RequestCancel("sess-1")
}

func TestGenerate_OneShot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "A Short Title"})
	}))
	defer server.Close()

	provider := llm.NewHTTPProvider(server.URL)
	out, err := provider.Generate(context.Background(), &llm.StreamPayload{
		SessionID: "sess-1",
		Messages:  []llm.Message{{Role: "user", Content: "title please"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "A Short Title", out)
}
