// Package llm is the network boundary to the generation backend. It opens
// the cancellable byte stream the runner consumes, fires best-effort cancel
// signals, and performs the one-shot generation used for retitling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

// Message is one conversation turn in a generation payload.
type Message struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// StreamPayload is the request body for opening a generation stream.
type StreamPayload struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
}

// StreamProvider defines the interface to the generation backend.
//
// OpenStream returns the raw byte stream of the reply; the stream carries
// plain text deltas with an optional trailing telemetry block, and honors ctx
// cancellation (the hard-abort path). RequestCancel is fire-and-forget,
// best-effort and idempotent. Generate is a one-shot, non-streaming call.
type StreamProvider interface {
	OpenStream(ctx context.Context, payload *StreamPayload) (io.ReadCloser, error)
	RequestCancel(sessionID string)
	Generate(ctx context.Context, payload *StreamPayload) (string, error)
}

type httpProvider struct {
	client *http.Client
	url    string
}

// NewHTTPProvider builds a StreamProvider for the backend at the given base
// URL.
func NewHTTPProvider(url string) StreamProvider {
	return &httpProvider{
		// No overall timeout: generation streams are long-lived by design.
		// Cancellation happens through the request context.
		client: &http.Client{},
		url:    url,
	}
}

func (p *httpProvider) OpenStream(ctx context.Context, payload *StreamPayload) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal stream payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/stream", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("could not create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("backend returned non-200 status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return resp.Body, nil
}

// RequestCancel tells the backend to wind down generation for the session.
// Failures are logged and otherwise ignored: the caller falls back to a hard
// abort of the stream after the grace period regardless.
func (p *httpProvider) RequestCancel(sessionID string) {
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/cancel", bytes.NewBuffer(body))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		slog.Debug("Best-effort cancel signal failed", "session_id", sessionID, "error", err)
		return
	}
	_ = resp.Body.Close()
}

func (p *httpProvider) Generate(ctx context.Context, payload *StreamPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("could not marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("could not create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("backend returned non-200 status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("could not decode generate response: %w", err)
	}
	return genResp.Response, nil
}
