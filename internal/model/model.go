package model

import (
	"time"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/telemetry"
)

// Chat stores metadata about one conversation session. The ID is an opaque
// string: assigned once at creation and referenced, never rewritten, by the
// controller.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	UserID      string    `json:"user_id"`
	LastMessage string    `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Attachment describes a file attached to a message. The controller treats
// attachments as opaque descriptors; upload handling lives elsewhere.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size_bytes"`
}

// Message is a single conversation turn as the controller sees it.
//
// ID is the client-assigned id: stable from the moment the message is created
// optimistically, never reused. ServerID is assigned once the row is durable;
// nil means "not yet persisted". Content is mutable only while the message is
// the open assistant placeholder of a streaming job; after the job ends only
// the ServerID patch may touch the message.
type Message struct {
	ID          string           `json:"id"`
	ServerID    *int64           `json:"server_id,omitempty"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Metrics     *telemetry.Block `json:"metrics,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// FullChat includes the chat metadata and all its messages.
type FullChat struct {
	Chat
	Messages []Message `json:"messages"`
}

// SessionState is the read-only per-session view exposed to API callers.
type SessionState struct {
	Loading   bool                 `json:"loading"`
	Queued    bool                 `json:"queued"`
	Metrics   *telemetry.Block     `json:"metrics,omitempty"`
	Flattened *telemetry.Flattened `json:"flattened,omitempty"`
}

// StreamResponse is one chunk of a streaming send, delivered over SSE.
// Content carries a delta while streaming. The terminal chunk sets Done and
// carries the final cleaned text plus the pinned metrics, so clients replace
// rather than re-assemble.
type StreamResponse struct {
	Content   string               `json:"content,omitempty"`
	Done      bool                 `json:"done,omitempty"`
	Canceled  bool                 `json:"canceled,omitempty"`
	FinalText string               `json:"final_text,omitempty"`
	Metrics   *telemetry.Block     `json:"metrics,omitempty"`
	Flattened *telemetry.Flattened `json:"flattened,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Roles accepted on a message row.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
