// Package store holds the client-side optimistic view of every session:
// ordered message lists, the per-session loading/queued flags, and the latest
// telemetry. It is the single source of truth for what a caller currently
// sees; durability is the repository's job and the two reconcile by server id
// on the next history reload.
//
// Mutations are keyed by message id and no-op on a miss. That makes them safe
// to call from overlapping job lifecycles: a delta that arrives after its
// placeholder was removed by a cancellation is silently dropped instead of
// fabricating a message.
package store

import (
	"sync"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/telemetry"
)

type sessionState struct {
	messages []model.Message
	loading  bool
	queued   bool
	metrics  *telemetry.Block
}

// Store is safe for concurrent use. State is logically partitioned by
// session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

func New() *Store {
	return &Store{sessions: map[string]*sessionState{}}
}

func (s *Store) sessionLocked(sessionID string) *sessionState {
	st, ok := s.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		s.sessions[sessionID] = st
	}
	return st
}

func (s *Store) findLocked(sessionID, messageID string) *model.Message {
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for i := range st.messages {
		if st.messages[i].ID == messageID {
			return &st.messages[i]
		}
	}
	return nil
}

// AppendUser inserts a caller-authored message at the end of the session.
func (s *Store) AppendUser(sessionID string, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Role = model.RoleUser
	st := s.sessionLocked(sessionID)
	st.messages = append(st.messages, msg)
}

// EnsurePlaceholder inserts an empty assistant message with the given id if
// one is not already present. Idempotent; never creates a duplicate.
func (s *Store) EnsurePlaceholder(sessionID, assistantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(sessionID, assistantID) != nil {
		return
	}
	st := s.sessionLocked(sessionID)
	st.messages = append(st.messages, model.Message{
		ID:   assistantID,
		Role: model.RoleAssistant,
	})
}

// AppendDelta appends streamed text to the assistant message with the given
// id. If the message no longer exists the delta is dropped without a trace:
// deltas can legitimately arrive after a cancellation removed their target.
func (s *Store) AppendDelta(sessionID, assistantID, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.findLocked(sessionID, assistantID)
	if msg == nil {
		return
	}
	msg.Content += delta
}

// SetPendingText replaces the text of the assistant message with the given
// id. The runner uses it when the codec strips telemetry spans from the
// accumulated buffer and when it installs the inline error marker. No-op on
// a missing message, same as AppendDelta.
func (s *Store) SetPendingText(sessionID, assistantID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.findLocked(sessionID, assistantID)
	if msg == nil {
		return
	}
	msg.Content = text
}

// SnapshotPendingAssistant returns the text of the session's last message if
// it is an assistant message, else the empty string. Error paths use it to
// recover partial output.
func (s *Store) SnapshotPendingAssistant(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok || len(st.messages) == 0 {
		return ""
	}
	last := st.messages[len(st.messages)-1]
	if last.Role != model.RoleAssistant {
		return ""
	}
	return last.Content
}

// PatchServerID records the server-assigned id for a message. The patch is
// one-way: once a message has a server id it is never downgraded or replaced.
func (s *Store) PatchServerID(sessionID, clientID string, serverID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.findLocked(sessionID, clientID)
	if msg == nil || msg.ServerID != nil {
		return
	}
	msg.ServerID = &serverID
}

// SetMessageMetrics pins a telemetry block to a specific message, so that
// historical reloads show the same numbers as the live session did.
func (s *Store) SetMessageMetrics(sessionID, messageID string, block *telemetry.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.findLocked(sessionID, messageID)
	if msg == nil {
		return
	}
	msg.Metrics = block
}

// RemoveMessage deletes a message from the session view. Used when a job is
// canceled before producing any output and its placeholder should not linger.
func (s *Store) RemoveMessage(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for i := range st.messages {
		if st.messages[i].ID == messageID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the session's message list.
func (s *Store) Messages(sessionID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// ReplaceMessages swaps in the durable history for a session, typically after
// a reload from the repository. The server-id keyed rows become the new
// authoritative view.
func (s *Store) ReplaceMessages(sessionID string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sessionLocked(sessionID)
	st.messages = make([]model.Message, len(msgs))
	copy(st.messages, msgs)
}

// DropSession removes all view state for a session.
func (s *Store) DropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// SetLoading flips the session's loading flag.
func (s *Store) SetLoading(sessionID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).loading = loading
}

// SetQueued flips the session's queued flag.
func (s *Store) SetQueued(sessionID string, queued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).queued = queued
}

// SetSessionMetrics records the latest telemetry for the session. A nil block
// resets the view to "metrics unknown".
func (s *Store) SetSessionMetrics(sessionID string, block *telemetry.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).metrics = block
}

// State returns the read-only per-session view.
func (s *Store) State(sessionID string) model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return model.SessionState{}
	}
	out := model.SessionState{
		Loading: st.loading,
		Queued:  st.queued,
		Metrics: st.metrics,
	}
	if st.metrics != nil {
		flat := st.metrics.Flatten()
		out.Flattened = &flat
	}
	return out
}
