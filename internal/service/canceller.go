package service

import (
	"context"
	"time"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

// CancelBySession cancels all work for a session. Queued jobs are dropped
// immediately. An active job is stopped gracefully: the cancel marker is set,
// the backend is asked to wind down, and the runner waits a bounded time for
// a flushed telemetry block before the grace timer severs the stream.
func (s *ChatService) CancelBySession(sessionID string) {
	s.mu.Lock()
	s.cancels[sessionID] = time.Now()
	s.mu.Unlock()

	for _, job := range s.sched.DropJobsForSession(sessionID) {
		s.view.RemoveMessage(sessionID, job.AssistantID)
		job.Events <- model.StreamResponse{Done: true, Canceled: true}
		close(job.Events)
	}
	s.view.SetQueued(sessionID, false)

	active, ok := s.sched.ActiveSession()
	if !ok || active != sessionID {
		// Nothing streaming for this session; the marker has no job to stop.
		s.clearCancelMarker(sessionID)
		return
	}

	go s.llm.RequestCancel(sessionID)

	time.AfterFunc(s.cfg.CancelGrace(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, pending := s.cancels[sessionID]; !pending {
			// The job already reached a terminal state.
			return
		}
		if s.active != nil && s.active.sessionID == sessionID {
			s.active.hardAborted = true
			s.active.cancel()
		}
	})
}

// Stop cancels the visible session, the one the caller is currently looking
// at. No-op when nothing is visible.
func (s *ChatService) Stop() {
	s.mu.Lock()
	sid := s.visible
	s.mu.Unlock()
	if sid == "" {
		return
	}
	s.CancelBySession(sid)
}

func (s *ChatService) cancelRequestedAt(sessionID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.cancels[sessionID]
	if !ok {
		return nil
	}
	return &at
}

func (s *ChatService) clearCancelMarker(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, sessionID)
}

func (s *ChatService) setActive(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &activeStream{sessionID: sessionID, cancel: cancel}
}

func (s *ChatService) clearActive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.sessionID == sessionID {
		s.active = nil
	}
}

func (s *ChatService) wasHardAborted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.sessionID == sessionID && s.active.hardAborted
}
