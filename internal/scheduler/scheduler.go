// Package scheduler serializes generation jobs. The generation backend is a
// single shared resource, so no matter how many sessions have pending
// prompts, exactly one job streams at a time; everything else waits in a
// plain FIFO.
package scheduler

import (
	"sync"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
)

// Job is one request to generate an assistant reply. Immutable once
// enqueued; its identity is the (SessionID, AssistantID) pair. Events is the
// subscriber channel the runner reports progress on; the runner owns closing
// it.
type Job struct {
	SessionID   string
	Prompt      string
	AssistantID string
	Attachments []model.Attachment
	Events      chan model.StreamResponse
}

// RunFunc executes one job to completion. It must return only when the job
// reached a terminal state (persisted, failed or canceled).
type RunFunc func(job Job)

// Scheduler owns the queue and the single active slot. Neither is reachable
// from outside; all mutation goes through Enqueue, DropJobsForSession and the
// internal drain.
type Scheduler struct {
	run RunFunc

	mu            sync.Mutex
	queue         []Job
	activeSession string
	active        bool
	disposed      bool
}

func New(run RunFunc) *Scheduler {
	return &Scheduler{run: run}
}

// Enqueue appends the job and attempts a drain. The scheduler does not
// deduplicate: it is a plain FIFO over whatever the caller submits.
func (s *Scheduler) Enqueue(job Job) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if job.Events != nil {
			close(job.Events)
		}
		return
	}
	s.queue = append(s.queue, job)
	s.mu.Unlock()
	s.startNext()
}

// startNext pops and runs the queue head unless a job is already active or
// the queue is empty. The recursion through the goroutine keeps draining
// until the queue is exhausted, one job at a time.
func (s *Scheduler) startNext() {
	s.mu.Lock()
	if s.active || s.disposed || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	s.active = true
	s.activeSession = job.SessionID
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.active = false
			s.activeSession = ""
			s.mu.Unlock()
			s.startNext()
		}()
		s.run(job)
	}()
}

// ActiveSession reports which session's job is currently streaming, if any.
func (s *Scheduler) ActiveSession() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSession, s.active
}

// HasQueuedJob reports whether the session has at least one queued
// (not yet started) job.
func (s *Scheduler) HasQueuedJob(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.queue {
		if job.SessionID == sessionID {
			return true
		}
	}
	return false
}

// DropJobsForSession removes every queued job for the session and returns
// the removed jobs so the caller can notify their subscribers. The active
// job, if it belongs to this session, is untouched: stopping it is the
// canceller's business.
func (s *Scheduler) DropJobsForSession(sessionID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept, dropped []Job
	for _, job := range s.queue {
		if job.SessionID == sessionID {
			dropped = append(dropped, job)
			continue
		}
		kept = append(kept, job)
	}
	s.queue = kept
	return dropped
}

// Dispose rejects future enqueues and drops everything still queued,
// returning the dropped jobs. The active job, if any, runs to completion.
func (s *Scheduler) Dispose() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	dropped := s.queue
	s.queue = nil
	return dropped
}
