package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/llm"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/scheduler"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/telemetry"
)

// streamErrorMarker is installed as the placeholder text only when a job
// fails before producing any visible output.
const streamErrorMarker = "[stream error]"

// runJob executes one generation job to a terminal state. It is the
// scheduler's RunFunc, so at most one instance runs at a time.
func (s *ChatService) runJob(job scheduler.Job) {
	sid := job.SessionID
	log := slog.With("session_id", sid, "assistant_id", job.AssistantID)

	defer func() {
		s.view.SetLoading(sid, false)
		s.clearActive(sid)
		s.clearCancelMarker(sid)
		close(job.Events)
	}()

	// Canceled between enqueue and dequeue: never touch the backend.
	if s.cancelRequestedAt(sid) != nil {
		s.view.RemoveMessage(sid, job.AssistantID)
		s.view.SetQueued(sid, false)
		job.Events <- model.StreamResponse{Done: true, Canceled: true}
		return
	}

	s.view.SetQueued(sid, false)
	s.view.SetLoading(sid, true)
	s.view.SetSessionMetrics(sid, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.setActive(sid, cancel)

	payload := &llm.StreamPayload{
		SessionID: sid,
		Messages:  s.buildHistory(sid),
		Model:     s.cfg.GeneratorModel,
	}
	body, err := s.llm.OpenStream(ctx, payload)
	if err != nil {
		log.Error("Failed to open generation stream", "error", err)
		s.view.SetPendingText(sid, job.AssistantID, streamErrorMarker)
		job.Events <- model.StreamResponse{Done: true, Error: "could not reach generation backend"}
		return
	}
	defer func() { _ = body.Close() }()

	var (
		raw           strings.Builder
		clean         string
		block         *telemetry.Block
		canceled      bool
		stopReason    string
		streamErr     error
		flushDeadline time.Time
	)

	buf := make([]byte, 4096)
	for {
		if at := s.cancelRequestedAt(sid); at != nil {
			canceled = true
			if flushDeadline.IsZero() {
				flushDeadline = at.Add(s.cfg.CancelFlushWait())
			}
			if block != nil {
				// The backend flushed its terminal telemetry; nothing left
				// to wait for.
				break
			}
			if time.Now().After(flushDeadline) {
				stopReason = telemetry.StopUserCancelTimeout
				break
			}
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			raw.WriteString(chunk)
			s.view.AppendDelta(sid, job.AssistantID, chunk)

			// Re-extract over the whole accumulated buffer so markers split
			// across chunk boundaries reassemble, then swap the cleaned text
			// into the placeholder.
			var parsed *telemetry.Block
			clean, parsed = telemetry.Extract(raw.String())
			if parsed != nil {
				block = parsed
				s.view.SetSessionMetrics(sid, block)
				s.view.SetMessageMetrics(sid, job.AssistantID, block)
			}
			s.view.SetPendingText(sid, job.AssistantID, clean)

			if !canceled {
				job.Events <- model.StreamResponse{Content: chunk}
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				streamErr = rerr
			}
			break
		}
	}
	if !canceled && s.cancelRequestedAt(sid) != nil {
		canceled = true
	}

	charCount := len([]rune(clean))
	var failure string

	switch {
	case canceled:
		if streamErr != nil && stopReason == "" {
			// Distinguish our own abort from a connection that died on its
			// own after the stop was requested.
			if s.wasHardAborted(sid) {
				stopReason = telemetry.StopClientAbortAfterStop
			} else {
				stopReason = streamErr.Error()
			}
		}
		if block == nil {
			if stopReason == "" {
				stopReason = telemetry.StopUserCancel
			}
			block = telemetry.Fallback(stopReason, charCount)
		}
	case streamErr != nil:
		log.Error("Generation stream failed", "error", streamErr)
		failure = streamErr.Error()
		if block == nil {
			block = telemetry.Fallback(failure, charCount)
		}
		if clean == "" {
			clean = streamErrorMarker
		}
	default:
		if block == nil {
			block = telemetry.Fallback(telemetry.StopEndOfStreamNoMetrics, charCount)
		}
	}

	s.view.SetSessionMetrics(sid, block)
	s.view.SetMessageMetrics(sid, job.AssistantID, block)
	s.view.SetPendingText(sid, job.AssistantID, clean)

	if canceled && clean == "" {
		// A canceled job with zero output leaves no trace.
		s.view.RemoveMessage(sid, job.AssistantID)
	}

	if clean != "" && !canceled && failure == "" {
		s.persistAssistantTurn(job, clean, block)
	}

	flat := block.Flatten()
	job.Events <- model.StreamResponse{
		Done:      true,
		Canceled:  canceled,
		FinalText: clean,
		Metrics:   block,
		Flattened: &flat,
		Error:     failure,
	}
}

// buildHistory assembles the prompt window: the last HistoryWindow non-empty
// turns of the session, in order. The open placeholder has empty content and
// falls out naturally.
func (s *ChatService) buildHistory(sessionID string) []llm.Message {
	msgs := s.view.Messages(sessionID)
	var turns []llm.Message
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, llm.Message{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: m.Attachments,
		})
	}
	if w := s.cfg.HistoryWindow; w > 0 && len(turns) > w {
		turns = turns[len(turns)-w:]
	}
	return turns
}

// persistAssistantTurn makes the finished reply durable and refreshes the
// chat's sidebar projection. Persistence failures keep the optimistic copy.
func (s *ChatService) persistAssistantTurn(job scheduler.Job, text string, block *telemetry.Block) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &model.Message{
		ID:        job.AssistantID,
		Role:      model.RoleAssistant,
		Content:   text,
		Metrics:   block,
		Timestamp: time.Now(),
	}
	serverID, err := s.repo.AppendMessage(ctx, job.SessionID, msg)
	if err != nil {
		slog.Error("Failed to persist assistant message", "chat_id", job.SessionID, "error", err)
	} else {
		s.view.PatchServerID(job.SessionID, job.AssistantID, serverID)
	}

	if err := s.repo.UpdateChatSummary(ctx, job.SessionID, truncate(text, 120), ""); err != nil {
		slog.Warn("Failed to refresh chat summary", "chat_id", job.SessionID, "error", err)
	}

	if s.takeUntitled(job.SessionID) {
		go s.generateTitle(context.Background(), job.SessionID, job.Prompt, text)
	}
}
