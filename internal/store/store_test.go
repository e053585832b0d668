package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/model"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/store"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/telemetry"
)

const sid = "session-1"

func TestEnsurePlaceholder_Idempotent(t *testing.T) {
	s := store.New()

	s.EnsurePlaceholder(sid, "asst-1")
	s.EnsurePlaceholder(sid, "asst-1")
	s.EnsurePlaceholder(sid, "asst-1")

	msgs := s.Messages(sid)
	require.Len(t, msgs, 1)
	assert.Equal(t, "asst-1", msgs[0].ID)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Empty(t, msgs[0].Content)
}

func TestAppendDelta_OrderedConcatenation(t *testing.T) {
	s := store.New()
	s.EnsurePlaceholder(sid, "asst-1")

	s.AppendDelta(sid, "asst-1", "Hel")
	s.AppendDelta(sid, "asst-1", "lo ")
	s.AppendDelta(sid, "asst-1", "world")

	msgs := s.Messages(sid)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello world", msgs[0].Content)
}

func TestAppendDelta_SilentDropOnMissingPlaceholder(t *testing.T) {
	// GOAL: a delta aimed at an id that no longer exists is a strict no-op.
	// This is the late-delivery safety property: cancellation may remove the
	// placeholder while the stream is still draining.
	s := store.New()
	s.AppendUser(sid, model.Message{ID: "user-1", Content: "hi"})
	before := s.Messages(sid)

	s.AppendDelta(sid, "ghost-id", "late delta")

	after := s.Messages(sid)
	assert.Equal(t, before, after, "message list must be untouched by a dropped delta")

	// Same guard on the unknown-session path.
	s.AppendDelta("no-such-session", "ghost-id", "late delta")
	assert.Nil(t, s.Messages("no-such-session"))
}

func TestAppendDelta_DoesNotFabricateMessages(t *testing.T) {
	s := store.New()
	s.AppendDelta(sid, "asst-1", "delta")
	assert.Empty(t, s.Messages(sid))
}

func TestSnapshotPendingAssistant(t *testing.T) {
	s := store.New()

	// Empty session: nothing to recover.
	assert.Empty(t, s.SnapshotPendingAssistant(sid))

	// Last message is the user's: still nothing.
	s.AppendUser(sid, model.Message{ID: "user-1", Content: "prompt"})
	assert.Empty(t, s.SnapshotPendingAssistant(sid))

	// Open assistant placeholder with partial output: recovered verbatim.
	s.EnsurePlaceholder(sid, "asst-1")
	s.AppendDelta(sid, "asst-1", "partial out")
	assert.Equal(t, "partial out", s.SnapshotPendingAssistant(sid))
}

func TestPatchServerID_OneWay(t *testing.T) {
	s := store.New()
	s.AppendUser(sid, model.Message{ID: "user-1", Content: "hi"})

	s.PatchServerID(sid, "user-1", 41)
	msgs := s.Messages(sid)
	require.NotNil(t, msgs[0].ServerID)
	assert.Equal(t, int64(41), *msgs[0].ServerID)

	// A second patch must not downgrade or replace the existing id.
	s.PatchServerID(sid, "user-1", 99)
	msgs = s.Messages(sid)
	assert.Equal(t, int64(41), *msgs[0].ServerID)

	// Unknown client id: no-op.
	s.PatchServerID(sid, "ghost", 7)
	assert.Len(t, s.Messages(sid), 1)
}

func TestSetPendingText_ReplacesOnlyExistingMessage(t *testing.T) {
	s := store.New()
	s.EnsurePlaceholder(sid, "asst-1")
	s.AppendDelta(sid, "asst-1", "text with [[RUNJSON]] tail")

	s.SetPendingText(sid, "asst-1", "text with ")
	assert.Equal(t, "text with ", s.Messages(sid)[0].Content)

	s.SetPendingText(sid, "ghost", "should vanish")
	require.Len(t, s.Messages(sid), 1)
	assert.Equal(t, "text with ", s.Messages(sid)[0].Content)
}

func TestRemoveMessage(t *testing.T) {
	s := store.New()
	s.AppendUser(sid, model.Message{ID: "user-1"})
	s.EnsurePlaceholder(sid, "asst-1")

	s.RemoveMessage(sid, "asst-1")

	msgs := s.Messages(sid)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user-1", msgs[0].ID)

	// A delta trailing in after removal hits the silent-drop path.
	s.AppendDelta(sid, "asst-1", "late")
	assert.Len(t, s.Messages(sid), 1)
}

func TestSessionFlagsAndMetrics(t *testing.T) {
	s := store.New()

	state := s.State(sid)
	assert.False(t, state.Loading)
	assert.False(t, state.Queued)
	assert.Nil(t, state.Metrics)
	assert.Nil(t, state.Flattened)

	s.SetLoading(sid, true)
	s.SetQueued(sid, true)
	_, block := telemetry.Extract(`[[RUNJSON]]{"stats":{"stopReason":"stop"}}[[/RUNJSON]]`)
	require.NotNil(t, block)
	s.SetSessionMetrics(sid, block)

	state = s.State(sid)
	assert.True(t, state.Loading)
	assert.True(t, state.Queued)
	require.NotNil(t, state.Metrics)
	require.NotNil(t, state.Flattened)
	assert.Equal(t, "stop", *state.Flattened.StopReason)

	// Reset to "metrics unknown" drops both views.
	s.SetSessionMetrics(sid, nil)
	state = s.State(sid)
	assert.Nil(t, state.Metrics)
	assert.Nil(t, state.Flattened)
}

func TestSetMessageMetrics_PinsToMessage(t *testing.T) {
	s := store.New()
	s.EnsurePlaceholder(sid, "asst-1")

	_, block := telemetry.Extract(`[[RUNJSON]]{"stats":{"tokensPerSecond":3.5}}[[/RUNJSON]]`)
	require.NotNil(t, block)
	s.SetMessageMetrics(sid, "asst-1", block)

	msgs := s.Messages(sid)
	require.NotNil(t, msgs[0].Metrics)
	assert.InDelta(t, 3.5, *msgs[0].Metrics.Stats.TokensPerSecond, 0.001)
}

func TestReplaceMessages_ReconcilesDurableHistory(t *testing.T) {
	s := store.New()
	s.AppendUser(sid, model.Message{ID: "user-1", Content: "hi"})
	s.EnsurePlaceholder(sid, "asst-1")

	serverID := int64(7)
	s.ReplaceMessages(sid, []model.Message{
		{ID: "user-1", ServerID: &serverID, Role: model.RoleUser, Content: "hi"},
	})

	msgs := s.Messages(sid)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ServerID)
	assert.Equal(t, int64(7), *msgs[0].ServerID)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := store.New()
	s.EnsurePlaceholder("a", "asst-a")
	s.EnsurePlaceholder("b", "asst-b")

	s.AppendDelta("a", "asst-a", "only a")

	assert.Equal(t, "only a", s.Messages("a")[0].Content)
	assert.Empty(t, s.Messages("b")[0].Content)
}
