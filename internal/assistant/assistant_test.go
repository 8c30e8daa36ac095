package assistant

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecore/internal/config"
	"voicecore/internal/dialogue"
	"voicecore/internal/storage"
)

func newTestAssistant(t *testing.T) *Assistant {
	t.Helper()
	cfg := &config.Config{}
	cfg.Classifier.ConfidenceThreshold = 0.6
	cfg.Classifier.FallbackThreshold = 0.3
	cfg.Classifier.CacheTTL = 5 * time.Minute
	cfg.Dialogue.ToolTimeout = 5 * time.Second
	a := New(cfg, storage.NewMemoryStore(time.Hour))
	t.Cleanup(a.Close)
	return a
}

func TestProcessSingleCommand(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "search for cats")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.NeedsUserInput)
}

func TestProcessLowConfidenceAsksForClarification(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "flurble wibble wub")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.NeedsUserInput)
}

func TestUndoAfterExecution(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "create a document about climate change as a pdf")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = a.Process(ctx, "conv", "undo")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "document")
}

func TestUndoInterceptedWhileCollecting(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "create a document about climate change as a pdf")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = a.Process(ctx, "conv", "Generate a document")
	require.NoError(t, err)
	require.Equal(t, string(dialogue.StateCollecting), res.SessionState)

	// "undo" reverses the earlier execution instead of being swallowed as
	// the content parameter of the in-progress command.
	res, err = a.Process(ctx, "conv", "undo")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "document")
	assert.Equal(t, string(dialogue.StateCollecting), res.SessionState)

	res, err = a.Process(ctx, "conv", "about sales")
	require.NoError(t, err)
	assert.Equal(t, string(dialogue.StateCollecting), res.SessionState, "collection resumes where it left off")
	assert.NotContains(t, res.Message, "undo")
}

func TestUndoWithEmptyHistory(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "undo")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "nothing to undo")
}

func TestUndoUnsupportedCommand(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "send an email to bob@example.com subject hello saying hi")
	require.NoError(t, err)
	if res.NeedsUserInput {
		t.Fatalf("expected complete email command, got: %s", res.Message)
	}
	require.True(t, res.Success)

	res, err = a.Process(ctx, "conv", "undo")
	require.NoError(t, err)
	assert.False(t, res.Success, "email sends are explicitly not undoable")
}

func TestRedo(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Process(ctx, "conv", "create a document about climate change as a pdf")
	require.NoError(t, err)
	_, err = a.Process(ctx, "conv", "undo")
	require.NoError(t, err)

	res, err := a.Process(ctx, "conv", "redo")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRepeat(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Process(ctx, "conv", "search for cats")
	require.NoError(t, err)

	res, err := a.Process(ctx, "conv", "repeat that")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRepeatWithEmptyHistory(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "repeat that")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFavoritesRoundTrip(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Process(ctx, "conv", "search for cats")
	require.NoError(t, err)

	res, err := a.Process(ctx, "conv", "save that as cat search")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = a.Process(ctx, "conv", "run favorite cat search")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = a.Process(ctx, "conv", "favorites")
	require.NoError(t, err)
	assert.Contains(t, res.Message, "cat search")
}

func TestChainThroughFacade(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "create a report about sales as a pdf and then email it to bob@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, res.ChainResults)
	assert.True(t, res.ChainResults[0].Success)
}

func TestMultiTurnThroughFacade(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Process(ctx, "conv", "Generate a document")
	require.NoError(t, err)
	require.True(t, res.NeedsUserInput)

	res, err = a.Process(ctx, "conv", "about sales")
	require.NoError(t, err)
	require.True(t, res.NeedsUserInput)

	res, err = a.Process(ctx, "conv", "pdf")
	require.NoError(t, err)
	require.Equal(t, string(dialogue.StateConfirming), res.SessionState)

	res, err = a.Process(ctx, "conv", "yes")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestClearContext(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Process(ctx, "conv", "Generate a document")
	require.NoError(t, err)

	res, err := a.Process(ctx, "conv", "start over")
	require.NoError(t, err)
	// Mid-collection "start over" is consumed by the state machine as a
	// parameter value or cancel, so just assert the call succeeds and the
	// context can be exported afterwards.
	_ = res

	data, err := a.ExportContext(ctx, "conv")
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
}

func TestStats(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Process(ctx, "conv", "search for cats")
	require.NoError(t, err)

	res, err := a.Process(ctx, "conv", "stats")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Metadata)
}
