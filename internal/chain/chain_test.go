package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecore/internal/classifier"
	"voicecore/internal/dialogue"
	"voicecore/internal/storage"
	"voicecore/internal/tools"
	"voicecore/pkg"
)

type fakeTool struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	fail  bool
	data  map[string]any
}

func (f *fakeTool) Execute(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return &pkg.ToolResult{Success: false, Message: "backend error"}, nil
	}
	return &pkg.ToolResult{Success: true, Message: "ok", Data: f.data}, nil
}

func (f *fakeTool) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testHarness(t *testing.T) (*Orchestrator, *tools.Registry, map[string]*fakeTool) {
	t.Helper()
	registry := tools.NewRegistry()
	fakes := make(map[string]*fakeTool)
	for _, id := range []string{
		"document_generator", "email_sender", "web_search",
		"weather_service", "news_service", "smalltalk",
	} {
		f := &fakeTool{}
		fakes[id] = f
		registry.Register(id, f)
	}
	nlu := classifier.New(classifier.Config{})
	dlg := dialogue.NewManager(dialogue.Config{}, nlu, registry, storage.NewMemoryStore(time.Hour))
	t.Cleanup(dlg.Close)
	return NewOrchestrator(dlg, registry, time.Second), registry, fakes
}

func step(intent classifier.Intent, utterance string, params pkg.Params) Step {
	if params == nil {
		params = pkg.Params{}
	}
	return Step{ID: uuid.NewString(), Utterance: utterance, Intent: intent, Parameters: params}
}

func TestBuildSequentialChain(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	cmd, ok := b.Build("create a report about sales as a pdf and then email it to bob@example.com")
	require.True(t, ok)
	assert.Equal(t, Sequential, cmd.Type)
	require.Len(t, cmd.Steps, 2)
	assert.Equal(t, classifier.IntentGenerateDocument, cmd.Steps[0].Intent)
	assert.Equal(t, classifier.IntentSendEmail, cmd.Steps[1].Intent)
	assert.Equal(t, []string{cmd.Steps[0].ID}, cmd.Steps[1].DependsOn)
}

func TestBuildCompoundPatternCarriesParameters(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	cmd, ok := b.Build("create a report about quarterly sales as a pdf and email it to bob@example.com")
	require.True(t, ok)
	assert.Equal(t, Sequential, cmd.Type)
	require.Len(t, cmd.Steps, 2)

	assert.Equal(t, classifier.IntentGenerateDocument, cmd.Steps[0].Intent)
	assert.Equal(t, "quarterly sales", cmd.Steps[0].Parameters["content"].AsString())
	assert.Equal(t, "pdf", cmd.Steps[0].Parameters["format"].AsString())

	assert.Equal(t, classifier.IntentSendEmail, cmd.Steps[1].Intent)
	assert.Equal(t, "bob@example.com", cmd.Steps[1].Parameters["to"].AsString())
	assert.Equal(t, []string{cmd.Steps[0].ID}, cmd.Steps[1].DependsOn)

	cmd, ok = b.Build("search for gopher conferences and email the results to ann@example.com")
	require.True(t, ok)
	require.Len(t, cmd.Steps, 2)
	assert.Equal(t, classifier.IntentPerformSearch, cmd.Steps[0].Intent)
	assert.Equal(t, "gopher conferences", cmd.Steps[0].Parameters["query"].AsString())
	assert.Equal(t, "ann@example.com", cmd.Steps[1].Parameters["to"].AsString())
}

func TestBuildSingleCommandIsNotAChain(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	_, ok := b.Build("create a document about sales")
	assert.False(t, ok)
}

func TestAmbiguousAndRequiresActionableSegments(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	// "cats and dogs" is one search, not a chain.
	_, ok := b.Build("search for cats and dogs")
	assert.False(t, ok)

	cmd, ok := b.Build("search for cats and what's the weather in Oslo")
	require.True(t, ok)
	assert.Len(t, cmd.Steps, 2)
}

func TestBuildParallelChain(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	cmd, ok := b.Build("search for flights while what's the weather in Paris")
	require.True(t, ok)
	assert.Equal(t, Parallel, cmd.Type)
	for _, s := range cmd.Steps {
		assert.Empty(t, s.DependsOn, "parallel steps carry no ordering edges")
	}
}

func TestBuildConditionalChain(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	cmd, ok := b.Build("search for cats then if that works what's the weather in Oslo")
	require.True(t, ok)
	assert.Equal(t, Conditional, cmd.Type)
	require.Len(t, cmd.Steps, 2)
	assert.False(t, cmd.Steps[0].Conditional)
	assert.True(t, cmd.Steps[1].Conditional)

	cmd, ok = b.Build("search for cats then when it succeeds what's the weather in Oslo")
	require.True(t, ok)
	assert.Equal(t, Conditional, cmd.Type)
	assert.True(t, cmd.Steps[1].Conditional)

	cmd, ok = b.Build("search for cats then unless that fails what's the weather in Oslo")
	require.True(t, ok)
	assert.True(t, cmd.Steps[1].Conditional)
}

func TestBuildLoopChain(t *testing.T) {
	b := NewBuilder(classifier.New(classifier.Config{}), 0.6)

	cmd, ok := b.Build("search for cats three times")
	require.True(t, ok)
	assert.Equal(t, Loop, cmd.Type)
	assert.Equal(t, 3, cmd.LoopCount)
	require.Len(t, cmd.Steps, 1)
}

func TestValidateRejectsCycle(t *testing.T) {
	a := step(classifier.IntentPerformSearch, "a", pkg.Params{"query": pkg.StringValue("x")})
	b := step(classifier.IntentPerformSearch, "b", pkg.Params{"query": pkg.StringValue("y")})
	a.DependsOn = []string{b.ID}
	b.DependsOn = []string{a.ID}

	cmd := &Command{ID: uuid.NewString(), Type: Sequential, Ordering: Strict, Steps: []Step{a, b}}
	assert.ErrorIs(t, cmd.Validate(), ErrCyclicDependency)
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	a := step(classifier.IntentPerformSearch, "a", pkg.Params{"query": pkg.StringValue("x")})
	a.DependsOn = []string{"missing"}
	cmd := &Command{ID: uuid.NewString(), Type: Sequential, Ordering: Strict, Steps: []Step{a}}
	assert.Error(t, cmd.Validate())
}

func TestSequentialStrictAbortsOnFailure(t *testing.T) {
	orch, _, fakes := testHarness(t)
	fakes["web_search"].fail = true

	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Sequential,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			step(classifier.IntentQueryWeather, "weather in Oslo", pkg.Params{"location": pkg.StringValue("Oslo")}),
		},
	}
	res, err := orch.Execute(context.Background(), "conv-strict", cmd)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.ChainResults, 2)
	assert.False(t, res.ChainResults[0].Success)
	assert.True(t, res.ChainResults[1].Skipped)
	assert.Equal(t, 0, fakes["weather_service"].count())
	assert.Equal(t, string(dialogue.StateError), res.SessionState, "the failed step's dialogue state is reported")
}

func TestSequentialFlexibleContinuesOnFailure(t *testing.T) {
	orch, _, fakes := testHarness(t)
	fakes["web_search"].fail = true

	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Sequential,
		Ordering: Flexible,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			step(classifier.IntentQueryWeather, "weather in Oslo", pkg.Params{"location": pkg.StringValue("Oslo")}),
		},
	}
	res, err := orch.Execute(context.Background(), "conv-flex", cmd)
	require.NoError(t, err)
	require.Len(t, res.ChainResults, 2)
	assert.False(t, res.ChainResults[0].Success)
	assert.True(t, res.ChainResults[1].Success)
	assert.Equal(t, 1, fakes["weather_service"].count())
}

func TestConditionalStepSkippedWhenPreviousFails(t *testing.T) {
	orch, _, fakes := testHarness(t)
	fakes["web_search"].fail = true

	second := step(classifier.IntentQueryWeather, "weather in Oslo", pkg.Params{"location": pkg.StringValue("Oslo")})
	second.Conditional = true
	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Conditional,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			second,
		},
	}
	res, err := orch.Execute(context.Background(), "conv-cond", cmd)
	require.NoError(t, err)
	assert.True(t, res.ChainResults[1].Skipped)
	assert.Equal(t, 0, fakes["weather_service"].count())
}

func TestConditionalChainStopsAfterFailedCondition(t *testing.T) {
	orch, _, fakes := testHarness(t)
	fakes["web_search"].fail = true

	second := step(classifier.IntentQueryWeather, "weather in Oslo", pkg.Params{"location": pkg.StringValue("Oslo")})
	second.Conditional = true
	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Conditional,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			second,
			step(classifier.IntentQueryNews, "news about tech", pkg.Params{"topic": pkg.StringValue("tech")}),
		},
	}
	res, err := orch.Execute(context.Background(), "conv-cond-stop", cmd)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.ChainResults, 3)
	assert.False(t, res.ChainResults[0].Success)
	assert.True(t, res.ChainResults[1].Skipped)
	assert.True(t, res.ChainResults[2].Skipped, "steps after a failed condition must not run")
	assert.Equal(t, 0, fakes["weather_service"].count())
	assert.Equal(t, 0, fakes["news_service"].count())
}

func TestParallelWallTimeIsSlowestBranch(t *testing.T) {
	orch, _, fakes := testHarness(t)
	for _, f := range fakes {
		f.delay = 100 * time.Millisecond
	}

	cmd := &Command{
		ID:   uuid.NewString(),
		Type: Parallel,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			step(classifier.IntentQueryWeather, "weather in Oslo", pkg.Params{"location": pkg.StringValue("Oslo")}),
			step(classifier.IntentQueryNews, "news about tech", pkg.Params{"topic": pkg.StringValue("tech")}),
		},
	}
	start := time.Now()
	res, err := orch.Execute(context.Background(), "conv-par", cmd)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 280*time.Millisecond, "branches must run concurrently")
}

func TestChainContextPropagatesParameters(t *testing.T) {
	orch, _, fakes := testHarness(t)
	_ = fakes

	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Sequential,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentGenerateDocument, "create a report about sales", pkg.Params{
				"content": pkg.StringValue("sales"),
				"format":  pkg.FormatValue("pdf"),
			}),
			step(classifier.IntentSendEmail, "email it to bob@example.com", pkg.Params{
				"to":      pkg.EmailValue("bob@example.com"),
				"subject": pkg.StringValue("report"),
			}),
		},
	}
	res, err := orch.Execute(context.Background(), "conv-ctx", cmd)
	require.NoError(t, err)
	assert.True(t, res.Success, "body should be inherited from the document content: %s", res.Message)
}

func TestLoopRunsStepsRepeatedly(t *testing.T) {
	orch, _, fakes := testHarness(t)

	cmd := &Command{
		ID:        uuid.NewString(),
		Type:      Loop,
		Ordering:  Strict,
		LoopCount: 3,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
		},
	}
	res, err := orch.Execute(context.Background(), "conv-loop", cmd)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, fakes["web_search"].count())
	assert.Len(t, res.ChainResults, 3)
}

func TestPauseAndResumeMidChain(t *testing.T) {
	orch, _, fakes := testHarness(t)

	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Sequential,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentPerformSearch, "search for cats", pkg.Params{"query": pkg.StringValue("cats")}),
			// Missing the to/subject/body parameters entirely.
			step(classifier.IntentSendEmail, "email the results", pkg.Params{}),
		},
	}
	ctx := context.Background()
	res, err := orch.Execute(ctx, "conv-pause", cmd)
	require.NoError(t, err)
	assert.True(t, res.NeedsUserInput)
	assert.True(t, orch.HasParked("conv-pause"))

	res, handled := orch.Resume(ctx, "conv-pause", "bob@example.com")
	require.True(t, handled)
	assert.True(t, res.NeedsUserInput, "still missing subject")

	res, handled = orch.Resume(ctx, "conv-pause", "search results")
	require.True(t, handled)
	assert.True(t, res.NeedsUserInput, "still missing body")

	res, handled = orch.Resume(ctx, "conv-pause", "see attached results")
	require.True(t, handled)
	assert.True(t, res.Success)
	assert.False(t, orch.HasParked("conv-pause"))
	assert.Equal(t, 1, fakes["email_sender"].count())
}

func TestResumeCancelAbandonsChain(t *testing.T) {
	orch, _, _ := testHarness(t)

	cmd := &Command{
		ID:       uuid.NewString(),
		Type:     Sequential,
		Ordering: Strict,
		Steps: []Step{
			step(classifier.IntentSendEmail, "email someone", pkg.Params{}),
		},
	}
	ctx := context.Background()
	res, err := orch.Execute(ctx, "conv-abandon", cmd)
	require.NoError(t, err)
	require.True(t, res.NeedsUserInput)

	res, handled := orch.Resume(ctx, "conv-abandon", "cancel")
	require.True(t, handled)
	assert.Contains(t, res.Message, "abandoned")
	assert.False(t, orch.HasParked("conv-abandon"))
}
