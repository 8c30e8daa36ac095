package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"voicecore/internal/chain"
	"voicecore/internal/classifier"
	"voicecore/internal/config"
	"voicecore/internal/dialogue"
	"voicecore/internal/history"
	"voicecore/internal/logger"
	"voicecore/internal/storage"
	"voicecore/internal/tools"
	"voicecore/pkg"
)

// Assistant is the top-level facade. One utterance goes in, one
// ProcessingResult comes out; everything else is internal routing.
type Assistant struct {
	nlu      *classifier.Classifier
	registry *tools.Registry
	dlg      *dialogue.Manager
	chains   *chain.Builder
	orch     *chain.Orchestrator
	hist     *history.Manager
	store    storage.ConversationStore

	confidenceThreshold float64
}

// New wires the full pipeline from configuration. The registry comes
// pre-loaded with the built-in tools; callers may register more.
func New(cfg *config.Config, store storage.ConversationStore) *Assistant {
	registry := tools.NewBuiltinRegistry()
	nlu := classifier.New(classifier.Config{
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
		FallbackThreshold:   cfg.Classifier.FallbackThreshold,
		CacheTTL:            cfg.Classifier.CacheTTL,
		MaxAlternatives:     cfg.Classifier.MaxAlternatives,
	})
	dlg := dialogue.NewManager(dialogue.Config{
		ToolTimeout:         cfg.Dialogue.ToolTimeout,
		QueueSize:           cfg.Dialogue.QueueSize,
		IdleTimeout:         cfg.Dialogue.IdleTimeout,
		HistoryLimit:        cfg.Dialogue.HistoryLimit,
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
		ContextTTL:          cfg.Redis.TTL,
	}, nlu, registry, store)
	hist := history.NewManager(history.Config{
		MaxRecords: cfg.History.MaxRecords,
		MaxUndo:    cfg.History.MaxUndo,
	}, registry)
	orch := chain.NewOrchestrator(dlg, registry, cfg.Dialogue.ToolTimeout)
	orch.OnExecuted = func(conversationID string, cmd pkg.Command, res *pkg.ToolResult) {
		hist.Record(conversationID, cmd, res)
	}
	return &Assistant{
		nlu:                 nlu,
		registry:            registry,
		dlg:                 dlg,
		chains:              chain.NewBuilder(nlu, cfg.Classifier.ConfidenceThreshold),
		orch:                orch,
		hist:                hist,
		store:               store,
		confidenceThreshold: cfg.Classifier.ConfidenceThreshold,
	}
}

// Registry exposes the tool registry for callers adding custom tools.
func (a *Assistant) Registry() *tools.Registry { return a.registry }

// Classifier exposes the intent classifier, e.g. for feedback submission.
func (a *Assistant) Classifier() *classifier.Classifier { return a.nlu }

var saveFavoriteRx = regexp.MustCompile(`(?i)^save (?:that|this|it) as (.+)$`)
var runFavoriteRx = regexp.MustCompile(`(?i)^run favorite (.+)$`)

// Process handles one user utterance for the conversation. Meta-commands
// such as undo and repeat are resolved before intent classification; a
// chain suspended for input consumes the utterance first.
func (a *Assistant) Process(ctx context.Context, conversationID, text string) (*pkg.ProcessingResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &pkg.ProcessingResult{
			Message:      "Say something like \"create a document about sales\".",
			SessionState: string(dialogue.StateIdle),
		}, nil
	}

	if res, handled := a.orch.Resume(ctx, conversationID, text); handled {
		return res, nil
	}

	snap, err := a.dlg.GetContext(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Undo and redo act on execution history, not on the current dialogue
	// turn, so they are honored in every state. The in-progress command,
	// if any, stays where it is.
	switch classifier.Normalize(text) {
	case "undo", "undo that", "undo the last command":
		res := a.undo(ctx)
		res.SessionState = string(snap.State)
		return res, nil
	case "redo", "redo that":
		res := a.redo(ctx)
		res.SessionState = string(snap.State)
		return res, nil
	}

	if snap.State.Terminal() {
		if res, handled := a.metaCommand(ctx, conversationID, text); handled {
			return res, nil
		}
		if cmd, ok := a.chains.Build(text); ok {
			return a.orch.Execute(ctx, conversationID, cmd)
		}
	}

	out, err := a.dlg.ProcessUtterance(ctx, conversationID, text)
	if err != nil {
		return nil, err
	}
	if out.Executed != nil {
		a.hist.Record(conversationID, *out.Executed, out.ToolResult)
	}
	return out.Result, nil
}

// metaCommand resolves utterances that act on the assistant itself rather
// than expressing a new command.
func (a *Assistant) metaCommand(ctx context.Context, conversationID, text string) (*pkg.ProcessingResult, bool) {
	norm := classifier.Normalize(text)
	switch norm {
	case "repeat", "repeat that", "do that again":
		return a.repeat(ctx, conversationID), true
	case "clear context", "start over", "forget everything":
		if err := a.dlg.ClearContext(ctx, conversationID); err != nil {
			return failure(err.Error()), true
		}
		a.orch.Abandon(conversationID)
		return success("Okay, I've cleared our conversation."), true
	case "stats", "show stats":
		return a.stats(), true
	case "favorites", "list favorites":
		return a.listFavorites(), true
	}
	if m := saveFavoriteRx.FindStringSubmatch(text); m != nil {
		return a.saveFavorite(strings.TrimSpace(m[1])), true
	}
	if m := runFavoriteRx.FindStringSubmatch(text); m != nil {
		return a.runFavorite(ctx, conversationID, strings.TrimSpace(m[1])), true
	}
	return nil, false
}

func (a *Assistant) undo(ctx context.Context) *pkg.ProcessingResult {
	res, err := a.hist.Undo(ctx)
	switch {
	case errors.Is(err, history.ErrNothingToUndo):
		return failure("There's nothing to undo.")
	case err != nil:
		logger.Error().Err(err).Msg("undo failed")
		return failure("Undo failed: " + err.Error())
	case !res.Success:
		return failure(res.Message)
	}
	return success(res.Message)
}

func (a *Assistant) redo(ctx context.Context) *pkg.ProcessingResult {
	res, err := a.hist.Redo(ctx)
	switch {
	case errors.Is(err, history.ErrNothingToRedo):
		return failure("There's nothing to redo.")
	case err != nil:
		logger.Error().Err(err).Msg("redo failed")
		return failure("Redo failed: " + err.Error())
	}
	return success(res.Message)
}

func (a *Assistant) repeat(ctx context.Context, conversationID string) *pkg.ProcessingResult {
	last, ok := a.hist.Last()
	if !ok {
		return failure("You haven't run anything yet.")
	}
	out, err := a.dlg.SubmitCommand(ctx, conversationID,
		classifier.Intent(last.Command.Intent), last.Command.Parameters, last.Command.Utterance)
	if err != nil {
		return failure("Repeat failed: " + err.Error())
	}
	if out.Executed != nil {
		a.hist.Record(conversationID, *out.Executed, out.ToolResult)
	}
	return out.Result
}

func (a *Assistant) saveFavorite(name string) *pkg.ProcessingResult {
	last, ok := a.hist.Last()
	if !ok {
		return failure("There's no command to save yet.")
	}
	a.hist.SaveFavorite(name, last.Command)
	return success(fmt.Sprintf("Saved %q as a favorite. Say \"run favorite %s\" to replay it.", name, name))
}

func (a *Assistant) runFavorite(ctx context.Context, conversationID, name string) *pkg.ProcessingResult {
	cmd, err := a.hist.Favorite(name)
	if err != nil {
		return failure(fmt.Sprintf("I don't have a favorite called %q.", name))
	}
	out, err := a.dlg.SubmitCommand(ctx, conversationID,
		classifier.Intent(cmd.Intent), cmd.Parameters, cmd.Utterance)
	if err != nil {
		return failure("Favorite failed: " + err.Error())
	}
	if out.Executed != nil {
		a.hist.Record(conversationID, *out.Executed, out.ToolResult)
	}
	return out.Result
}

func (a *Assistant) listFavorites() *pkg.ProcessingResult {
	names := a.hist.Favorites()
	if len(names) == 0 {
		return success("You have no favorites yet. Say \"save that as <name>\" after a command.")
	}
	sort.Strings(names)
	return success("Favorites: " + strings.Join(names, ", "))
}

func (a *Assistant) stats() *pkg.ProcessingResult {
	st := a.nlu.Stats()
	hist, undo, redo := a.hist.Depths()
	res := success(fmt.Sprintf(
		"Classified %d utterances (avg confidence %.2f, avg latency %.2fms). History %d, undo %d, redo %d.",
		st.Total, st.AvgConfidence, st.AvgLatencyMS, hist, undo, redo))
	res.Metadata = map[string]any{
		"classifier": st,
		"history":    hist,
		"undo":       undo,
		"redo":       redo,
	}
	return res
}

// ExportContext serializes the conversation's dialogue state as JSON.
func (a *Assistant) ExportContext(ctx context.Context, conversationID string) ([]byte, error) {
	return a.dlg.ExportContext(ctx, conversationID)
}

// Close stops accepting new utterances.
func (a *Assistant) Close() {
	a.dlg.Close()
}

func success(msg string) *pkg.ProcessingResult {
	return &pkg.ProcessingResult{Success: true, Message: msg, SessionState: string(dialogue.StateIdle)}
}

func failure(msg string) *pkg.ProcessingResult {
	return &pkg.ProcessingResult{Message: msg, SessionState: string(dialogue.StateIdle)}
}
