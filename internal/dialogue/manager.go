package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"voicecore/internal/classifier"
	"voicecore/internal/logger"
	"voicecore/internal/storage"
	"voicecore/internal/tools"
	"voicecore/pkg"
)

var ErrManagerClosed = errors.New("dialogue manager closed")

// Config tunes the dialogue manager.
type Config struct {
	ToolTimeout         time.Duration
	QueueSize           int
	IdleTimeout         time.Duration
	HistoryLimit        int
	ConfidenceThreshold float64
	// ContextTTL bounds how long an untouched context stays valid. It is
	// refreshed on every turn, matching the stored transcript's TTL.
	ContextTTL time.Duration
}

func (c *Config) withDefaults() {
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 16
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 20
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.ContextTTL == 0 {
		c.ContextTTL = 40 * time.Minute
	}
}

// StepOutcome is the result of one dialogue turn. Executed and ToolResult
// are set only when the turn actually ran a tool.
type StepOutcome struct {
	Result     *pkg.ProcessingResult
	Executed   *pkg.Command
	ToolResult *pkg.ToolResult
	StartedAt  time.Time
	EndedAt    time.Time
}

type reqKind int

const (
	reqUtterance reqKind = iota
	reqCommand
	reqGet
	reqClear
)

type request struct {
	ctx    context.Context
	kind   reqKind
	text   string
	intent classifier.Intent
	params pkg.Params
	resp   chan response
}

type response struct {
	outcome  *StepOutcome
	snapshot *ConversationContext
	err      error
}

// worker serializes all turns for one conversation id. The goroutine is
// started lazily and exits after IdleTimeout with an empty queue; the
// context survives until cleared or expired.
type worker struct {
	id       string
	requests chan request
	running  bool
	restored bool
	convo    *ConversationContext
}

// Manager routes each conversation's turns through a dedicated worker so
// ordering is strictly FIFO per conversation while distinct conversations
// proceed concurrently.
type Manager struct {
	cfg      Config
	nlu      *classifier.Classifier
	registry *tools.Registry
	store    storage.ConversationStore

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

func NewManager(cfg Config, nlu *classifier.Classifier, registry *tools.Registry, store storage.ConversationStore) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		nlu:      nlu,
		registry: registry,
		store:    store,
		workers:  make(map[string]*worker),
	}
}

// EnsureContext creates the conversation context if it does not exist.
func (m *Manager) EnsureContext(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.ensureWorkerLocked(conversationID)
	}
}

// ProcessUtterance runs one user turn through the conversation's state
// machine. The call blocks until the turn completes or ctx is done.
func (m *Manager) ProcessUtterance(ctx context.Context, conversationID, text string) (*StepOutcome, error) {
	resp, err := m.submit(ctx, conversationID, request{kind: reqUtterance, text: text})
	if err != nil {
		return nil, err
	}
	return resp.outcome, resp.err
}

// SubmitCommand runs an already-classified command through the conversation,
// skipping re-classification. Chain steps and replays enter here.
func (m *Manager) SubmitCommand(ctx context.Context, conversationID string, intent classifier.Intent, params pkg.Params, utterance string) (*StepOutcome, error) {
	resp, err := m.submit(ctx, conversationID, request{kind: reqCommand, text: utterance, intent: intent, params: params})
	if err != nil {
		return nil, err
	}
	return resp.outcome, resp.err
}

// GetContext returns a consistent snapshot of the conversation context.
func (m *Manager) GetContext(ctx context.Context, conversationID string) (*ConversationContext, error) {
	resp, err := m.submit(ctx, conversationID, request{kind: reqGet})
	if err != nil {
		return nil, err
	}
	return resp.snapshot, resp.err
}

// ExportContext serializes the conversation context snapshot as JSON.
func (m *Manager) ExportContext(ctx context.Context, conversationID string) ([]byte, error) {
	snap, err := m.GetContext(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

// ClearContext discards the conversation's dialogue state and stored
// snapshot. The clear is queued FIFO behind any in-flight turns.
func (m *Manager) ClearContext(ctx context.Context, conversationID string) error {
	_, err := m.submit(ctx, conversationID, request{kind: reqClear})
	return err
}

// Close stops accepting new requests. In-flight turns finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) submit(ctx context.Context, conversationID string, req request) (response, error) {
	req.ctx = ctx
	req.resp = make(chan response, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return response{}, ErrManagerClosed
	}
	w := m.ensureWorkerLocked(conversationID)
	m.mu.Unlock()

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	// Kick after enqueue so the request is either drained by a live
	// worker or picked up by the goroutine started here.
	m.mu.Lock()
	if !w.running && !m.closed {
		w.running = true
		go m.run(w)
	}
	m.mu.Unlock()

	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (m *Manager) ensureWorkerLocked(conversationID string) *worker {
	w := m.workers[conversationID]
	if w == nil {
		w = &worker{
			id:       conversationID,
			requests: make(chan request, m.cfg.QueueSize),
			convo:    newContext(conversationID),
		}
		m.workers[conversationID] = w
		logger.Debug().Str("conversation", conversationID).Msg("conversation worker created")
	}
	return w
}

func (m *Manager) run(w *worker) {
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case req := <-w.requests:
			m.handle(w, req)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(m.cfg.IdleTimeout)
		case <-idle.C:
			m.mu.Lock()
			if len(w.requests) == 0 {
				w.running = false
				m.mu.Unlock()
				logger.Debug().Str("conversation", w.id).Msg("conversation worker idle, stopping")
				return
			}
			m.mu.Unlock()
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

func (m *Manager) handle(w *worker, req request) {
	convo := w.convo
	if !w.restored {
		w.restored = true
		m.restoreSnapshot(req.ctx, w)
		convo = w.convo
	}
	convo.checkInvariant()

	var resp response
	switch req.kind {
	case reqGet:
		resp.snapshot = convo.snapshot()
	case reqClear:
		convo.resetToIdle()
		convo.History = nil
		if err := m.store.Delete(req.ctx, w.id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("conversation", w.id).Msg("failed to delete stored conversation")
		}
		// Drop the registry entry only when nothing else is queued, so a
		// single worker ever serves the conversation at a time.
		m.mu.Lock()
		if len(w.requests) == 0 {
			delete(m.workers, w.id)
		}
		m.mu.Unlock()
	case reqCommand:
		resp.outcome = m.stepCommand(req.ctx, convo, req.intent, req.params, req.text)
	default:
		resp.outcome = m.stepUtterance(req.ctx, convo, req.text)
	}
	convo.UpdatedAt = time.Now()
	convo.ExpiresAt = convo.UpdatedAt.Add(m.cfg.ContextTTL)
	if req.kind == reqUtterance || req.kind == reqCommand {
		if err := m.store.SaveSnapshot(req.ctx, w.id, convo.snapshot()); err != nil {
			logger.Warn().Err(err).Str("conversation", w.id).Msg("failed to persist context snapshot")
		}
	}
	req.resp <- resp
}

// restoreSnapshot rehydrates the dialogue context from the store on the
// conversation's first request after a restart. Expiry is re-checked by the
// caller through checkInvariant.
func (m *Manager) restoreSnapshot(ctx context.Context, w *worker) {
	var saved ConversationContext
	err := m.store.LoadSnapshot(ctx, w.id, &saved)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Str("conversation", w.id).Msg("failed to load context snapshot")
		return
	}
	if saved.ID != w.id {
		return
	}
	if saved.Pending == nil {
		saved.Pending = pkg.Params{}
	}
	w.convo = &saved
	logger.Debug().Str("conversation", w.id).Str("state", string(saved.State)).Msg("context restored from snapshot")
}

// stepUtterance advances the state machine by one user turn.
func (m *Manager) stepUtterance(ctx context.Context, convo *ConversationContext, text string) *StepOutcome {
	norm := classifier.Normalize(text)

	if isCancel(norm) && convo.State != StateIdle {
		convo.resetToIdle()
		return reply(convo, true, "Okay, I've cancelled that.", false)
	}

	switch convo.State {
	case StateCollecting:
		return m.collectParameter(ctx, convo, text)
	case StateConfirming:
		return m.resolveConfirmation(ctx, convo, norm)
	case StateError:
		return m.recoverFromError(ctx, convo, norm)
	case StateExecuting:
		// Unreachable through the worker queue, kept as a guard.
		return reply(convo, false, "I'm still working on your last request.", true)
	default:
		return m.startCommand(ctx, convo, text)
	}
}

// stepCommand runs a pre-classified command, entering collection only when
// required parameters are absent.
func (m *Manager) stepCommand(ctx context.Context, convo *ConversationContext, intent classifier.Intent, params pkg.Params, utterance string) *StepOutcome {
	if !convo.State.Terminal() {
		return reply(convo, false, "I'm in the middle of another request. Say cancel to discard it first.", true)
	}
	convo.resetToIdle()
	convo.CurrentIntent = intent
	convo.CurrentTool = classifier.PreferredTool(intent)
	convo.Pending = params.Clone()
	convo.Missing = missingOf(intent, convo.Pending)
	if len(convo.Missing) > 0 {
		convo.State = StateCollecting
		return reply(convo, true, promptFor(string(intent), convo.Missing[0]), true)
	}
	return m.execute(ctx, convo, utterance)
}

func (m *Manager) startCommand(ctx context.Context, convo *ConversationContext, text string) *StepOutcome {
	history, err := m.store.History(ctx, convo.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn().Err(err).Str("conversation", convo.ID).Msg("failed to load conversation history")
	}
	cl := m.nlu.ClassifyWithContext(text, history)

	m.recordTranscript(ctx, convo.ID, schema.UserMessage(text))

	if !cl.Actionable(m.cfg.ConfidenceThreshold) {
		out := reply(convo, false, clarificationFor(cl), true)
		out.Result.SuggestedActions = suggestionsFor(cl)
		out.Result.Metadata = map[string]any{
			"intent":     string(cl.Intent),
			"confidence": cl.Confidence,
		}
		return out
	}

	convo.CurrentIntent = cl.Intent
	convo.CurrentTool = classifier.PreferredTool(cl.Intent)
	convo.Pending = cl.Parameters.Clone()
	convo.Missing = append([]string(nil), cl.MissingParams...)

	if len(convo.Missing) > 0 {
		convo.State = StateCollecting
		return reply(convo, true, promptFor(string(cl.Intent), convo.Missing[0]), true)
	}
	return m.execute(ctx, convo, text)
}

func (m *Manager) collectParameter(ctx context.Context, convo *ConversationContext, text string) *StepOutcome {
	if len(convo.Missing) == 0 {
		convo.State = StateConfirming
		return reply(convo, true, confirmationFor(convo), true)
	}
	name := convo.Missing[0]
	kind := paramKind(convo.CurrentIntent, name)
	value, ok := classifier.CoerceValue(kind, strings.TrimSpace(text))
	if !ok {
		msg := fmt.Sprintf("Sorry, that doesn't look like a valid %s. %s",
			strings.ReplaceAll(name, "_", " "), promptFor(string(convo.CurrentIntent), name))
		return reply(convo, false, msg, true)
	}
	convo.Pending[name] = value
	convo.Missing = convo.Missing[1:]
	if len(convo.Missing) > 0 {
		return reply(convo, true, promptFor(string(convo.CurrentIntent), convo.Missing[0]), true)
	}
	convo.State = StateConfirming
	return reply(convo, true, confirmationFor(convo), true)
}

func (m *Manager) resolveConfirmation(ctx context.Context, convo *ConversationContext, norm string) *StepOutcome {
	switch {
	case isAffirmative(norm):
		return m.execute(ctx, convo, "")
	case isNegative(norm):
		convo.resetToIdle()
		return reply(convo, true, "Okay, I won't do that.", false)
	default:
		return reply(convo, false, "Please answer yes or no. "+confirmationFor(convo), true)
	}
}

func (m *Manager) recoverFromError(ctx context.Context, convo *ConversationContext, norm string) *StepOutcome {
	if isRetry(norm) {
		if convo.CurrentTool == "" {
			convo.resetToIdle()
			return reply(convo, false, "There's nothing to retry. What would you like to do?", false)
		}
		if len(convo.Missing) > 0 {
			convo.State = StateCollecting
			return reply(convo, true, promptFor(string(convo.CurrentIntent), convo.Missing[0]), true)
		}
		return m.execute(ctx, convo, "")
	}
	out := reply(convo, false, "The last command failed: "+convo.LastError+". Say try again or cancel.", true)
	out.Result.SuggestedActions = []string{"try again", "cancel"}
	return out
}

// execute invokes the current tool under the configured timeout. Pending
// parameters are retained on failure so a retry needs no re-collection.
func (m *Manager) execute(ctx context.Context, convo *ConversationContext, utterance string) *StepOutcome {
	convo.State = StateExecuting
	started := time.Now()

	toolCtx, cancel := context.WithTimeout(ctx, m.cfg.ToolTimeout)
	defer cancel()

	req := &pkg.ToolRequest{
		ToolID:         convo.CurrentTool,
		Intent:         string(convo.CurrentIntent),
		ConversationID: convo.ID,
		Parameters:     convo.Pending.Clone(),
	}
	res, err := m.registry.Execute(toolCtx, req)
	ended := time.Now()

	rec := InvocationRecord{
		Tool:       convo.CurrentTool,
		Intent:     string(convo.CurrentIntent),
		Parameters: convo.Pending.Strings(),
		StartedAt:  started,
		EndedAt:    ended,
	}

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		convo.State = StateError
		convo.LastError = fmt.Sprintf("%s timed out after %s", convo.CurrentTool, m.cfg.ToolTimeout)
		rec.Message = convo.LastError
		convo.appendRecord(rec, m.cfg.HistoryLimit)
		logger.Warn().Str("conversation", convo.ID).Str("tool", convo.CurrentTool).Msg("tool invocation timed out")
		out := reply(convo, false, "The "+friendlyTool(convo.CurrentTool)+" didn't respond in time. Say try again or cancel.", true)
		out.Result.SuggestedActions = []string{"try again", "cancel"}
		out.StartedAt, out.EndedAt = started, ended
		return out
	case err != nil:
		convo.State = StateError
		convo.LastError = err.Error()
		rec.Message = convo.LastError
		convo.appendRecord(rec, m.cfg.HistoryLimit)
		logger.Error().Err(err).Str("conversation", convo.ID).Str("tool", convo.CurrentTool).Msg("tool invocation failed")
		out := reply(convo, false, "Something went wrong: "+err.Error()+". Say try again or cancel.", true)
		out.Result.SuggestedActions = []string{"try again", "cancel"}
		out.StartedAt, out.EndedAt = started, ended
		return out
	case !res.Success:
		convo.State = StateError
		convo.LastError = res.Message
		rec.Message = res.Message
		convo.appendRecord(rec, m.cfg.HistoryLimit)
		out := reply(convo, false, res.Message+" Say try again or cancel.", true)
		out.Result.SuggestedActions = []string{"try again", "cancel"}
		out.StartedAt, out.EndedAt = started, ended
		return out
	}

	rec.Success = true
	rec.Message = res.Message
	convo.appendRecord(rec, m.cfg.HistoryLimit)

	cmd := &pkg.Command{
		Intent:     string(convo.CurrentIntent),
		ToolID:     convo.CurrentTool,
		Utterance:  utterance,
		Parameters: convo.Pending.Clone(),
	}
	convo.resetToIdle()

	m.recordTranscript(ctx, convo.ID, schema.AssistantMessage(res.Message, nil))

	out := reply(convo, true, res.Message, false)
	out.Executed = cmd
	out.ToolResult = res
	out.StartedAt, out.EndedAt = started, ended
	if res.Data != nil {
		out.Result.Metadata = res.Data
	}
	return out
}

func (m *Manager) recordTranscript(ctx context.Context, conversationID string, msg *schema.Message) {
	if err := m.store.AppendMessage(ctx, conversationID, msg); err != nil {
		logger.Warn().Err(err).Str("conversation", conversationID).Msg("failed to append transcript message")
	}
}

func reply(convo *ConversationContext, success bool, msg string, needsInput bool) *StepOutcome {
	return &StepOutcome{
		Result: &pkg.ProcessingResult{
			Success:        success,
			Message:        msg,
			NeedsUserInput: needsInput,
			SessionState:   string(convo.State),
		},
	}
}

func missingOf(intent classifier.Intent, have pkg.Params) []string {
	var missing []string
	for _, name := range classifier.RequiredParams(intent) {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func paramKind(intent classifier.Intent, name string) pkg.ParamKind {
	if p, ok := classifier.PatternFor(intent); ok {
		for _, ex := range p.Extractors {
			if ex.Name == name {
				return ex.Kind
			}
		}
	}
	return pkg.ParamString
}

func clarificationFor(cl *classifier.Classification) string {
	if len(cl.Alternatives) > 0 {
		return fmt.Sprintf("I'm not sure what you meant. Did you mean to %s?",
			strings.ReplaceAll(string(cl.Alternatives[0].Intent), "_", " "))
	}
	return "I'm not sure what you meant. Could you rephrase that?"
}

func suggestionsFor(cl *classifier.Classification) []string {
	var out []string
	for _, alt := range cl.Alternatives {
		out = append(out, strings.ReplaceAll(string(alt.Intent), "_", " "))
	}
	return out
}

// confirmationFor summarizes the pending command before execution.
func confirmationFor(convo *ConversationContext) string {
	params := convo.Pending.Strings()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s = %q", strings.ReplaceAll(name, "_", " "), params[name]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("I'll run the %s. Shall I proceed?", friendlyTool(convo.CurrentTool))
	}
	return fmt.Sprintf("I'll run the %s with %s. Shall I proceed?",
		friendlyTool(convo.CurrentTool), strings.Join(parts, ", "))
}

func friendlyTool(toolID string) string {
	return strings.ReplaceAll(toolID, "_", " ")
}
