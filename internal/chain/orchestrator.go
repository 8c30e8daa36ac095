package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"voicecore/internal/classifier"
	"voicecore/internal/dialogue"
	"voicecore/internal/logger"
	"voicecore/internal/tools"
	"voicecore/pkg"
)

// paramAliases maps a step's missing parameter to chain context keys that
// may satisfy it. "email it to bob" inherits the document body this way.
var paramAliases = map[string][]string{
	"body":    {"content", "output"},
	"subject": {"title", "content"},
	"text":    {"content", "output"},
	"content": {"output"},
}

// parked holds a chain suspended mid-execution waiting for user input.
type parked struct {
	cmd      *Command
	stepIdx  int
	loopIdx  int
	param    string
	chainCtx pkg.Params
	results  []pkg.StepResult
}

// Orchestrator executes chained commands. Sequential and conditional steps
// run through the dialogue manager so they serialize with the rest of the
// conversation; parallel branches invoke tools directly so their wall time
// is the slowest branch, not the sum.
type Orchestrator struct {
	dlg         *dialogue.Manager
	registry    *tools.Registry
	toolTimeout time.Duration

	// OnExecuted, when set, observes every successful step execution.
	OnExecuted func(conversationID string, cmd pkg.Command, res *pkg.ToolResult)

	mu     sync.Mutex
	parked map[string]*parked
}

func NewOrchestrator(dlg *dialogue.Manager, registry *tools.Registry, toolTimeout time.Duration) *Orchestrator {
	if toolTimeout == 0 {
		toolTimeout = 30 * time.Second
	}
	return &Orchestrator{
		dlg:         dlg,
		registry:    registry,
		toolTimeout: toolTimeout,
		parked:      make(map[string]*parked),
	}
}

// HasParked reports whether the conversation has a suspended chain.
func (o *Orchestrator) HasParked(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.parked[conversationID]
	return ok
}

// Abandon discards any suspended chain for the conversation.
func (o *Orchestrator) Abandon(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.parked[conversationID]; !ok {
		return false
	}
	delete(o.parked, conversationID)
	return true
}

// Execute runs the chain to completion or to the first step that needs
// user input, in which case the chain is parked for Resume.
func (o *Orchestrator) Execute(ctx context.Context, conversationID string, cmd *Command) (*pkg.ProcessingResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	logger.Info().
		Str("conversation", conversationID).
		Str("chain", cmd.ID).
		Str("type", string(cmd.Type)).
		Int("steps", len(cmd.Steps)).
		Msg("executing chain")

	if cmd.Type == Parallel {
		return o.runParallel(ctx, conversationID, cmd), nil
	}

	st := &parked{cmd: cmd, chainCtx: pkg.Params{}}
	return o.runFrom(ctx, conversationID, st), nil
}

// Resume feeds a user reply into a parked chain and continues execution.
func (o *Orchestrator) Resume(ctx context.Context, conversationID, text string) (*pkg.ProcessingResult, bool) {
	o.mu.Lock()
	st, ok := o.parked[conversationID]
	if ok {
		delete(o.parked, conversationID)
	}
	o.mu.Unlock()
	if !ok {
		return nil, false
	}

	norm := classifier.Normalize(text)
	if norm == "cancel" || norm == "stop" || norm == "never mind" {
		res := o.finish(ctx, conversationID, st.cmd, st.results, false)
		res.Message = "Okay, I've abandoned the rest of that chain. " + res.Message
		return res, true
	}

	step := &st.cmd.Steps[st.stepIdx]
	kind := paramKindFor(step.Intent, st.param)
	value, ok2 := classifier.CoerceValue(kind, strings.TrimSpace(text))
	if !ok2 {
		o.park(conversationID, st)
		return &pkg.ProcessingResult{
			Message:        fmt.Sprintf("Sorry, that doesn't look like a valid %s. Could you try again?", strings.ReplaceAll(st.param, "_", " ")),
			NeedsUserInput: true,
			SessionState:   string(dialogue.StateCollecting),
		}, true
	}
	step.Parameters[st.param] = value
	st.param = ""
	return o.runFrom(ctx, conversationID, st), true
}

// runFrom executes sequential, conditional and loop chains starting at the
// parked position.
func (o *Orchestrator) runFrom(ctx context.Context, conversationID string, st *parked) *pkg.ProcessingResult {
	cmd := st.cmd
	loops := cmd.LoopCount
	if loops < 1 {
		loops = 1
	}

	for ; st.loopIdx < loops; st.loopIdx++ {
		for ; st.stepIdx < len(cmd.Steps); st.stepIdx++ {
			step := &cmd.Steps[st.stepIdx]

			prevFailed := len(st.results) > 0 && !st.results[len(st.results)-1].Success && !st.results[len(st.results)-1].Skipped
			if step.Conditional && prevFailed {
				// A failed condition ends the chain. Nothing after the
				// conditional step runs either.
				st.results = append(st.results, pkg.StepResult{
					Index:     st.stepIdx,
					Utterance: step.Utterance,
					Intent:    string(step.Intent),
					Skipped:   true,
					Message:   "skipped: previous step failed",
				})
				o.skipRemaining(st, st.stepIdx+1)
				return o.finish(ctx, conversationID, cmd, st.results, false)
			}

			params := step.Parameters.MergedWith(st.chainCtx)
			params = resolveAliases(step.Intent, params, st.chainCtx)

			if missing := firstMissing(step.Intent, params); missing != "" {
				st.param = missing
				step.Parameters = params
				o.park(conversationID, st)
				return &pkg.ProcessingResult{
					NeedsUserInput: true,
					SessionState:   string(dialogue.StateCollecting),
					Message: fmt.Sprintf("For step %d (%s): what should the %s be?",
						st.stepIdx+1, strings.ReplaceAll(string(step.Intent), "_", " "),
						strings.ReplaceAll(missing, "_", " ")),
					ChainResults: append([]pkg.StepResult(nil), st.results...),
				}
			}

			out, err := o.dlg.SubmitCommand(ctx, conversationID, step.Intent, params, step.Utterance)
			res := stepResult(st.stepIdx, step, out, err)
			st.results = append(st.results, res)

			if res.Success {
				o.absorb(st.chainCtx, params, res.Data)
				if o.OnExecuted != nil && out != nil && out.Executed != nil {
					o.OnExecuted(conversationID, *out.Executed, out.ToolResult)
				}
			} else if cmd.Ordering == Strict && cmd.Type != Conditional {
				o.skipRemaining(st, st.stepIdx+1)
				return o.finish(ctx, conversationID, cmd, st.results, false)
			}
		}
		st.stepIdx = 0
	}
	ok := true
	for _, r := range st.results {
		if !r.Success && !r.Skipped {
			ok = false
		}
	}
	return o.finish(ctx, conversationID, cmd, st.results, ok)
}

// finish builds the chain summary carrying the conversation's real dialogue
// state, which a failed step may have left in error.
func (o *Orchestrator) finish(ctx context.Context, conversationID string, cmd *Command, results []pkg.StepResult, ok bool) *pkg.ProcessingResult {
	res := summarize(cmd, results, ok)
	if snap, err := o.dlg.GetContext(ctx, conversationID); err == nil {
		res.SessionState = string(snap.State)
	}
	return res
}

func (o *Orchestrator) runParallel(ctx context.Context, conversationID string, cmd *Command) *pkg.ProcessingResult {
	results := make([]pkg.StepResult, len(cmd.Steps))
	var wg sync.WaitGroup
	for i := range cmd.Steps {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			step := &cmd.Steps[idx]
			toolCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
			defer cancel()
			req := &pkg.ToolRequest{
				ToolID:         classifier.PreferredTool(step.Intent),
				Intent:         string(step.Intent),
				ConversationID: conversationID,
				Parameters:     step.Parameters.Clone(),
			}
			res, err := o.registry.Execute(toolCtx, req)
			sr := pkg.StepResult{Index: idx, Utterance: step.Utterance, Intent: string(step.Intent)}
			switch {
			case err != nil:
				sr.Message = err.Error()
			default:
				sr.Success = res.Success
				sr.Message = res.Message
				sr.Data = res.Data
				if res.Success && o.OnExecuted != nil {
					o.OnExecuted(conversationID, pkg.Command{
						Intent:     string(step.Intent),
						ToolID:     req.ToolID,
						Utterance:  step.Utterance,
						Parameters: req.Parameters,
					}, res)
				}
			}
			results[idx] = sr
		}(i)
	}
	wg.Wait()

	ok := true
	for _, r := range results {
		if !r.Success {
			ok = false
		}
	}
	return summarize(cmd, results, ok)
}

func (o *Orchestrator) park(conversationID string, st *parked) {
	o.mu.Lock()
	o.parked[conversationID] = st
	o.mu.Unlock()
}

func (o *Orchestrator) skipRemaining(st *parked, from int) {
	for i := from; i < len(st.cmd.Steps); i++ {
		step := st.cmd.Steps[i]
		st.results = append(st.results, pkg.StepResult{
			Index:     i,
			Utterance: step.Utterance,
			Intent:    string(step.Intent),
			Skipped:   true,
			Message:   "skipped: earlier step failed",
		})
	}
}

// absorb folds a completed step's inputs and outputs into the chain context
// so later steps can inherit them.
func (o *Orchestrator) absorb(chainCtx pkg.Params, params pkg.Params, data map[string]any) {
	for k, v := range params {
		chainCtx[k] = v
	}
	for k, v := range data {
		if s, ok := v.(string); ok && s != "" {
			chainCtx[k] = pkg.StringValue(s)
		}
	}
}

func resolveAliases(intent classifier.Intent, params, chainCtx pkg.Params) pkg.Params {
	for _, name := range classifier.RequiredParams(intent) {
		if _, ok := params[name]; ok {
			continue
		}
		for _, alias := range paramAliases[name] {
			if v, ok := chainCtx[alias]; ok {
				params[name] = v
				break
			}
		}
	}
	return params
}

func firstMissing(intent classifier.Intent, params pkg.Params) string {
	for _, name := range classifier.RequiredParams(intent) {
		if _, ok := params[name]; !ok {
			return name
		}
	}
	return ""
}

func paramKindFor(intent classifier.Intent, name string) pkg.ParamKind {
	if p, ok := classifier.PatternFor(intent); ok {
		for _, ex := range p.Extractors {
			if ex.Name == name {
				return ex.Kind
			}
		}
	}
	return pkg.ParamString
}

func stepResult(idx int, step *Step, out *dialogue.StepOutcome, err error) pkg.StepResult {
	sr := pkg.StepResult{Index: idx, Utterance: step.Utterance, Intent: string(step.Intent)}
	switch {
	case err != nil:
		sr.Message = err.Error()
	case out.Result != nil:
		sr.Success = out.Result.Success && out.Executed != nil
		sr.Message = out.Result.Message
		if out.ToolResult != nil {
			sr.Data = out.ToolResult.Data
		}
	}
	return sr
}

func summarize(cmd *Command, results []pkg.StepResult, ok bool) *pkg.ProcessingResult {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	msg := fmt.Sprintf("Completed %d of %d steps.", succeeded, len(results))
	if ok && succeeded == len(results) {
		msg = fmt.Sprintf("All %d steps completed.", len(results))
	}
	return &pkg.ProcessingResult{
		Success:      ok,
		Message:      msg,
		SessionState: string(dialogue.StateIdle),
		ChainResults: results,
		Metadata: map[string]any{
			"chain_id":   cmd.ID,
			"chain_type": string(cmd.Type),
		},
	}
}
