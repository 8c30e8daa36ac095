package dialogue

import (
	"time"

	"voicecore/internal/classifier"
	"voicecore/internal/logger"
	"voicecore/pkg"
)

// SessionState enumerates the per-conversation dialogue states.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateCollecting SessionState = "collectingParameters"
	StateConfirming SessionState = "awaitingConfirmation"
	StateExecuting  SessionState = "executing"
	StateError      SessionState = "error"
)

// Terminal reports whether the state accepts a fresh command.
func (s SessionState) Terminal() bool {
	return s == StateIdle || s == StateError
}

// InvocationRecord is one completed tool invocation kept in the bounded
// per-conversation history.
type InvocationRecord struct {
	Tool       string            `json:"tool"`
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters"`
	Message    string            `json:"message"`
	Success    bool              `json:"success"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
}

// ConversationContext is the dialogue state for one conversation id. It is
// owned by that conversation's worker goroutine; all mutation happens there.
type ConversationContext struct {
	ID            string             `json:"id"`
	State         SessionState       `json:"state"`
	CurrentIntent classifier.Intent  `json:"current_intent,omitempty"`
	CurrentTool   string             `json:"current_tool,omitempty"`
	Pending       pkg.Params         `json:"pending,omitempty"`
	Missing       []string           `json:"missing,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	History       []InvocationRecord `json:"history,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ExpiresAt     time.Time          `json:"expires_at,omitempty"`
}

func newContext(id string) *ConversationContext {
	return &ConversationContext{
		ID:      id,
		State:   StateIdle,
		Pending: pkg.Params{},
	}
}

// resetToIdle discards the in-progress command but keeps the history.
func (c *ConversationContext) resetToIdle() {
	c.State = StateIdle
	c.CurrentIntent = ""
	c.CurrentTool = ""
	c.Pending = pkg.Params{}
	c.Missing = nil
	c.LastError = ""
	c.UpdatedAt = time.Now()
}

// checkInvariant detects context corruption on read. An executing state
// without a current tool is defensively reset to idle, never trusted.
func (c *ConversationContext) checkInvariant() {
	if c.State == StateExecuting && c.CurrentTool == "" {
		logger.Warn().Str("conversation", c.ID).Msg("context corruption detected, resetting to idle")
		c.resetToIdle()
	}
	if !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt) {
		logger.Debug().Str("conversation", c.ID).Msg("context expired, resetting")
		expiry := c.ExpiresAt
		c.resetToIdle()
		c.History = nil
		c.ExpiresAt = expiry
	}
}

// snapshot returns a deep copy safe to hand out across goroutines.
func (c *ConversationContext) snapshot() *ConversationContext {
	cp := *c
	cp.Pending = c.Pending.Clone()
	cp.Missing = append([]string(nil), c.Missing...)
	cp.History = append([]InvocationRecord(nil), c.History...)
	return &cp
}

func (c *ConversationContext) appendRecord(rec InvocationRecord, limit int) {
	c.History = append(c.History, rec)
	if limit > 0 && len(c.History) > limit {
		c.History = c.History[len(c.History)-limit:]
	}
}
