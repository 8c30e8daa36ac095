package pkg

import (
	"fmt"
	"strconv"
	"time"
)

// Shared envelope types for the voice-command core.

// ParamKind tags the concrete type carried by a ParamValue.
type ParamKind string

const (
	ParamString ParamKind = "string"
	ParamNumber ParamKind = "number"
	ParamDate   ParamKind = "date"
	ParamEmail  ParamKind = "email"
	ParamURL    ParamKind = "url"
	ParamFormat ParamKind = "format" // enumerated output format (pdf, docx, ...)
)

// ParamValue is a tagged-union value extracted from an utterance.
// Exactly one of Str/Num/Time is meaningful, selected by Kind.
type ParamValue struct {
	Kind ParamKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Time time.Time `json:"time,omitempty"`
}

func StringValue(s string) ParamValue  { return ParamValue{Kind: ParamString, Str: s} }
func NumberValue(n float64) ParamValue { return ParamValue{Kind: ParamNumber, Num: n} }
func DateValue(t time.Time) ParamValue { return ParamValue{Kind: ParamDate, Time: t} }
func EmailValue(s string) ParamValue   { return ParamValue{Kind: ParamEmail, Str: s} }
func URLValue(s string) ParamValue     { return ParamValue{Kind: ParamURL, Str: s} }
func FormatValue(s string) ParamValue  { return ParamValue{Kind: ParamFormat, Str: s} }

// AsString renders the value as text regardless of kind.
func (v ParamValue) AsString() string {
	switch v.Kind {
	case ParamNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ParamDate:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// AsNumber returns the numeric value when the kind carries one.
func (v ParamValue) AsNumber() (float64, bool) {
	if v.Kind == ParamNumber {
		return v.Num, true
	}
	return 0, false
}

// AsTime returns the time value when the kind carries one.
func (v ParamValue) AsTime() (time.Time, bool) {
	if v.Kind == ParamDate {
		return v.Time, true
	}
	return time.Time{}, false
}

// Params is a typed parameter map keyed by parameter name.
type Params map[string]ParamValue

// Clone returns a shallow copy safe for independent mutation.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MergedWith unions p with inherited values. Keys already present in p win.
func (p Params) MergedWith(inherited Params) Params {
	out := inherited.Clone()
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Strings flattens the map to plain strings, e.g. for tool argument encoding.
func (p Params) Strings() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v.AsString()
	}
	return out
}

// Command is a resolved, executable user command.
type Command struct {
	Intent     string `json:"intent"`
	ToolID     string `json:"tool_id"`
	Utterance  string `json:"utterance"`
	Parameters Params `json:"parameters"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s via %s (%d params)", c.Intent, c.ToolID, len(c.Parameters))
}

// ToolRequest is the invocation envelope dispatched to a tool backend.
type ToolRequest struct {
	ToolID         string `json:"tool_id"`
	Intent         string `json:"intent"`
	ConversationID string `json:"conversation_id"`
	Parameters     Params `json:"parameters"`
}

// ToolResult is the result envelope returned by a tool backend. The core
// does not interpret backend-specific Data fields beyond this envelope.
type ToolResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message"`
}

// StepResult reports one sub-command of a chained execution.
type StepResult struct {
	Index     int            `json:"index"`
	Utterance string         `json:"utterance"`
	Intent    string         `json:"intent"`
	Success   bool           `json:"success"`
	Skipped   bool           `json:"skipped"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProcessingResult is the outer contract returned to the UI layer. When
// NeedsUserInput is set the caller prompts the user and resubmits their
// reply as the next utterance for the same conversation id.
type ProcessingResult struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	NeedsUserInput   bool           `json:"needs_user_input"`
	SessionState     string         `json:"session_state"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	ChainResults     []StepResult   `json:"chain_results,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
