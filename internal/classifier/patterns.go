package classifier

import (
	"regexp"

	"voicecore/pkg"
)

// Extractor pulls one typed parameter out of the raw utterance. Patterns are
// tried in order; the first capturing match wins.
type Extractor struct {
	Name     string
	Kind     pkg.ParamKind
	Patterns []*regexp.Regexp
	Required bool
}

// IntentPattern is the declarative rule set for one intent: keywords,
// example phrases, contextual hint words, parameter extractors and a static
// weight. Kept as data so the rule set stays testable independent of the
// matching engine.
type IntentPattern struct {
	Intent         Intent
	Keywords       []string
	Phrases        []string
	Hints          []string
	Extractors     []Extractor
	Weight         float64
	RequiredParams []string // fixed collection order for the dialogue manager
	Undoable       bool
	UndoMessage    string // user-facing explanation when reversal is unsupported
}

func rx(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// DefaultPatterns returns the built-in intent rule set.
func DefaultPatterns() []IntentPattern {
	return []IntentPattern{
		{
			Intent:   IntentGenerateDocument,
			Keywords: []string{"create", "generate", "make", "write", "document", "report", "file"},
			Phrases: []string{
				"create a document", "generate a document", "make a document",
				"write a report", "create a report", "generate a report",
			},
			Hints: []string{"about", "regarding", "titled"},
			Extractors: []Extractor{
				{
					Name: "content", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:about|regarding|on)\s+(.+?)(?:\s+(?:as|in)\s+(?:an?\s+)?(?:pdf|docx|doc|txt|html|markdown|md)(?:\s+format)?)?$`),
				},
				{
					Name: "format", Kind: pkg.ParamFormat, Required: true,
					Patterns: rx(`\b(pdf|docx|doc|txt|html|markdown|md)\b`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"content", "format"},
			Undoable:       true,
		},
		{
			Intent:   IntentSendEmail,
			Keywords: []string{"send", "email", "mail", "message", "compose"},
			Phrases:  []string{"send an email", "send a mail", "write an email", "email it"},
			Hints:    []string{"to", "subject", "saying"},
			Extractors: []Extractor{
				{
					Name: "to", Kind: pkg.ParamEmail, Required: true,
					Patterns: rx(`to\s+([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`, `([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`),
				},
				{
					Name: "subject", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:subject|titled)\s+"?([^"]+?)"?$`),
				},
				{
					Name: "body", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`saying\s+(.+)$`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"to", "subject", "body"},
			Undoable:       false,
			UndoMessage:    "A sent email cannot be recalled.",
		},
		{
			Intent:   IntentScheduleEvent,
			Keywords: []string{"schedule", "meeting", "event", "appointment", "calendar", "book"},
			Phrases:  []string{"schedule a meeting", "book a meeting", "schedule an event", "set up a meeting"},
			Hints:    []string{"at", "on", "with", "tomorrow"},
			Extractors: []Extractor{
				{
					Name: "title", Kind: pkg.ParamString, Required: true,
					Patterns: rx(
						`(?:meeting|event|appointment|call)\s+(?:about|with|for)\s+(.+?)(?:\s+(?:at|on)\s+.+)?$`,
						`schedule\s+(?:an?\s+)?(.+?)(?:\s+(?:at|on)\s+.+)?$`,
					),
				},
				{
					Name: "start_time", Kind: pkg.ParamDate, Required: true,
					Patterns: rx(`\b(?:at|on)\s+(.+?)\s*$`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"title", "start_time"},
			Undoable:       true,
		},
		{
			Intent:   IntentPerformSearch,
			Keywords: []string{"search", "find", "look", "google", "lookup"},
			Phrases:  []string{"search for", "look up", "look for", "find information"},
			Hints:    []string{"for", "about"},
			Extractors: []Extractor{
				{
					Name: "query", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:search|look up|look|find|google)\s+(?:for\s+)?(.+?)\??$`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"query"},
			Undoable:       false,
			UndoMessage:    "A search has no side effects to undo.",
		},
		{
			Intent:   IntentUploadFile,
			Keywords: []string{"upload", "attach", "file", "share"},
			Phrases:  []string{"upload a file", "upload the file", "attach the file"},
			Hints:    []string{"to", "from"},
			Extractors: []Extractor{
				{
					Name: "file_path", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:upload|attach)\s+(?:the\s+file\s+|the\s+|a\s+file\s+)?(\S+\.\w{1,5})`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"file_path"},
			Undoable:       true,
		},
		{
			Intent:   IntentSetReminder,
			Keywords: []string{"remind", "reminder", "remember", "alert"},
			Phrases:  []string{"remind me", "set a reminder", "set an alert"},
			Hints:    []string{"at", "in", "tomorrow"},
			Extractors: []Extractor{
				{
					Name: "text", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`remind\s+me\s+(?:to\s+)?(.+?)(?:\s+(?:at|in|on)\s+.+)?$`, `reminder\s+(?:to\s+|for\s+)?(.+?)(?:\s+(?:at|in|on)\s+.+)?$`),
				},
				{
					Name: "remind_at", Kind: pkg.ParamDate, Required: true,
					Patterns: rx(`\b(?:at|in|on)\s+(.+?)\s*$`),
				},
			},
			Weight:         1.0,
			RequiredParams: []string{"text", "remind_at"},
			Undoable:       true,
		},
		{
			Intent:   IntentQueryWeather,
			Keywords: []string{"weather", "forecast", "temperature", "rain", "sunny"},
			Phrases:  []string{"what is the weather", "what's the weather", "weather forecast"},
			Hints:    []string{"in", "today", "tomorrow"},
			Extractors: []Extractor{
				{
					Name: "location", Kind: pkg.ParamString,
					Patterns: rx(`(?:weather|forecast|temperature)\s+(?:in|for|at)\s+(.+?)\??$`),
				},
			},
			Weight:      0.9,
			Undoable:    false,
			UndoMessage: "A weather query has no side effects to undo.",
		},
		{
			Intent:   IntentQueryNews,
			Keywords: []string{"news", "headlines", "articles", "stories"},
			Phrases:  []string{"latest news", "show me the news", "news headlines"},
			Hints:    []string{"about", "today"},
			Extractors: []Extractor{
				{
					Name: "topic", Kind: pkg.ParamString,
					Patterns: rx(`news\s+(?:about|on)\s+(.+?)\??$`),
				},
			},
			Weight:      0.9,
			Undoable:    false,
			UndoMessage: "A news query has no side effects to undo.",
		},
		{
			Intent:   IntentCalculate,
			Keywords: []string{"calculate", "compute", "plus", "minus", "times", "divided", "sum"},
			Phrases:  []string{"calculate", "what is", "how much is"},
			Hints:    []string{"percent", "of"},
			Extractors: []Extractor{
				{
					Name: "expression", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:calculate|compute|how much is|what(?:'s|\s+is))\s+(.+?)\??$`, `^([\d\s.+\-*/()%]+)$`),
				},
			},
			Weight:         0.9,
			RequiredParams: []string{"expression"},
			Undoable:       false,
			UndoMessage:    "A calculation has no side effects to undo.",
		},
		{
			Intent:   IntentTranslate,
			Keywords: []string{"translate", "translation", "spanish", "french", "german", "english"},
			Phrases:  []string{"translate this", "translate to"},
			Hints:    []string{"to", "into"},
			Extractors: []Extractor{
				{
					Name: "text", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`translate\s+"?(.+?)"?\s+(?:to|into)\s+\w+$`, `translate\s+"?(.+?)"?$`),
				},
				{
					Name: "target_language", Kind: pkg.ParamString, Required: true,
					Patterns: rx(`(?:to|into)\s+(\w+)$`),
				},
			},
			Weight:         0.9,
			RequiredParams: []string{"text", "target_language"},
			Undoable:       false,
			UndoMessage:    "A translation has no side effects to undo.",
		},
		{
			Intent:      IntentGeneral,
			Keywords:    []string{"hello", "hi", "hey", "thanks", "thank", "goodbye", "bye", "help"},
			Phrases:     []string{"good morning", "good evening", "how are you", "what can you do"},
			Weight:      0.8,
			Undoable:    false,
			UndoMessage: "There is nothing to undo for small talk.",
		},
	}
}

// patternsByIntent indexes the default rule set for lookup.
var patternsByIntent = func() map[Intent]IntentPattern {
	out := make(map[Intent]IntentPattern)
	for _, p := range DefaultPatterns() {
		out[p.Intent] = p
	}
	return out
}()

// PatternFor returns the rule entry for an intent. The second return is
// false for unknown.
func PatternFor(intent Intent) (IntentPattern, bool) {
	p, ok := patternsByIntent[intent]
	return p, ok
}

// RequiredParams returns the fixed parameter collection order for an intent.
func RequiredParams(intent Intent) []string {
	if p, ok := patternsByIntent[intent]; ok {
		return p.RequiredParams
	}
	return nil
}

// Undoable reports whether executions of this intent can be reversed, and
// the user-facing message when they cannot.
func Undoable(intent Intent) (bool, string) {
	if p, ok := patternsByIntent[intent]; ok {
		return p.Undoable, p.UndoMessage
	}
	return false, "Nothing to undo for this command."
}
