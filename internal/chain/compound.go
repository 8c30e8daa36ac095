package chain

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"voicecore/internal/classifier"
	"voicecore/pkg"
)

// compoundParam binds one capture group of a compound pattern to a typed
// step parameter. Empty captures leave the parameter absent so the
// orchestrator collects it.
type compoundParam struct {
	name  string
	group int
	kind  pkg.ParamKind
}

// compoundStep is one sub-command of a compound pattern. The utterance
// template may reference capture groups as $1, $2, ...
type compoundStep struct {
	intent    classifier.Intent
	utterance string
	params    []compoundParam
}

// compoundPattern recognizes a whole multi-intent utterance in one match,
// carrying its parameters directly instead of re-classifying each segment.
// Checked before the generic cue splitting. Kept as data, like the
// classifier's intent rule set.
type compoundPattern struct {
	rx    *regexp.Regexp
	steps []compoundStep
}

const emailRx = `([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`

var compoundPatterns = []compoundPattern{
	{
		// "create a report about X [as a pdf] and [then] email it to Y"
		rx: regexp.MustCompile(`(?i)^(?:create|write|generate|make)\s+(?:a\s+|an\s+)?(?:report|document)\s+(?:about|on|regarding)\s+(.+?)(?:\s+(?:as|in)\s+(?:a\s+|an\s+)?(pdf|docx|doc|txt|html|markdown|md))?\s+and\s+(?:then\s+)?(?:email|send)\s+(?:it|that)\s+to\s+` + emailRx + `$`),
		steps: []compoundStep{
			{
				intent:    classifier.IntentGenerateDocument,
				utterance: "create a document about $1",
				params: []compoundParam{
					{name: "content", group: 1, kind: pkg.ParamString},
					{name: "format", group: 2, kind: pkg.ParamFormat},
				},
			},
			{
				intent:    classifier.IntentSendEmail,
				utterance: "email it to $3",
				params: []compoundParam{
					{name: "to", group: 3, kind: pkg.ParamEmail},
				},
			},
		},
	},
	{
		// "search for X and [then] email the results to Y"
		rx: regexp.MustCompile(`(?i)^(?:search|look up|google)\s+(?:for\s+)?(.+?)\s+and\s+(?:then\s+)?(?:email|send)\s+(?:the\s+)?(?:results?|it|that)\s+to\s+` + emailRx + `$`),
		steps: []compoundStep{
			{
				intent:    classifier.IntentPerformSearch,
				utterance: "search for $1",
				params: []compoundParam{
					{name: "query", group: 1, kind: pkg.ParamString},
				},
			},
			{
				intent:    classifier.IntentSendEmail,
				utterance: "email the results to $2",
				params: []compoundParam{
					{name: "to", group: 2, kind: pkg.ParamEmail},
				},
			},
		},
	},
}

// buildCompound matches the utterance against the compound-pattern table and
// assembles a sequential chain with the captured parameters.
func buildCompound(text string) (*Command, bool) {
	for _, p := range compoundPatterns {
		m := p.rx.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		steps := make([]Step, 0, len(p.steps))
		for i, cs := range p.steps {
			params := pkg.Params{}
			for _, cp := range cs.params {
				raw := strings.TrimSpace(m[cp.group])
				if raw == "" {
					continue
				}
				if v, ok := classifier.CoerceValue(cp.kind, raw); ok {
					params[cp.name] = v
				}
			}
			step := Step{
				ID:         uuid.NewString(),
				Utterance:  expandGroups(cs.utterance, m),
				Intent:     cs.intent,
				Parameters: params,
			}
			if i > 0 {
				step.DependsOn = []string{steps[i-1].ID}
			}
			steps = append(steps, step)
		}
		return &Command{
			ID:        uuid.NewString(),
			Type:      Sequential,
			Ordering:  Strict,
			Steps:     steps,
			LoopCount: 1,
		}, true
	}
	return nil, false
}

func expandGroups(template string, groups []string) string {
	out := template
	for i := len(groups) - 1; i >= 1; i-- {
		out = strings.ReplaceAll(out, "$"+strconv.Itoa(i), groups[i])
	}
	return strings.TrimSpace(out)
}
