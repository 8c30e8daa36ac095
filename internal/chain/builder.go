package chain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"voicecore/internal/classifier"
	"voicecore/pkg"
)

var ErrCyclicDependency = errors.New("chain has cyclic step dependencies")

// Type selects the execution strategy for a chained command.
type Type string

const (
	Sequential  Type = "sequential"
	Parallel    Type = "parallel"
	Conditional Type = "conditional"
	Loop        Type = "loop"
)

// Ordering controls failure handling for sequential chains. Strict aborts
// the remaining steps on the first failure, flexible keeps going.
type Ordering string

const (
	Strict   Ordering = "strict"
	Flexible Ordering = "flexible"
)

// Step is one sub-command of a chain. DependsOn lists step ids that must
// complete before this step may run.
type Step struct {
	ID          string            `json:"id"`
	Utterance   string            `json:"utterance"`
	Intent      classifier.Intent `json:"intent"`
	Parameters  pkg.Params        `json:"parameters"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Conditional bool              `json:"conditional,omitempty"`
}

// Command is a validated multi-step command ready for orchestration.
type Command struct {
	ID        string   `json:"id"`
	Type      Type     `json:"type"`
	Ordering  Ordering `json:"ordering"`
	Steps     []Step   `json:"steps"`
	LoopCount int      `json:"loop_count,omitempty"`
}

// Validate checks the dependency graph is acyclic and references only
// known steps.
func (c *Command) Validate() error {
	byID := make(map[string]*Step, len(c.Steps))
	for i := range c.Steps {
		byID[c.Steps[i].ID] = &c.Steps[i]
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(c.Steps))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return ErrCyclicDependency
		case black:
			return nil
		}
		step, ok := byID[id]
		if !ok {
			return errors.New("chain step depends on unknown step " + id)
		}
		color[id] = gray
		for _, dep := range step.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for i := range c.Steps {
		if err := visit(c.Steps[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// Builder detects and splits compound utterances into chained commands.
type Builder struct {
	nlu       *classifier.Classifier
	threshold float64
}

func NewBuilder(nlu *classifier.Classifier, confidenceThreshold float64) *Builder {
	if confidenceThreshold == 0 {
		confidenceThreshold = 0.6
	}
	return &Builder{nlu: nlu, threshold: confidenceThreshold}
}

var (
	sequentialSeps = []string{" and then ", " then ", " after that ", " and also ", "; "}
	parallelSeps   = []string{" while ", " and simultaneously ", " and at the same time ", " in parallel with "}
	conditionalRx  = regexp.MustCompile(`(?i)^(?:and )?(?:(?:if|when) (?:that|it) (?:works|worked|succeeds|succeeded|is successful)|unless (?:that|it) (?:fails|failed)),?\s*`)
	loopRx         = regexp.MustCompile(`(?i)\b(?:(\d+)|two|three|four|five) times\b|\btwice\b`)
	ambiguousAnd   = " and "
)

// Detect reports whether the utterance looks like a compound command. The
// ambiguous "and" connector is only treated as a chain split when every
// resulting segment classifies as an actionable command on its own.
func (b *Builder) Detect(text string) bool {
	_, ok := b.Build(text)
	return ok
}

// Build splits a compound utterance into a validated chain. Compound
// patterns match first, with their parameters captured directly; generic
// cue splitting re-classifies each segment. It returns false when the text
// is a single command.
func (b *Builder) Build(text string) (*Command, bool) {
	if cmd, ok := buildCompound(classifier.Normalize(text)); ok {
		return cmd, true
	}
	norm := " " + classifier.Normalize(text) + " "

	chainType := Sequential
	var segments []string
	for _, sep := range parallelSeps {
		if strings.Contains(norm, sep) {
			segments = splitAll(norm, parallelSeps)
			chainType = Parallel
			break
		}
	}
	if segments == nil {
		for _, sep := range sequentialSeps {
			if strings.Contains(norm, sep) {
				segments = splitAll(norm, sequentialSeps)
				break
			}
		}
	}
	if segments == nil && strings.Contains(norm, ambiguousAnd) {
		candidate := splitAll(norm, []string{ambiguousAnd})
		if b.allActionable(candidate) {
			segments = candidate
		}
	}
	loops := 1
	if m := loopRx.FindStringSubmatch(norm); m != nil {
		loops = loopCountOf(m)
	}
	if len(segments) < 2 {
		if loops < 2 {
			return nil, false
		}
		// A repetition of a single command is still a chain.
		single := strings.TrimSpace(loopRx.ReplaceAllString(norm, ""))
		segments = []string{single}
	}

	steps := make([]Step, 0, len(segments))
	anyConditional := false
	for i, seg := range segments {
		if loops > 1 {
			seg = loopRx.ReplaceAllString(seg, "")
		}
		seg = strings.TrimSpace(seg)
		conditional := false
		if m := conditionalRx.FindString(seg); m != "" {
			seg = strings.TrimSpace(strings.TrimPrefix(seg, m))
			conditional = true
			anyConditional = true
		}
		cl := b.nlu.Classify(seg)
		step := Step{
			ID:          uuid.NewString(),
			Utterance:   seg,
			Intent:      cl.Intent,
			Parameters:  cl.Parameters.Clone(),
			Conditional: conditional,
		}
		if chainType != Parallel && i > 0 {
			step.DependsOn = []string{steps[i-1].ID}
		}
		steps = append(steps, step)
	}

	if anyConditional {
		chainType = Conditional
	}
	if loops > 1 {
		chainType = Loop
	}

	cmd := &Command{
		ID:        uuid.NewString(),
		Type:      chainType,
		Ordering:  Strict,
		Steps:     steps,
		LoopCount: loops,
	}
	if err := cmd.Validate(); err != nil {
		return nil, false
	}
	return cmd, true
}

func (b *Builder) allActionable(segments []string) bool {
	if len(segments) < 2 {
		return false
	}
	for _, seg := range segments {
		cl := b.nlu.Classify(strings.TrimSpace(seg))
		if !cl.Actionable(b.threshold) {
			return false
		}
	}
	return true
}

func splitAll(text string, seps []string) []string {
	parts := []string{text}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loopCountOf(match []string) int {
	if match[1] != "" {
		n := 0
		for _, r := range match[1] {
			n = n*10 + int(r-'0')
		}
		if n > 10 {
			n = 10
		}
		if n < 1 {
			n = 1
		}
		return n
	}
	switch {
	case strings.Contains(match[0], "twice"), strings.Contains(match[0], "two"):
		return 2
	case strings.Contains(match[0], "three"):
		return 3
	case strings.Contains(match[0], "four"):
		return 4
	case strings.Contains(match[0], "five"):
		return 5
	}
	return 1
}
