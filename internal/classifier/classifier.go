package classifier

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"voicecore/internal/logger"
	"voicecore/pkg"
)

// Alternative is a lower-ranked interpretation of an utterance.
type Alternative struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Classification is the classifier output for one utterance.
type Classification struct {
	Intent        Intent        `json:"intent"`
	Confidence    float64       `json:"confidence"`
	Parameters    pkg.Params    `json:"parameters"`
	MissingParams []string      `json:"missing_params,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
	Latency       time.Duration `json:"latency"`
}

// Actionable reports whether the classification cleared the confidence
// threshold for direct execution.
func (c *Classification) Actionable(threshold float64) bool {
	return c.Intent != IntentUnknown && c.Confidence >= threshold
}

// Stats is a snapshot of the classifier's running counters.
type Stats struct {
	Total         int            `json:"total"`
	AvgConfidence float64        `json:"avg_confidence"`
	AvgLatencyMS  float64        `json:"avg_latency_ms"`
	PerIntent     map[Intent]int `json:"per_intent"`
}

// Config tunes an individual classifier instance.
type Config struct {
	ConfidenceThreshold float64
	FallbackThreshold   float64
	CacheTTL            time.Duration
	MaxAlternatives     int
	Now                 func() time.Time
}

func (c *Config) withDefaults() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.FallbackThreshold == 0 {
		c.FallbackThreshold = 0.3
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.MaxAlternatives == 0 {
		c.MaxAlternatives = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type cacheEntry struct {
	resp      *Classification
	createdAt time.Time
}

// Classifier maps utterances to ranked intents using the declarative
// pattern table. Each instance owns its cache and adaptive weight table so
// tests can construct isolated instances.
type Classifier struct {
	cfg      Config
	patterns []IntentPattern

	mu            sync.RWMutex
	cache         map[string]cacheEntry
	weights       map[Intent]float64
	lastIntent    Intent
	total         int
	confidenceSum float64
	latencySum    time.Duration
	perIntent     map[Intent]int
}

// New creates a classifier with the built-in pattern table.
func New(cfg Config) *Classifier {
	cfg.withDefaults()
	return &Classifier{
		cfg:       cfg,
		patterns:  DefaultPatterns(),
		cache:     make(map[string]cacheEntry),
		weights:   make(map[Intent]float64),
		perIntent: make(map[Intent]int),
	}
}

// Normalize canonicalizes utterance text for matching and cache keys.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Classify maps one utterance to a Classification. Deterministic for a
// fixed rule/weight state; repeated calls within the cache TTL return the
// identical cached object.
func (c *Classifier) Classify(utterance string) *Classification {
	return c.ClassifyWithContext(utterance, nil)
}

// ClassifyWithContext additionally applies a small context-enrichment
// bonus from recent conversation turns. Context-enriched results bypass
// the cache since the same text may score differently per conversation.
func (c *Classifier) ClassifyWithContext(utterance string, history []*schema.Message) *Classification {
	start := c.cfg.Now()
	normalized := Normalize(utterance)

	if len(history) == 0 {
		if cached := c.lookupCache(normalized); cached != nil {
			return cached
		}
	}

	feats := extractFeatures(normalized)

	type scored struct {
		pattern IntentPattern
		score   float64
	}
	ranked := make([]scored, 0, len(c.patterns))
	for _, p := range c.patterns {
		s := c.score(p, normalized, utterance, feats, history)
		ranked = append(ranked, scored{pattern: p, score: s})
	}

	// Stable selection: strict greater keeps table order on ties.
	best := ranked[0]
	for _, s := range ranked[1:] {
		if s.score > best.score {
			best = s
		}
	}

	result := &Classification{Parameters: pkg.Params{}}
	if best.score < c.cfg.FallbackThreshold {
		result.Intent = IntentUnknown
		result.Confidence = 0
	} else {
		result.Intent = best.pattern.Intent
		result.Confidence = best.score
		if best.score >= c.cfg.ConfidenceThreshold {
			result.Parameters = extractParams(best.pattern, utterance)
			for _, name := range best.pattern.RequiredParams {
				if _, ok := result.Parameters[name]; !ok {
					result.MissingParams = append(result.MissingParams, name)
				}
			}
		}
		for _, s := range ranked {
			if s.pattern.Intent == best.pattern.Intent || s.score < c.cfg.FallbackThreshold {
				continue
			}
			reason := "possible alternative interpretation"
			if s.score >= 0.5 {
				reason = "high confidence alternative"
			}
			result.Alternatives = append(result.Alternatives, Alternative{
				Intent:     s.pattern.Intent,
				Confidence: s.score,
				Reason:     reason,
			})
		}
		sortAlternatives(result.Alternatives)
		if len(result.Alternatives) > c.cfg.MaxAlternatives {
			result.Alternatives = result.Alternatives[:c.cfg.MaxAlternatives]
		}
	}

	result.Latency = c.cfg.Now().Sub(start)

	c.mu.Lock()
	if len(history) == 0 {
		c.cache[normalized] = cacheEntry{resp: result, createdAt: c.cfg.Now()}
	}
	c.lastIntent = result.Intent
	c.total++
	c.confidenceSum += result.Confidence
	c.latencySum += result.Latency
	c.perIntent[result.Intent]++
	c.mu.Unlock()

	logger.Debug().
		Str("intent", string(result.Intent)).
		Float64("confidence", result.Confidence).
		Int("params", len(result.Parameters)).
		Msg("utterance classified")

	return result
}

// ProvideFeedback nudges the adaptive multiplier of the intent last
// classified for the given utterance by ±10%, clamped to [0.5, 2.0].
func (c *Classifier) ProvideFeedback(utterance string, wasCorrect bool) {
	normalized := Normalize(utterance)

	c.mu.Lock()
	defer c.mu.Unlock()

	intent := c.lastIntent
	if entry, ok := c.cache[normalized]; ok {
		intent = entry.resp.Intent
	}
	if intent == "" || intent == IntentUnknown {
		return
	}

	w := c.weightLocked(intent)
	if wasCorrect {
		w *= 1.1
	} else {
		w *= 0.9
	}
	c.weights[intent] = clamp(w, 0.5, 2.0)

	// Weight changed, cached scores are stale for this rule state.
	delete(c.cache, normalized)
}

// Stats returns a snapshot of the running counters.
func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Total: c.total, PerIntent: make(map[Intent]int, len(c.perIntent))}
	for k, v := range c.perIntent {
		s.PerIntent[k] = v
	}
	if c.total > 0 {
		s.AvgConfidence = c.confidenceSum / float64(c.total)
		s.AvgLatencyMS = float64(c.latencySum.Milliseconds()) / float64(c.total)
	}
	return s
}

func (c *Classifier) lookupCache(normalized string) *Classification {
	c.mu.RLock()
	entry, ok := c.cache[normalized]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	// TTL is checked against the entry creation timestamp.
	if c.cfg.Now().Sub(entry.createdAt) > c.cfg.CacheTTL {
		c.mu.Lock()
		delete(c.cache, normalized)
		c.mu.Unlock()
		return nil
	}
	return entry.resp
}

// score computes the rule score for one intent pattern:
// 0.4*keyword overlap + phrase bonus + 0.1*hint overlap + 0.2*extractability,
// scaled by the static weight and the adaptive multiplier, plus fixed
// feature and context bonuses. Clamped to [0, 1].
func (c *Classifier) score(p IntentPattern, normalized, raw string, feats features, history []*schema.Message) float64 {
	tokens := make(map[string]bool, len(feats.Tokens))
	for _, t := range feats.Tokens {
		tokens[t] = true
	}

	keywordHits := 0
	for _, kw := range p.Keywords {
		if tokens[kw] {
			keywordHits++
		}
	}
	base := 0.0
	if len(p.Keywords) > 0 {
		base += 0.4 * float64(keywordHits) / float64(len(p.Keywords))
	}

	base += phraseBonus(p.Phrases, normalized)

	if len(p.Hints) > 0 {
		hintHits := 0
		for _, h := range p.Hints {
			if tokens[h] {
				hintHits++
			}
		}
		base += 0.1 * float64(hintHits) / float64(len(p.Hints))
	}

	if len(p.Extractors) > 0 {
		matched := 0
		for _, ex := range p.Extractors {
			if _, ok := runExtractor(ex, raw); ok {
				matched++
			}
		}
		base += 0.2 * float64(matched) / float64(len(p.Extractors))
	}

	c.mu.RLock()
	multiplier := c.weightLocked(p.Intent)
	c.mu.RUnlock()

	score := base * p.Weight * multiplier
	score += featureBonus(p.Intent, feats)
	score += contextBonus(p, history)

	return clamp(score, 0, 1)
}

// phraseBonus rewards example phrase matches, exact above fuzzy; at most 0.5.
func phraseBonus(phrases []string, normalized string) float64 {
	best := 0.0
	for _, ph := range phrases {
		if strings.Contains(normalized, ph) {
			return 0.5
		}
		// Fuzzy: all words of the phrase present anywhere.
		words := strings.Fields(ph)
		all := true
		for _, w := range words {
			if !strings.Contains(normalized, w) {
				all = false
				break
			}
		}
		if all && best < 0.3 {
			best = 0.3
		}
	}
	return best
}

// contextBonus adds a small boost when recent user turns share the
// pattern's keywords. Tolerates an empty history.
func contextBonus(p IntentPattern, history []*schema.Message) float64 {
	if len(history) == 0 {
		return 0
	}
	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for _, msg := range recent {
		if msg == nil || msg.Role != schema.User {
			continue
		}
		content := strings.ToLower(msg.Content)
		for _, kw := range p.Keywords {
			if strings.Contains(content, kw) {
				return 0.05
			}
		}
	}
	return 0
}

// extractParams runs the pattern's ordered extractors against the raw
// utterance. Failed extractors leave their parameter absent.
func extractParams(p IntentPattern, raw string) pkg.Params {
	params := pkg.Params{}
	for _, ex := range p.Extractors {
		capture, ok := runExtractor(ex, raw)
		if !ok {
			continue
		}
		if v, ok := CoerceValue(ex.Kind, capture); ok {
			params[ex.Name] = v
		}
	}
	return params
}

func runExtractor(ex Extractor, raw string) (string, bool) {
	for _, re := range ex.Patterns {
		m := re.FindStringSubmatch(raw)
		if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func (c *Classifier) weightLocked(intent Intent) float64 {
	if w, ok := c.weights[intent]; ok {
		return w
	}
	return 1.0
}

func sortAlternatives(alts []Alternative) {
	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].Confidence > alts[j].Confidence
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
