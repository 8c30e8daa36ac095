package classifier

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier() *Classifier {
	return New(Config{})
}

func TestClassifyDocumentCommand(t *testing.T) {
	c := newTestClassifier()

	cl := c.Classify("create a document about climate change")
	require.Equal(t, IntentGenerateDocument, cl.Intent)
	assert.GreaterOrEqual(t, cl.Confidence, 0.6)
	assert.True(t, cl.Actionable(0.6))

	content, ok := cl.Parameters["content"]
	require.True(t, ok, "content parameter should be extracted")
	assert.Equal(t, "climate change", content.AsString())
	assert.Equal(t, []string{"format"}, cl.MissingParams)
}

func TestClassifyBareDocumentCommand(t *testing.T) {
	c := newTestClassifier()

	cl := c.Classify("Generate a document")
	require.Equal(t, IntentGenerateDocument, cl.Intent)
	assert.GreaterOrEqual(t, cl.Confidence, 0.6)
	assert.Equal(t, []string{"content", "format"}, cl.MissingParams)
}

func TestClassifyEmailWithAddress(t *testing.T) {
	c := newTestClassifier()

	cl := c.Classify("send an email to bob@example.com saying see you at noon")
	require.Equal(t, IntentSendEmail, cl.Intent)
	assert.True(t, cl.Actionable(0.6))
	assert.Equal(t, "bob@example.com", cl.Parameters["to"].AsString())
	assert.Equal(t, "see you at noon", cl.Parameters["body"].AsString())
	assert.Contains(t, cl.MissingParams, "subject")
}

func TestClassifyGibberishIsUnknown(t *testing.T) {
	c := newTestClassifier()

	cl := c.Classify("flurble wibble wub")
	assert.Equal(t, IntentUnknown, cl.Intent)
	assert.False(t, cl.Actionable(0.6))
	assert.Empty(t, cl.Parameters)
}

func TestClassifyDeterministic(t *testing.T) {
	a := newTestClassifier()
	b := newTestClassifier()

	first := a.Classify("search for golang concurrency patterns")
	second := b.Classify("search for golang concurrency patterns")
	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestClassifyNormalizesForCache(t *testing.T) {
	c := newTestClassifier()

	first := c.Classify("Search   FOR cats")
	second := c.Classify("search for cats")
	// Same normalized text within the TTL returns the cached result.
	assert.Same(t, first, second)
}

func TestCacheExpiresByCreationTime(t *testing.T) {
	now := time.Now()
	c := New(Config{CacheTTL: 5 * time.Minute, Now: func() time.Time { return now }})

	first := c.Classify("search for cats")
	now = now.Add(5*time.Minute + time.Second)
	second := c.Classify("search for cats")
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Intent, second.Intent)
}

func TestContextBypassesCache(t *testing.T) {
	c := newTestClassifier()

	plain := c.Classify("find the forecast")
	history := []*schema.Message{schema.UserMessage("what's the weather in Oslo")}
	enriched := c.ClassifyWithContext("find the forecast", history)
	assert.NotSame(t, plain, enriched)
}

func TestFeedbackLowersConfidence(t *testing.T) {
	c := newTestClassifier()

	before := c.Classify("search for cats").Confidence
	c.ProvideFeedback("search for cats", false)
	after := c.Classify("search for cats").Confidence
	assert.Less(t, after, before)
}

func TestFeedbackRaisesConfidence(t *testing.T) {
	c := newTestClassifier()

	utterance := "look up train schedules"
	before := c.Classify(utterance).Confidence
	if before >= 1.0 {
		t.Skip("confidence already clamped")
	}
	c.ProvideFeedback(utterance, true)
	after := c.Classify(utterance).Confidence
	assert.Greater(t, after, before)
}

func TestFeedbackWeightClamps(t *testing.T) {
	c := newTestClassifier()

	utterance := "search for cats"
	for i := 0; i < 30; i++ {
		c.Classify(utterance)
		c.ProvideFeedback(utterance, false)
	}
	floor := c.Classify(utterance).Confidence

	c.Classify(utterance)
	c.ProvideFeedback(utterance, false)
	assert.Equal(t, floor, c.Classify(utterance).Confidence, "multiplier should be clamped at 0.5")
}

func TestAlternativesRankedAndCapped(t *testing.T) {
	c := New(Config{MaxAlternatives: 2})

	cl := c.Classify("search for the latest news about the weather")
	require.NotEqual(t, IntentUnknown, cl.Intent)
	assert.LessOrEqual(t, len(cl.Alternatives), 2)
	for i := 1; i < len(cl.Alternatives); i++ {
		assert.GreaterOrEqual(t, cl.Alternatives[i-1].Confidence, cl.Alternatives[i].Confidence)
	}
	for _, alt := range cl.Alternatives {
		assert.NotEqual(t, cl.Intent, alt.Intent)
	}
}

func TestStatsAccumulate(t *testing.T) {
	c := newTestClassifier()

	c.Classify("search for cats")
	c.Classify("what's the weather in Berlin")
	st := c.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Greater(t, st.AvgConfidence, 0.0)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "create a document", Normalize("  Create   A  DOCUMENT "))
}

func TestUndoableLookup(t *testing.T) {
	ok, _ := Undoable(IntentGenerateDocument)
	assert.True(t, ok)

	ok, msg := Undoable(IntentSendEmail)
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}
