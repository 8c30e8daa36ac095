package classifier

import (
	"regexp"
	"strings"
)

// features holds lightweight linguistic signals extracted from one
// utterance. They only contribute scoring bonuses, never classify on
// their own.
type features struct {
	Tokens      []string
	HasQuestion bool
	HasDigits   bool
	HasMention  bool // "@"-pattern, e.g. an email address
	HasURL      bool
	Sentiment   string // positive, negative, neutral
}

var (
	urlPattern     = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+|\b\S+\.(?:com|org|net|io|dev)\b`)
	digitPattern   = regexp.MustCompile(`\d`)
	mentionPattern = regexp.MustCompile(`\S+@\S+`)

	positiveWords = []string{"please", "great", "thanks", "thank", "awesome", "good", "love"}
	negativeWords = []string{"bad", "wrong", "terrible", "hate", "awful", "broken", "annoying"}
)

// extractFeatures runs the linguistic feature pass on normalized text.
func extractFeatures(normalized string) features {
	f := features{
		Tokens:      strings.Fields(normalized),
		HasQuestion: strings.Contains(normalized, "?"),
		HasDigits:   digitPattern.MatchString(normalized),
		HasMention:  mentionPattern.MatchString(normalized),
		HasURL:      urlPattern.MatchString(normalized),
		Sentiment:   "neutral",
	}

	pos, neg := 0, 0
	for _, tok := range f.Tokens {
		for _, w := range positiveWords {
			if tok == w {
				pos++
			}
		}
		for _, w := range negativeWords {
			if tok == w {
				neg++
			}
		}
	}
	if pos > neg {
		f.Sentiment = "positive"
	} else if neg > pos {
		f.Sentiment = "negative"
	}

	return f
}

// featureBonus returns the fixed score bonus when a linguistic feature
// aligns with an intent.
func featureBonus(intent Intent, f features) float64 {
	bonus := 0.0
	switch intent {
	case IntentSendEmail:
		if f.HasMention {
			bonus += 0.15
		}
	case IntentCalculate:
		if f.HasDigits {
			bonus += 0.10
		}
	case IntentUploadFile:
		if f.HasURL {
			bonus += 0.10
		}
	case IntentPerformSearch, IntentQueryWeather, IntentQueryNews:
		if f.HasQuestion {
			bonus += 0.05
		}
	case IntentGeneral:
		if f.Sentiment == "positive" {
			bonus += 0.05
		}
	}
	return bonus
}
