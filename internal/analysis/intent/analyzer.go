// Package intent scores utterances against keyword buckets. It is the
// classifier used when no chat model is configured.
package intent

import (
	"strings"
	"unicode"

	"github.com/neurosync-os/backend/internal/model/intent"
)

var keywordBuckets = map[intent.Label][]string{
	intent.Compliance: {
		"idea", "idea act", "iep meeting", "504", "section 504", "ferpa", "compliance", "compliant", "comply",
		"legal", "law", "lawful", "require", "requires", "required", "requirement", "mandate", "mandatory",
		"deadline", "timeline", "consent", "due process", "prior written notice", "regulation", "rights",
		"procedural", "safeguards", "allowed", "obligation", "violation",
	},
	intent.History: {
		"history", "historical", "diagnosed", "diagnosis", "evaluation", "evaluated", "previous", "previously",
		"past", "record", "records", "background", "adhd", "last year", "prior", "when was", "file",
		"assessment", "progress report", "medical", "timeline of",
	},
	intent.Strategy: {
		"strategy", "strategies", "accommodation", "accommodations", "classroom", "intervention", "interventions",
		"support", "help him", "help her", "help them", "how can i", "how do i", "tips", "plan", "activity",
		"activities", "engage", "motivate", "behavior", "routine", "lesson", "calm", "modification",
	},
}

// Result holds the heuristic decision and the per-label hit counts.
type Result struct {
	Intent     intent.Label
	Confidence float64
	Hits       map[intent.Label]int
}

// Analyze scores utterance and returns the best label with a confidence in
// [0,1]. Ties resolve in intent.Routable order; no hits yields Unclassified.
func Analyze(utterance string) Result {
	hits := score(utterance)

	best := intent.Unclassified
	bestHits, total := 0, 0
	for _, label := range intent.Routable {
		n := hits[label]
		total += n
		if n > bestHits {
			best, bestHits = label, n
		}
	}
	if bestHits == 0 {
		return Result{Intent: intent.Unclassified, Hits: hits}
	}

	share := float64(bestHits) / float64(total)
	strength := 0.4 + 0.2*float64(bestHits)
	if strength > 1 {
		strength = 1
	}
	return Result{
		Intent:     best,
		Confidence: intent.ClampConfidence(share * strength),
		Hits:       hits,
	}
}

func score(text string) map[intent.Label]int {
	padded := " " + strings.Join(tokenize(text), " ") + " "
	hits := make(map[intent.Label]int, len(keywordBuckets))
	if strings.TrimSpace(padded) == "" {
		return hits
	}
	for label, keywords := range keywordBuckets {
		for _, kw := range keywords {
			if strings.Contains(padded, " "+kw+" ") {
				hits[label]++
			}
		}
	}
	return hits
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
