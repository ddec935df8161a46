// Package intent defines the closed set of routing labels.
package intent

import "strings"

// Label identifies which expert should handle a request.
type Label string

const (
	Compliance   Label = "compliance"
	History      Label = "history"
	Strategy     Label = "strategy"
	Unclassified Label = "unclassified"
)

// Routable lists the labels that map to an expert, in registry order.
var Routable = []Label{Compliance, History, Strategy}

// Parse normalizes raw model output into a label. Unknown values are
// reported with ok=false.
func Parse(raw string) (Label, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"'.`)) {
	case "compliance":
		return Compliance, true
	case "history":
		return History, true
	case "strategy":
		return Strategy, true
	case "unclassified":
		return Unclassified, true
	default:
		return "", false
	}
}

// Failure tags why a decision is unclassified.
type Failure string

const (
	FailureNone           Failure = ""
	FailureClassification Failure = "classification_failure"
	FailureLowConfidence  Failure = "low_confidence"
	FailureEmptyInput     Failure = "empty_input"
)

// Decision is the classifier output for one utterance.
type Decision struct {
	Intent     Label   `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Candidate keeps the label proposed before the threshold was applied.
	Candidate Label   `json:"candidate,omitempty"`
	Failure   Failure `json:"failure,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// NewUnclassified returns a decision with the sentinel label and zero confidence.
func NewUnclassified(failure Failure, reason string) Decision {
	return Decision{Intent: Unclassified, Failure: failure, Reason: reason}
}

// RoutingDecision binds a decision to the handler chosen for it.
type RoutingDecision struct {
	Intent     Label   `json:"intent"`
	HandlerID  string  `json:"handlerId"`
	Confidence float64 `json:"confidence"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
