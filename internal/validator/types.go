// Package validator cross-checks a drafted answer against the structured
// tool results it was written from, before the user sees it.
//
// The checks are regex heuristics over names, amounts and links. They
// catch the common failure modes (invented customers, amounts quoted over
// empty data, links that were never returned) but are not a proof that an
// answer is correct.
package validator

// IssueType classifies a problem found in a draft.
type IssueType string

const (
	Hallucination IssueType = "hallucination"
	Inconsistency IssueType = "inconsistency"
	MissingData   IssueType = "missing_data"
)

// Severity weights an issue's effect on confidence.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

var penalties = map[Severity]int{Critical: 50, Warning: 15, Info: 5}

// Action is what the caller should do with the draft.
type Action string

const (
	Send       Action = "send"
	Warn       Action = "warn"
	Regenerate Action = "regenerate"
)

// Issue is one problem found in a draft.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Evidence string    `json:"evidence,omitempty"`
}

// PreSendValidation is the verdict on one draft.
type PreSendValidation struct {
	Issues     []Issue `json:"issues"`
	Confidence int     `json:"confidence"`
	Action     Action  `json:"action"`
}

// HasCritical reports whether any issue is critical.
func (v PreSendValidation) HasCritical() bool {
	for _, is := range v.Issues {
		if is.Severity == Critical {
			return true
		}
	}
	return false
}

func score(issues []Issue) (int, Action) {
	confidence := 100
	critical := false
	for _, is := range issues {
		confidence -= penalties[is.Severity]
		if is.Severity == Critical {
			critical = true
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	switch {
	case critical || confidence < 50:
		return confidence, Regenerate
	case confidence <= 70:
		return confidence, Warn
	}
	return confidence, Send
}
