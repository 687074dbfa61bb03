package models

// Severity grades a moderation decision.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Source tells which stage produced a decision.
type Source string

const (
	SourcePrefilter  Source = "prefilter"
	SourceClassifier Source = "classifier"
	SourceFailOpen   Source = "fail_open"
	SourceEmpty      Source = "empty"
)

// Decision is the final allow/block outcome for one request.
type Decision struct {
	Allowed     bool     `json:"allowed"`
	Severity    Severity `json:"severity"`
	CleanedText string   `json:"cleanedText,omitempty"`
	Reason      string   `json:"reason"`
	// Warning is set when content is allowed but was classified risky.
	Warning  string   `json:"warning,omitempty"`
	Degraded bool     `json:"degraded"`
	Source   Source   `json:"source"`
	Matches  []string `json:"matches,omitempty"`
}

// Result pairs the decision with the verdict it was derived from.
type Result struct {
	Decision Decision
	Verdict  Verdict
}
