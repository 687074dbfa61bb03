package models

// Term is a prohibited word or phrase with the severity it blocks at.
type Term struct {
	Value    string   `json:"value"`
	Severity Severity `json:"severity"`
}
