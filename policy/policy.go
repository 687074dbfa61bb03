// Package policy turns a verdict and the failure state of its dependencies
// into an allow/block decision.
package policy

import (
	"fmt"
	"strings"

	"github.com/elum-utils/gatekeeper/models"
)

// Mode selects how a "risky" verdict is handled.
type Mode string

const (
	// ModeStrict blocks risky content with medium severity.
	ModeStrict Mode = "strict"
	// ModeLenient allows risky content and surfaces a warning.
	ModeLenient Mode = "lenient"
)

const (
	// DegradedReason is attached to fail-open decisions.
	DegradedReason = "classifier unavailable; allowed in degraded mode"
	// FallbackReason is attached when the classifier answered with output
	// that could not be parsed.
	FallbackReason = "classifier output unusable; allowed in degraded mode"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	}
	return "", fmt.Errorf("policy: unknown risky mode %q", s)
}

// Options configure the policy.
type Options struct {
	Risky Mode
	// Overrides maps a request context (e.g. "chat message") to its own mode.
	Overrides map[string]Mode
}

// Policy is immutable after New and safe for concurrent use.
type Policy struct {
	risky     Mode
	overrides map[string]Mode
}

// Input is everything a decision depends on.
type Input struct {
	Context string
	Verdict models.Verdict
	// Prefilter is the prefilter decision when it matched.
	Prefilter *models.Decision
	// Unavailable is the classifier failure, nil when a verdict was produced.
	Unavailable error
	// Fallback marks Verdict as the parser's safe default.
	Fallback bool
}

// New creates a policy. An empty mode defaults to strict.
func New(opt Options) *Policy {
	p := &Policy{risky: ModeStrict, overrides: make(map[string]Mode, len(opt.Overrides))}
	if opt.Risky == ModeLenient {
		p.risky = ModeLenient
	}
	for ctx, mode := range opt.Overrides {
		p.overrides[normalizeContext(ctx)] = mode
	}
	return p
}

func normalizeContext(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ModeFor returns the risky mode that applies to a request context.
func (p *Policy) ModeFor(context string) Mode {
	if mode, ok := p.overrides[normalizeContext(context)]; ok {
		return mode
	}
	return p.risky
}

// Decide computes the final decision.
func (p *Policy) Decide(in Input) models.Decision {
	if in.Prefilter != nil && !in.Prefilter.Allowed {
		return *in.Prefilter
	}
	if in.Unavailable != nil {
		return models.Decision{
			Allowed:  true,
			Severity: models.SeverityLow,
			Reason:   DegradedReason,
			Degraded: true,
			Source:   models.SourceFailOpen,
		}
	}
	if in.Fallback {
		return models.Decision{
			Allowed:  true,
			Severity: models.SeverityLow,
			Reason:   FallbackReason,
			Degraded: true,
			Source:   models.SourceFailOpen,
		}
	}

	v := in.Verdict
	switch v.OverallClassification {
	case models.ClassificationOffensive:
		return models.Decision{
			Allowed:  false,
			Severity: models.SeverityHigh,
			Reason:   reasonOr(v.Justification, "content classified as offensive"),
			Source:   models.SourceClassifier,
		}
	case models.ClassificationRisky:
		if p.ModeFor(in.Context) == ModeLenient {
			return models.Decision{
				Allowed:  true,
				Severity: models.SeverityMedium,
				Warning:  reasonOr(v.Justification, "content classified as risky"),
				Source:   models.SourceClassifier,
			}
		}
		return models.Decision{
			Allowed:  false,
			Severity: models.SeverityMedium,
			Reason:   reasonOr(v.Justification, "content classified as risky"),
			Source:   models.SourceClassifier,
		}
	default:
		return models.Decision{
			Allowed:  true,
			Severity: models.SeverityLow,
			Source:   models.SourceClassifier,
		}
	}
}

func reasonOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
