// Package gatekeeper moderates user-generated text and images before they
// are stored or delivered: a local term prefilter, a remote classifier with
// a tolerant parser, and an allow/block policy that fails open when the
// classifier is down.
package gatekeeper

import "github.com/elum-utils/gatekeeper/core"

// Re-export core API at module root for convenient imports.
type (
	Core          = core.Core
	Options       = core.Options
	EventName     = core.EventName
	DecisionEvent = core.DecisionEvent
	EventHandler  = core.EventHandler
	ScanResult    = core.ScanResult
	ImageResult   = core.ImageResult
)

const (
	EventAllow    = core.EventAllow
	EventWarn     = core.EventWarn
	EventBlock    = core.EventBlock
	EventDegraded = core.EventDegraded
)

// New creates a new moderation pipeline.
func New(opt Options) *Core {
	return core.New(opt)
}
