package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elum-utils/gatekeeper/engine"
	"github.com/elum-utils/gatekeeper/interfaces"
	"github.com/elum-utils/gatekeeper/models"
	"github.com/elum-utils/gatekeeper/parser"
	"github.com/elum-utils/gatekeeper/policy"
)

const (
	defaultMaxTextBytes     = 16 * 1024
	defaultBatchConcurrency = 8
	defaultLoadTimeout      = 10 * time.Second
)

// EventName is a callback bus event.
type EventName string

const (
	EventAllow    EventName = "allow"
	EventWarn     EventName = "warn"
	EventBlock    EventName = "block"
	EventDegraded EventName = "degraded"
)

var eventOrder = [...]EventName{EventAllow, EventWarn, EventBlock, EventDegraded}

// DecisionEvent is callback payload.
type DecisionEvent struct {
	Context  string
	Decision models.Decision
	Verdict  models.Verdict
}

// EventHandler handles one moderation event. Errors are logged and never
// change the decision.
type EventHandler func(ctx context.Context, event DecisionEvent) error

// Options configure the orchestrator.
type Options struct {
	Classifier interfaces.Classifier
	Extractor  interfaces.TextExtractor
	Storage    interfaces.Storage
	Policy     *policy.Policy
	Logger     interfaces.Logger
	Metrics    interfaces.Metrics

	// Terms seed the prefilter. Storage terms are merged on Load.
	Terms []models.Term

	MaxTextBytes     int
	BatchConcurrency int
}

// Core is the single moderation entry point. It holds no per-request state;
// the prefilter terms are loaded once and the counters are atomic.
type Core struct {
	classifier interfaces.Classifier
	extractor  interfaces.TextExtractor
	storage    interfaces.Storage
	policy     *policy.Policy
	logger     interfaces.Logger
	metrics    interfaces.Metrics
	engine     *engine.Engine
	seed       []models.Term

	maxTextBytes     int
	batchConcurrency int

	eventsMu sync.RWMutex
	events   map[EventName][]EventHandler

	processed [len(eventOrder)]atomic.Int64
}

// New creates orchestrator instance. Configuration errors are returned on
// Moderate methods.
func New(opt Options) *Core {
	c := &Core{
		classifier:       opt.Classifier,
		extractor:        opt.Extractor,
		storage:          opt.Storage,
		policy:           opt.Policy,
		logger:           opt.Logger,
		metrics:          noopMetrics{},
		engine:           engine.New(),
		seed:             append([]models.Term(nil), opt.Terms...),
		maxTextBytes:     defaultMaxTextBytes,
		batchConcurrency: defaultBatchConcurrency,
		events:           make(map[EventName][]EventHandler, len(eventOrder)),
	}
	if c.policy == nil {
		c.policy = policy.New(policy.Options{})
	}
	if opt.Metrics != nil {
		c.metrics = opt.Metrics
	}
	if opt.MaxTextBytes > 0 {
		c.maxTextBytes = opt.MaxTextBytes
	}
	if opt.BatchConcurrency > 0 {
		c.batchConcurrency = opt.BatchConcurrency
	}
	c.engine.ReplaceAll(c.seed)
	return c
}

// On registers event handlers.
func (c *Core) On(event EventName, handler EventHandler) error {
	if handler == nil {
		return errors.New("core: handler is nil")
	}
	if eventIndex(event) < 0 {
		return fmt.Errorf("core: unknown event %q", event)
	}
	c.eventsMu.Lock()
	c.events[event] = append(c.events[event], handler)
	c.eventsMu.Unlock()
	return nil
}

// Load replaces the prefilter terms with the seed terms merged with storage.
// It is meant to run once at startup.
func (c *Core) Load(ctx context.Context) error {
	terms := append([]models.Term(nil), c.seed...)
	if c.storage != nil {
		lctx, cancel := context.WithTimeout(ctx, defaultLoadTimeout)
		defer cancel()
		stored, err := c.storage.GetTerms(lctx)
		if err != nil {
			return fmt.Errorf("core: load terms: %w", err)
		}
		terms = append(terms, stored...)
	}
	c.engine.ReplaceAll(terms)
	c.logInfo("prefilter terms loaded", map[string]any{"count": c.engine.Count()})
	return nil
}

// Moderate runs the full text pipeline for one request. Only a
// *models.ValidationError or a configuration error is returned; dependency
// failures resolve to a degraded allow decision.
func (c *Core) Moderate(ctx context.Context, req models.Request) (models.Result, error) {
	if err := c.validate(); err != nil {
		return models.Result{}, err
	}
	if req.Empty() {
		res := models.Result{
			Decision: models.Decision{Allowed: true, Severity: models.SeverityLow, Source: models.SourceEmpty},
			Verdict:  models.SafeDefault("no text to moderate"),
		}
		c.record(ctx, req, res)
		return res, nil
	}
	if err := c.checkSize(req); err != nil {
		return models.Result{}, err
	}

	if pre, hit := c.engine.Check(req.Text); hit {
		res := models.Result{
			Decision: c.policy.Decide(policy.Input{Context: req.Context, Prefilter: &pre}),
			Verdict:  prefilterVerdict(pre),
		}
		c.record(ctx, req, res)
		return res, nil
	}

	raw, err := c.classifier.Classify(ctx, req)
	if err != nil {
		c.logWarn("classifier unavailable, failing open", map[string]any{
			"error":   err.Error(),
			"context": req.Context,
		})
		c.metrics.ObserveFailOpen("classifier_unavailable")
		res := models.Result{
			Decision: c.policy.Decide(policy.Input{Context: req.Context, Unavailable: err}),
			Verdict:  models.SafeDefault(policy.DegradedReason),
		}
		c.record(ctx, req, res)
		return res, nil
	}

	parsed := parser.Parse(raw)
	for _, a := range parsed.Anomalies {
		c.metrics.ObserveParseAnomaly(a.Kind)
	}
	if parsed.Fallback {
		fields := map[string]any{"context": req.Context}
		if parsed.Err != nil {
			fields["error"] = parsed.Err.Error()
		}
		c.logWarn("classifier output unusable, using safe default", fields)
		c.metrics.ObserveFailOpen("parse_fallback")
	} else if len(parsed.Anomalies) > 0 {
		details := make([]string, 0, len(parsed.Anomalies))
		for _, a := range parsed.Anomalies {
			details = append(details, a.Detail)
		}
		c.logWarn("classifier output anomalies", map[string]any{"anomalies": strings.Join(details, "; ")})
	}

	res := models.Result{
		Decision: c.policy.Decide(policy.Input{Context: req.Context, Verdict: parsed.Verdict, Fallback: parsed.Fallback}),
		Verdict:  parsed.Verdict,
	}
	c.record(ctx, req, res)
	return res, nil
}

// ModerateBatch moderates independent requests concurrently, bounded by the
// batch concurrency. Results keep input order. Every request is validated
// before any is moderated; the first later error cancels the rest.
func (c *Core) ModerateBatch(ctx context.Context, reqs []models.Request) ([]models.Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	for i, req := range reqs {
		if err := c.checkSize(req); err != nil {
			return nil, fmt.Errorf("core: request %d: %w", i, err)
		}
	}
	out := make([]models.Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Moderate(gctx, req)
			if err != nil {
				return fmt.Errorf("core: request %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics returns count of decisions by event.
func (c *Core) Metrics() map[EventName]int64 {
	out := make(map[EventName]int64, len(eventOrder))
	for i, e := range eventOrder {
		out[e] = c.processed[i].Load()
	}
	return out
}

// TermCount returns number of in-memory prefilter terms.
func (c *Core) TermCount() int {
	return c.engine.Count()
}

// Prefilter exposes the term engine for read-only lookups.
func (c *Core) Prefilter() *engine.Engine {
	return c.engine
}

func eventFor(d models.Decision) EventName {
	switch {
	case d.Degraded:
		return EventDegraded
	case !d.Allowed:
		return EventBlock
	case d.Warning != "":
		return EventWarn
	default:
		return EventAllow
	}
}

func eventIndex(e EventName) int {
	for i, v := range eventOrder {
		if v == e {
			return i
		}
	}
	return -1
}

func (c *Core) record(ctx context.Context, req models.Request, res models.Result) {
	event := eventFor(res.Decision)
	c.processed[eventIndex(event)].Add(1)
	c.metrics.ObserveDecision(res.Decision.Source, string(event))

	if event == EventBlock {
		c.logInfo("content blocked", map[string]any{
			"source":   string(res.Decision.Source),
			"severity": string(res.Decision.Severity),
			"reason":   res.Decision.Reason,
			"context":  req.Context,
		})
	}
	c.dispatchEvent(context.WithoutCancel(ctx), event, DecisionEvent{
		Context:  req.Context,
		Decision: res.Decision,
		Verdict:  res.Verdict,
	})
}

func (c *Core) dispatchEvent(ctx context.Context, event EventName, e DecisionEvent) {
	c.eventsMu.RLock()
	handlers := append([]EventHandler(nil), c.events[event]...)
	c.eventsMu.RUnlock()
	for _, h := range handlers {
		if err := c.safeCall(ctx, h, e); err != nil {
			c.logWarn("event handler failed", map[string]any{"error": err.Error(), "event": string(event)})
		}
	}
}

func (c *Core) safeCall(ctx context.Context, h EventHandler, e DecisionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// prefilterVerdict describes a prefilter block in verdict form so callers
// asking for a verdict get a consistent answer without a remote call.
func prefilterVerdict(d models.Decision) models.Verdict {
	v := models.Verdict{
		OverallScore:          100,
		OverallClassification: models.ClassificationOffensive,
		Justification:         d.Reason,
		Dimensions:            map[models.Dimension]models.DimensionScore{},
	}
	if d.Severity == models.SeverityMedium {
		v.OverallScore = 60
		v.OverallClassification = models.ClassificationRisky
	}
	return v
}

func (c *Core) checkSize(req models.Request) error {
	if len(req.Text) > c.maxTextBytes {
		return &models.ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("text exceeds %d bytes", c.maxTextBytes),
		}
	}
	return nil
}

func (c *Core) validate() error {
	if c.classifier == nil {
		return errors.New("core: classifier is nil")
	}
	return nil
}

func (c *Core) logInfo(msg string, fields map[string]any) {
	if c.logger != nil {
		c.logger.Info(msg, fields)
	}
}

func (c *Core) logWarn(msg string, fields map[string]any) {
	if c.logger != nil {
		c.logger.Warn(msg, fields)
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveDecision(models.Source, string)               {}
func (noopMetrics) ObserveFailOpen(string)                              {}
func (noopMetrics) ObserveClassifierCall(string, string, time.Duration) {}
func (noopMetrics) ObserveParseAnomaly(string)                          {}
func (noopMetrics) ObserveExtraction(string, time.Duration)             {}
