package spec

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/jobproto/pkg/events"
)

// Stage is a state of the compile pipeline.
type Stage int

const (
	StageParsed Stage = iota
	StageValidated
	StageRendered
	StageMerged
	StageFinal
)

func (s Stage) String() string {
	switch s {
	case StageParsed:
		return "parsed"
	case StageValidated:
		return "validated"
	case StageRendered:
		return "rendered"
	case StageMerged:
		return "merged"
	case StageFinal:
		return "final"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Compile outcomes reported to a Recorder.
const (
	OutcomeCompiled     = "compiled"
	OutcomeRejected     = "rejected"
	OutcomeRenderFailed = "render_failed"
	OutcomeMergeFailed  = "merge_failed"
)

// Request carries the caller-supplied inputs of one compile run.
type Request struct {
	// Parameters override the document's declared parameter defaults.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Deployment selects a deployment explicitly; empty falls back to
	// defaults.deployment.
	Deployment string `json:"deployment,omitempty"`
}

// Result is the outcome of a compile run.
type Result struct {
	Name       string            `json:"name"`
	Stage      Stage             `json:"-"`
	StageName  string            `json:"stage"`
	Deployment string            `json:"deployment,omitempty"`
	Descriptor map[string]any    `json:"descriptor,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

func (r *Result) advance(s Stage) {
	r.Stage = s
	r.StageName = s.String()
}

// Recorder receives pipeline observations, typically for metrics.
type Recorder interface {
	ObserveStage(stage Stage, elapsed time.Duration)
	RecordOutcome(outcome string)
	RecordDiagnostic(keyword string)
}

// Compiler sequences validation, rendering and merging of protocol documents.
// It keeps no per-run state and is safe for concurrent use.
type Compiler struct {
	checkParameterRefs bool
	fallbackDeployment string
	logger             *zap.Logger
	bus                events.EventBus
	recorder           Recorder
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventBus publishes an event for every stage transition on bus.
func WithEventBus(bus events.EventBus) Option {
	return func(c *Compiler) { c.bus = bus }
}

// WithRecorder reports stage durations and outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(c *Compiler) { c.recorder = r }
}

// WithParameterRefCheck toggles the placeholder reference validation rule.
func WithParameterRefCheck(enabled bool) Option {
	return func(c *Compiler) { c.checkParameterRefs = enabled }
}

// WithFallbackDeployment names a deployment to merge when neither the request
// nor defaults.deployment select one. It only applies to documents that
// declare a deployment of that name.
func WithFallbackDeployment(name string) Option {
	return func(c *Compiler) { c.fallbackDeployment = name }
}

// NewCompiler returns a Compiler with parameter reference checking enabled.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		checkParameterRefs: true,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses raw YAML or JSON text and compiles it.
func (c *Compiler) Compile(data []byte, req Request) (*Result, error) {
	tree, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	return c.CompileTree(tree, req)
}

// CompileTree compiles an already parsed generic tree. The tree is not
// modified.
func (c *Compiler) CompileTree(tree map[string]any, req Request) (*Result, error) {
	return c.CompileDocument(NewDocument(tree), req)
}

// CompileDocument validates doc and, if it is valid, renders and merges a
// private copy into the canonical descriptor. doc itself is never modified.
//
// A rejected document yields a *ValidationFailure together with a Result
// that carries the ordered diagnostics and stays at StageParsed.
func (c *Compiler) CompileDocument(doc *Document, req Request) (*Result, error) {
	res := &Result{Name: doc.Name()}
	res.advance(StageParsed)
	log := c.logger.With(zap.String("job", res.Name))
	c.publish(events.EventProtocolParsed, res.Name, nil, 0)

	start := time.Now()
	v := &Validator{CheckParameterRefs: c.checkParameterRefs}
	ok := v.Validate(doc)
	c.observe(StageValidated, start)
	if !ok {
		res.Errors = v.Errors()
		for _, e := range res.Errors {
			c.diagnostic(e.Keyword)
		}
		c.outcome(OutcomeRejected)
		c.publish(events.EventProtocolRejected, res.Name, res.Errors, time.Since(start))
		log.Info("protocol rejected",
			zap.Int("errors", len(res.Errors)),
			zap.String("first", res.Errors[0].Error()))
		return res, &ValidationFailure{Errors: res.Errors}
	}
	res.advance(StageValidated)
	c.publish(events.EventProtocolValidated, res.Name, nil, time.Since(start))
	log.Debug("protocol validated")

	work := doc.Clone()

	start = time.Now()
	if err := Render(work, req.Parameters); err != nil {
		c.outcome(OutcomeRenderFailed)
		c.publish(events.EventRenderFailed, res.Name, err.Error(), time.Since(start))
		log.Error("render failed", zap.Error(err))
		return res, err
	}
	c.observe(StageRendered, start)
	res.advance(StageRendered)
	c.publish(events.EventProtocolRendered, res.Name, nil, time.Since(start))

	start = time.Now()
	active, err := Merge(work, c.selectDeployment(work, req.Deployment))
	if err != nil {
		c.outcome(OutcomeMergeFailed)
		c.publish(events.EventMergeFailed, res.Name, err.Error(), time.Since(start))
		log.Warn("merge failed", zap.Error(err))
		return res, err
	}
	c.observe(StageMerged, start)
	res.advance(StageMerged)
	res.Deployment = active
	c.publish(events.EventProtocolMerged, res.Name, active, time.Since(start))

	res.Descriptor = work.Tree()
	res.advance(StageFinal)
	c.outcome(OutcomeCompiled)
	c.publish(events.EventProtocolCompiled, res.Name, active, 0)
	log.Debug("protocol compiled", zap.String("deployment", active))
	return res, nil
}

// Validate checks doc with the compiler's rule configuration without
// rendering it.
func (c *Compiler) Validate(doc *Document) ValidationResult {
	v := &Validator{CheckParameterRefs: c.checkParameterRefs}
	v.Validate(doc)
	return ValidationResult{Errors: v.Errors()}
}

// IsValidationFailure extracts the diagnostics of a rejected document.
func IsValidationFailure(err error) ([]ValidationError, bool) {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf.Errors, true
	}
	return nil, false
}

func (c *Compiler) selectDeployment(doc *Document, requested string) string {
	if requested != "" || c.fallbackDeployment == "" {
		return requested
	}
	if _, ok := doc.DefaultDeployment(); ok {
		return ""
	}
	if _, ok := doc.Deployment(c.fallbackDeployment); ok {
		return c.fallbackDeployment
	}
	return ""
}

func (c *Compiler) publish(typ events.EventType, job string, data any, d time.Duration) {
	if c.bus == nil {
		return
	}
	e := events.NewEvent(typ, job, data)
	e.Duration = d
	c.bus.Publish(e)
}

func (c *Compiler) observe(stage Stage, start time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveStage(stage, time.Since(start))
	}
}

func (c *Compiler) outcome(outcome string) {
	if c.recorder != nil {
		c.recorder.RecordOutcome(outcome)
	}
}

func (c *Compiler) diagnostic(keyword string) {
	if c.recorder != nil {
		c.recorder.RecordDiagnostic(keyword)
	}
}
