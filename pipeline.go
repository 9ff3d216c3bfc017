package auth

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/codes"
)

// PipelineRequest is the input of one protected request
type PipelineRequest struct {
	Token         string
	RequiredRoles []Role
	Operation     OperationContext
}

// StageResult is the typed output of a stage, consumed by the next one
type StageResult struct {
	Stage     string
	Principal *IdentityContext
	Decision  Decision
	Events    []AuditEvent
	Err       error
}

// Denied reports whether a stage stopped the request
func (r StageResult) Denied() bool {
	return r.Err != nil
}

// Stage is one step of the request pipeline
type Stage interface {
	Name() string
	Run(ctx context.Context, req PipelineRequest, prev StageResult) StageResult
}

// Pipeline runs authenticate then authorize, stopping at the first denial,
// and always finishes with the audit stage so every decision taken is
// recorded before the caller sees the result.
type Pipeline struct {
	coordinator *Coordinator
	stages      []Stage
	audit       Stage
}

// NewPipeline builds the default pipeline over a coordinator
func NewPipeline(c *Coordinator, extra ...Stage) *Pipeline {
	stages := []Stage{
		authenticateStage{c: c},
		authorizeStage{c: c},
	}
	return &Pipeline{
		coordinator: c,
		stages:      append(stages, extra...),
		audit:       auditStage{c: c},
	}
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return append(names, p.audit.Name())
}

// Run executes the pipeline for req
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest) StageResult {
	ctx, _ = EnsureCorrelationID(ctx)
	ctx, span := p.coordinator.tracer.Start(ctx, "auth.pipeline")
	defer span.End()

	var result StageResult
	for _, stage := range p.stages {
		result = stage.Run(ctx, req, result)
		if result.Denied() {
			break
		}
	}

	result = p.audit.Run(ctx, req, result)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, TextCode(result.Err))
	}
	return result
}

type authenticateStage struct {
	c *Coordinator
}

func (authenticateStage) Name() string { return "authenticate" }

func (s authenticateStage) Run(ctx context.Context, req PipelineRequest, prev StageResult) StageResult {
	principal, event, err := s.c.authenticate(ctx, req.Token)
	return StageResult{
		Stage:     s.Name(),
		Principal: principal,
		Events:    append(slices.Clone(prev.Events), event),
		Err:       err,
	}
}

type authorizeStage struct {
	c *Coordinator
}

func (authorizeStage) Name() string { return "authorize" }

// Run skips the decision when the request needs neither roles nor permissions
func (s authorizeStage) Run(ctx context.Context, req PipelineRequest, prev StageResult) StageResult {
	if len(req.RequiredRoles) == 0 && len(req.Operation.RequiredPermissions) == 0 {
		prev.Stage = s.Name()
		prev.Decision = allow()
		return prev
	}

	decision, event := s.c.authorize(ctx, prev.Principal, req.RequiredRoles, req.Operation)
	return StageResult{
		Stage:     s.Name(),
		Principal: prev.Principal,
		Decision:  decision,
		Events:    append(slices.Clone(prev.Events), event),
		Err:       decision.Err,
	}
}

type auditStage struct {
	c *Coordinator
}

func (auditStage) Name() string { return "audit" }

// Run records every pending event in order. Sink failures never change the result.
func (s auditStage) Run(ctx context.Context, _ PipelineRequest, prev StageResult) StageResult {
	recorded := make([]AuditEvent, 0, len(prev.Events))
	for _, event := range prev.Events {
		recorded = append(recorded, s.c.auditor.Record(ctx, event))
	}
	prev.Events = recorded
	return prev
}
