// Package pipeline runs read endpoints as four ordered stages: skeleton,
// hydration, rules and presentation.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/blackmichael/bluesky-appview/internal/metrics"
)

var tracer = otel.Tracer("github.com/blackmichael/bluesky-appview/internal/pipeline")

// SkeletonFunc resolves the identifiers a request is about. It may call the
// data plane but must not fetch full entities.
type SkeletonFunc[P, S any] func(ctx context.Context, params P) (S, error)

// HydrationFunc fetches everything presentation will need.
type HydrationFunc[P, S, H any] func(ctx context.Context, params P, skeleton S) (H, error)

// RulesFunc filters the skeleton using hydrated state. It must not fetch.
type RulesFunc[P, S, H any] func(ctx context.Context, params P, skeleton S, state H) S

// PresentationFunc renders the response body.
type PresentationFunc[P, S, H, B any] func(ctx context.Context, params P, skeleton S, state H) (B, error)

// HeadersFunc computes response headers from the finished run.
type HeadersFunc[P, S, H any] func(params P, skeleton S, state H) map[string]string

// NoRules is the identity rules stage, for endpoints that filter at render
// time instead.
func NoRules[P, S, H any](_ context.Context, _ P, skeleton S, _ H) S {
	return skeleton
}

// Result is a rendered body plus any headers the endpoint exposes.
type Result[B any] struct {
	Body    B
	Headers map[string]string
}

// Pipeline is a configured endpoint. It holds no per-request state and is
// safe for concurrent use when its stage functions are.
type Pipeline[P, S, H, B any] struct {
	name         string
	skeleton     SkeletonFunc[P, S]
	hydration    HydrationFunc[P, S, H]
	rules        RulesFunc[P, S, H]
	presentation PresentationFunc[P, S, H, B]
	headers      HeadersFunc[P, S, H]
}

// Option customises a Pipeline.
type Option[P, S, H, B any] func(*Pipeline[P, S, H, B])

// WithHeaders attaches a headers function.
func WithHeaders[P, S, H, B any](fn HeadersFunc[P, S, H]) Option[P, S, H, B] {
	return func(p *Pipeline[P, S, H, B]) { p.headers = fn }
}

// New builds a pipeline. A nil rules function means NoRules.
func New[P, S, H, B any](
	name string,
	skeleton SkeletonFunc[P, S],
	hydration HydrationFunc[P, S, H],
	rules RulesFunc[P, S, H],
	presentation PresentationFunc[P, S, H, B],
	opts ...Option[P, S, H, B],
) *Pipeline[P, S, H, B] {
	if rules == nil {
		rules = NoRules[P, S, H]
	}
	p := &Pipeline[P, S, H, B]{
		name:         name,
		skeleton:     skeleton,
		hydration:    hydration,
		rules:        rules,
		presentation: presentation,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline's name, usually the XRPC method it serves.
func (p *Pipeline[P, S, H, B]) Name() string {
	return p.name
}

// Run executes the stages in order. An error from any stage aborts the run,
// is returned as is and no body is returned.
func (p *Pipeline[P, S, H, B]) Run(ctx context.Context, params P) (Result[B], error) {
	ctx, span := tracer.Start(ctx, p.name)
	defer span.End()

	fail := func(stage string, err error) (Result[B], error) {
		metrics.PipelineErrors.WithLabelValues(p.name, stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return Result[B]{}, err
	}

	var skeleton S
	err := p.stage(ctx, "skeleton", func(ctx context.Context) error {
		var err error
		skeleton, err = p.skeleton(ctx, params)
		return err
	})
	if err != nil {
		return fail("skeleton", err)
	}

	var state H
	err = p.stage(ctx, "hydration", func(ctx context.Context) error {
		var err error
		state, err = p.hydration(ctx, params, skeleton)
		return err
	})
	if err != nil {
		return fail("hydration", err)
	}

	_ = p.stage(ctx, "rules", func(ctx context.Context) error {
		skeleton = p.rules(ctx, params, skeleton, state)
		return nil
	})

	var body B
	err = p.stage(ctx, "presentation", func(ctx context.Context) error {
		var err error
		body, err = p.presentation(ctx, params, skeleton, state)
		return err
	})
	if err != nil {
		return fail("presentation", err)
	}

	res := Result[B]{Body: body}
	if p.headers != nil {
		res.Headers = p.headers(params, skeleton, state)
	}
	return res, nil
}

func (p *Pipeline[P, S, H, B]) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, p.name+"."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.PipelineStageDuration.WithLabelValues(p.name, name).Observe(metrics.SinceMillis(start))
	return err
}
