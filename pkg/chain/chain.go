// Package chain composes prompt templates, models, output parsers and
// retrievers into runnable pipelines.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xhad/chainserve/pkg/chain"

// ErrMissingInput is returned when a required input key is absent.
var ErrMissingInput = errors.New("missing input")

// Input holds the template variables of one invocation.
type Input map[string]any

// Output is the result of one invocation. Documents is set by retrieval
// chains to the context the answer was grounded on.
type Output struct {
	Text      string
	Documents []schema.Document
}

// StreamFunc receives output chunks as the model produces them.
type StreamFunc func(ctx context.Context, chunk string) error

// Schema describes the inputs a Runnable accepts.
type Schema struct {
	Required []string
	// Optional lists history placeholders; their values are lists of
	// prior messages.
	Optional []string
	// Primary is the key a bare string input is assigned to.
	Primary string
	// WithDocuments is set when the output carries retrieved documents.
	WithDocuments bool
}

// Runnable is a pipeline that can be invoked once or streamed.
type Runnable interface {
	Name() string
	Schema() Schema
	Invoke(ctx context.Context, input Input) (Output, error)
	Stream(ctx context.Context, input Input, fn StreamFunc) (Output, error)
}

// Validate checks that every required key of s is present in input.
func (s Schema) Validate(input Input) error {
	for _, k := range s.Required {
		if _, ok := input[k]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, k)
		}
	}
	return nil
}

func startSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op, trace.WithAttributes(
		attribute.String("chain.name", name),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
