package fn

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errNilErr = errors.New("fn: failed result without error")

const tracerName = "github.com/WessleyAI/wessley-health/pkg/fn"

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		b, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		return second(ctx, b)
	}
}

// Pipeline composes same-typed stages in order.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		r := Ok(t)
		for _, s := range stages {
			v, err := r.Unwrap()
			if err != nil {
				return r
			}
			r = s(ctx, v)
		}
		return r
	}
}

// BatchStage runs stage over a slice with bounded concurrency. Every item is
// attempted; results keep input order.
func BatchStage[T, U any](workers int, stage Stage[T, U]) Stage[[]T, []Result[U]] {
	return func(ctx context.Context, items []T) Result[[]Result[U]] {
		return Ok(ParMap(items, workers, func(item T) Result[U] {
			if err := ctx.Err(); err != nil {
				return Err[U](err)
			}
			return stage(ctx, item)
		}))
	}
}

// TracedStage wraps a stage in an OpenTelemetry span named name. Failures
// are recorded on the span.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if err := result.Error(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Bool("stage.failed", true))
		}
		return result
	}
}
