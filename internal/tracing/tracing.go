// Package tracing wraps batch executors and loader fetchers in OpenTelemetry
// spans, one span per downstream call.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/dataloader"
)

// ScopeName is the instrumentation scope for tracers created by coalesce.
const ScopeName = "github.com/rshade/coalesce"

// Span attribute keys.
const (
	AttrBatcher    = attribute.Key("batch.name")
	AttrKeys       = attribute.Key("batch.keys")
	AttrFailedKeys = attribute.Key("batch.failed_keys")
	AttrFound      = attribute.Key("loader.found")
)

// Executor wraps exec so each call runs inside a "batch.execute" span. The
// span context is passed on to exec.
func Executor[K comparable, P, R any](
	exec batch.Executor[K, P, R],
	tracer trace.Tracer,
	name string,
) batch.Executor[K, P, R] {
	return batch.ExecutorFunc[K, P, R](func(ctx context.Context, items []batch.Item[K, P]) ([]batch.Result[R], error) {
		ctx, span := tracer.Start(ctx, "batch.execute: "+name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				AttrBatcher.String(name),
				AttrKeys.Int(len(items)),
			),
		)
		defer span.End()

		results, err := exec.Execute(ctx, items)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		span.SetAttributes(AttrFailedKeys.Int(failed))
		span.SetStatus(codes.Ok, "")
		return results, nil
	})
}

// Fetcher wraps f so each call runs inside a "loader.fetch" span.
func Fetcher[K comparable, V any](
	f dataloader.Fetcher[K, V],
	tracer trace.Tracer,
	name string,
) dataloader.Fetcher[K, V] {
	return dataloader.FetcherFunc[K, V](func(ctx context.Context, keys []K) (map[K]V, error) {
		ctx, span := tracer.Start(ctx, "loader.fetch: "+name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				AttrBatcher.String(name),
				AttrKeys.Int(len(keys)),
			),
		)
		defer span.End()

		values, err := f.Fetch(ctx, keys)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return values, err
		}
		span.SetAttributes(AttrFound.Int(len(values)))
		span.SetStatus(codes.Ok, "")
		return values, nil
	})
}
