package llm

import (
	"context"

	"github.com/RichardoC/goblin/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/RichardoC/goblin/internal/llm"

// Traced wraps c so every call produces one span. A nil tp uses the
// global tracer provider.
func Traced(c Completer, provider string, tp trace.TracerProvider) Completer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracedCompleter{next: c, provider: provider, tracer: tp.Tracer(tracerName)}
}

type tracedCompleter struct {
	next     Completer
	provider string
	tracer   trace.Tracer
}

func (t *tracedCompleter) Complete(ctx context.Context, history []models.Message, opts ...CallOption) (string, error) {
	ctx, span := t.start(ctx, "llm.complete", history, opts)
	defer span.End()

	reply, err := t.next.Complete(ctx, history, opts...)
	t.finish(span, reply, err)
	return reply, err
}

// Stream falls back to Complete when the wrapped completer cannot stream.
func (t *tracedCompleter) Stream(ctx context.Context, history []models.Message, onDelta func(string) error, opts ...CallOption) (string, error) {
	s, ok := t.next.(Streamer)
	if !ok {
		reply, err := t.Complete(ctx, history, opts...)
		if err == nil && onDelta != nil {
			err = onDelta(reply)
		}
		return reply, err
	}

	ctx, span := t.start(ctx, "llm.stream", history, opts)
	defer span.End()

	chunks := 0
	reply, err := s.Stream(ctx, history, func(delta string) error {
		chunks++
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	}, opts...)
	span.SetAttributes(attribute.Int("llm.stream.chunks", chunks))
	t.finish(span, reply, err)
	return reply, err
}

func (t *tracedCompleter) start(ctx context.Context, name string, history []models.Message, opts []CallOption) (context.Context, trace.Span) {
	co := applyOptions("", opts)
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", t.provider),
		attribute.String("llm.model", co.Model),
		attribute.Int("llm.history.length", len(history)),
	))
}

func (t *tracedCompleter) finish(span trace.Span, reply string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindName(err))
		span.SetAttributes(attribute.String("llm.error.kind", KindName(err)))
		return
	}
	span.SetAttributes(attribute.Int("llm.reply.length", len(reply)))
}
