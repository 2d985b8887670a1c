package observer

import (
	"context"
	"time"

	"github.com/havenlab/haven"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	havenlog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a haven.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner haven.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs.
func WrapProvider(inner haven.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) ListModels(ctx context.Context) ([]haven.ModelInfo, error) {
	return o.inner.ListModels(ctx)
}

func (o *ObservedProvider) Chat(ctx context.Context, req haven.ChatRequest) (haven.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "chat.complete", trace.WithAttributes(
		AttrChatModel.String(o.effectiveModel(req)),
		AttrChatProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, req, "chat", status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req haven.ChatRequest, ch chan<- haven.StreamEvent) (haven.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		AttrChatModel.String(o.effectiveModel(req)),
		AttrChatProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Forward through a buffered channel to count chunks. The buffer is
	// sized so the inner provider never blocks on send while the caller
	// has not yet started draining ch.
	bufSize := cap(ch)
	if bufSize < 64 {
		bufSize = 64
	}
	wrappedCh := make(chan haven.StreamEvent, bufSize)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for ev := range wrappedCh {
			if ev.Type == haven.StreamDelta {
				chunks++
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	resp, err := o.inner.ChatStream(ctx, req, wrappedCh)
	<-done // wait for the forwarder before reading chunks

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, req, "chat_stream", status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) effectiveModel(req haven.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return o.model
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, req haven.ChatRequest, method, status string, durationMs float64, usage haven.Usage) {
	model := o.effectiveModel(req)
	attrs := metric.WithAttributes(
		AttrChatModel.String(model),
		AttrChatProvider.String(o.inner.Name()),
		AttrChatMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrChatModel.String(model),
		AttrChatProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrChatModel.String(model),
		AttrChatProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.ChatRequests.Add(ctx, 1, metric.WithAttributes(
		AttrChatModel.String(model),
		AttrChatProvider.String(o.inner.Name()),
		AttrChatMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.ChatDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec havenlog.Record
	rec.SetSeverity(havenlog.SeverityInfo)
	rec.SetBody(havenlog.StringValue("chat call completed"))
	rec.AddAttributes(
		havenlog.String("chat.model", model),
		havenlog.String("chat.provider", o.inner.Name()),
		havenlog.String("chat.method", method),
		havenlog.Int("chat.tokens.input", usage.InputTokens),
		havenlog.Int("chat.tokens.output", usage.OutputTokens),
		havenlog.Float64("chat.duration_ms", durationMs),
		havenlog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// Compile-time interface check.
var _ haven.Provider = (*ObservedProvider)(nil)
