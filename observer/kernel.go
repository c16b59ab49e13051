package observer

import (
	"context"
	"time"

	"github.com/nevindra/nbexec"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedManager wraps a KernelManager so every client it hands out
// emits lifecycle telemetry for its executions.
type ObservedManager struct {
	inner nbexec.KernelManager
	inst  *Instruments
}

var _ nbexec.KernelManager = (*ObservedManager)(nil)

// WrapManager returns an instrumented KernelManager.
func WrapManager(inner nbexec.KernelManager, inst *Instruments) *ObservedManager {
	return &ObservedManager{inner: inner, inst: inst}
}

func (o *ObservedManager) Has(kernelID string) bool { return o.inner.Has(kernelID) }

func (o *ObservedManager) Client(kernelID string) (nbexec.KernelClient, error) {
	client, err := o.inner.Client(kernelID)
	if err != nil {
		return nil, err
	}
	return &observedClient{KernelClient: client, kernelID: kernelID, inst: o.inst}, nil
}

// observedClient emits a kernel.execute span per interactive execution
// that records each stdin prompt as an event. Output callbacks are
// passed through without span events.
type observedClient struct {
	nbexec.KernelClient
	kernelID string
	session  string
	inst     *Instruments
}

func (c *observedClient) SetSession(id string) {
	c.session = id
	c.KernelClient.SetSession(id)
}

func (c *observedClient) ExecuteInteractive(ctx context.Context, code string, outputHook nbexec.OutputHook, stdinHook nbexec.StdinHook) (nbexec.Reply, error) {
	ctx, span := c.inst.Tracer.Start(ctx, "kernel.execute", trace.WithAttributes(
		AttrKernelID.String(c.kernelID),
		AttrRequestID.String(c.session),
	))
	defer span.End()
	start := time.Now()

	if stdinHook != nil {
		inner := stdinHook
		stdinHook = func(msg nbexec.Message) {
			c.inst.InputRequests.Add(ctx, 1, metric.WithAttributes(AttrKernelID.String(c.kernelID)))
			span.AddEvent("kernel.input_request")
			inner(msg)
		}
	}

	reply, err := c.KernelClient.ExecuteInteractive(ctx, code, outputHook, stdinHook)

	durationMs := float64(time.Since(start).Milliseconds())
	status := reply.Content.Status
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.inst.Executions.Add(ctx, 1, metric.WithAttributes(
		AttrKernelID.String(c.kernelID),
		attribute.String("status", status),
	))
	c.inst.ExecutionDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrKernelID.String(c.kernelID),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("kernel execution completed"))
	rec.AddAttributes(
		otellog.String("kernel.id", c.kernelID),
		otellog.String("kernel.request_id", c.session),
		otellog.String("status", status),
		otellog.Float64("duration_ms", durationMs),
	)
	c.inst.Logger.Emit(ctx, rec)

	return reply, err
}
