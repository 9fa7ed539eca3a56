package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestOTelTracerWithInjectedTracer(t *testing.T) {
	tr := New("test", WithTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), "op", attribute.String("k", "v"))
	assert.NotNil(t, ctx)
	span.SetAttributes(attribute.Int("n", 1))
	assert.NotPanics(t, func() { span.End(errors.New("boom")) })
}

func TestNewFallsBackToGlobalProvider(t *testing.T) {
	tr := New("throttleguard/test")
	assert.NotNil(t, tr.tracer)

	_, span := tr.Start(context.Background(), "op")
	assert.NotPanics(t, func() { span.End(nil) })
}
