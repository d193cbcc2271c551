package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := tracer
	tracer = tp.Tracer("test")
	t.Cleanup(func() { tracer = prev })

	_, ok := StartSpan(context.Background(), "Reconcile.ok", "m1", attribute.Int("selection.size", 2))
	EndSpan(ok, nil)

	_, failed := StartSpan(context.Background(), "Reconcile.failed", "m1")
	EndSpan(failed, errors.New("pin mismatch"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "Reconcile.ok", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("merchant.id", "m1"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("selection.size", 2))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "pin mismatch", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}
