package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitWithoutProjectSamplesLocally(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	shutdown, err := Init(context.Background(), Config{Enabled: true, ServiceName: "harvester", Version: "test", SampleRatio: 1})
	require.NoError(t, err)

	_, span := Start(context.Background(), "probe")
	require.True(t, span.SpanContext().IsSampled())
	End(span, nil)
	require.NoError(t, shutdown(context.Background()))
}

func TestStartAndEndRecordSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := Start(context.Background(), "ok", attribute.String("hall_ticket", "23XZ1A0501"))
	End(ok, nil)
	_, failed := Start(context.Background(), "failed")
	End(failed, errors.New("portal down"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "ok", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("hall_ticket", "23XZ1A0501"))
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "portal down", spans[1].Status().Description)
}
