package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"pintrainer/internal/domain"
	"pintrainer/internal/infra/config"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TracerConfig
		wantNoop bool
		wantErr  bool
	}{
		{name: "disabled", cfg: config.TracerConfig{Enabled: false, Exporter: "stdout"}, wantNoop: true},
		{name: "noop", cfg: config.TracerConfig{Enabled: true, Exporter: "noop"}, wantNoop: true},
		{name: "empty exporter", cfg: config.TracerConfig{Enabled: true}, wantNoop: true},
		{name: "stdout", cfg: config.TracerConfig{Enabled: true, Exporter: "stdout"}},
		{name: "unsupported", cfg: config.TracerConfig{Enabled: true, Exporter: "zipkin"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer shutdown(context.Background())

			_, isNoop := otel.GetTracerProvider().(noop.TracerProvider)
			assert.Equal(t, tt.wantNoop, isNoop)
		})
	}
}

func recordingProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestRecordErrorTagsErrorCode(t *testing.T) {
	rec := recordingProvider(t)

	_, span := StartSpan(context.Background(), "trainer.connect")
	RecordError(span, &domain.ConflictError{McuPin: "PA0", Attempted: "DQ", Owner: "Vdd"})
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("error.code", string(domain.CodePinConflict)))
}

func TestRecordErrorUnknownHasNoCode(t *testing.T) {
	rec := recordingProvider(t)

	_, span := StartSpan(context.Background(), "x")
	RecordError(span, errors.New("boom"))
	span.End()

	for _, kv := range rec.Ended()[0].Attributes() {
		assert.NotEqual(t, attribute.Key("error.code"), kv.Key)
	}
}

func TestSetOKAndAttrs(t *testing.T) {
	rec := recordingProvider(t)

	_, span := StartSpan(context.Background(), "trainer.verify")
	span.SetAttributes(SessionAttrs("01J", "TMP36")...)
	span.SetAttributes(IntAttr("connected", 3), BoolAttr("all_correct", true), StringAttr("group", "A"))
	SetOK(span)
	span.End()

	s := rec.Ended()[0]
	assert.Equal(t, codes.Ok, s.Status().Code)
	assert.Contains(t, s.Attributes(), attribute.String("session.id", "01J"))
	assert.Contains(t, s.Attributes(), attribute.String("sensor", "TMP36"))
	assert.Contains(t, s.Attributes(), attribute.Bool("all_correct", true))
}
