package leadedit

import (
	"context"
	"testing"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestEditor_MutationSpans(t *testing.T) {
	t.Run("successful status update", func(t *testing.T) {
		sr := setupTestTracer(t)
		e, gw, _ := newTestEditor(t)
		server := baseLead()
		server.Status = lead.StatusWon
		gw.On("UpdateStatus", mock.Anything, "L1", lead.StatusWon, "").Return(&server, nil).Once()

		require.NoError(t, e.UpdateStatus(context.Background(), lead.StatusWon, ""))

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "leadedit.status", spans[0].Name())
		assert.Equal(t, "L1", spanAttr(spans[0], "lead.id"))
		assert.Equal(t, "status", spanAttr(spans[0], "mutation.kind"))
		assert.Equal(t, codes.Ok, spans[0].Status().Code)
	})

	t.Run("rejected column move", func(t *testing.T) {
		sr := setupTestTracer(t)
		e, gw, _ := newTestEditor(t)
		gw.On("MoveToColumn", mock.Anything, "L1", "col-won").Return(nil, errServer).Once()

		require.Error(t, e.MoveToColumn(context.Background(), "col-won"))

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "leadedit.column", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, errServer.Error(), spans[0].Status().Description)
	})
}
