package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	fake "github.com/jrepp/prism-supervisor/pkg/testing/procmgr"
)

func TestSupervisor_RestartSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	s, l := newTestSupervisor(t, OneForOne, 1, 5*time.Second, []ChildSpec{permanent("w")},
		WithName("traced"), WithTracer(provider.Tracer("test")))
	l.Script("w", fake.Crash)

	err := s.Run(context.Background())
	require.True(t, IsErrorCode(err, ErrorCodeRestartIntensityExceeded), "got %v", err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	for _, span := range spans {
		assert.Equal(t, "supervisor.restart", span.Name())
		attrs := attribute.NewSet(span.Attributes()...)
		name, _ := attrs.Value("supervisor.name")
		assert.Equal(t, "traced", name.AsString())
		strategy, _ := attrs.Value("supervisor.strategy")
		assert.Equal(t, OneForOne.String(), strategy.AsString())
		childID, _ := attrs.Value("child.id")
		assert.Equal(t, "w", childID.AsString())
	}

	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "restart intensity exceeded", spans[1].Status().Description)
}
