package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), common.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProviders *Providers
	assert.NoError(t, nilProviders.Shutdown(context.Background()))
}

func TestInit_StdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	p, err := initWith(context.Background(), common.TelemetryConfig{
		Enabled:     true,
		ServiceName: "docanalyzer-test",
		SampleRate:  1,
	}, zaptest.NewLogger(t), &buf)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "unit.span")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "unit.span")
	assert.Contains(t, buf.String(), "docanalyzer-test")
}
