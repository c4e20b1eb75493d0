package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracing_Disabled(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracing(false, "vmorgd", &buf)
	require.NoError(t, err)

	_, span := tr.Tracer("test").Start(context.Background(), "noop")
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.Zero(t, buf.Len())
}

func TestNewTracing_ExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracing(true, "vmorgd", &buf)
	require.NoError(t, err)

	_, span := tr.Tracer("test").Start(context.Background(), "requestengine.CreateNewRequest")
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "requestengine.CreateNewRequest")
	assert.Contains(t, buf.String(), "vmorgd")
}
