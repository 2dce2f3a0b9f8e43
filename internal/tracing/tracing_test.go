package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitInstallsTracerProviderAndShutdownSucceeds(t *testing.T) {
	shutdown := Init()
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	tr := Tracer()
	_, span := tr.Start(context.Background(), "test-span")
	defer span.End()
	require.NotNil(t, span)
}
