package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingruber/h5p-cache/internal/config"
)

func TestSetupTelemetryWithoutSentry(t *testing.T) {
	cleanup, err := SetupTelemetry(config.SentryConfig{Enabled: false}, "dev")
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	assert.NotPanics(t, func() {
		CaptureError(context.Background(), errors.New("boom"))
		cleanup()
	})
}
