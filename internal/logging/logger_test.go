// Package logging includes tests for the zap logger builder.
package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestNew builds development and production loggers.
func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", dev))
		assert.Equal(t, dev, logger.Core().Enabled(zap.DebugLevel))
		_ = Sync(logger)
	}
}

// TestSyncNil ensures Sync tolerates a nil logger.
func TestSyncNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Sync(nil))
	assert.NoError(t, Sync(zap.NewNop()))
}
