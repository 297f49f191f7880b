package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	loaded, err := Resolve(FileConfig{})
	require.NoError(t, err)

	assert.Equal(t, 200*time.Millisecond, loaded.SignalInterval)
	assert.Equal(t, 0.99, loaded.ProximityThreshold)
	assert.Equal(t, "15:15:00", loaded.IntradayCutoff.String())
	assert.Equal(t, "15:30:00", loaded.ExpiryTime.String())
	assert.Equal(t, "16:00:00", loaded.CleanupTime.String())
	assert.Equal(t, 3000, loaded.Dispatch.MaxOrdersPerDay)
	assert.Equal(t, 2550, loaded.Dispatch.AlertThreshold)
	assert.Equal(t, 200*time.Millisecond, loaded.Dispatch.MinInterval)
	assert.Equal(t, 0.25, loaded.Levels.TriggerAdjustmentPct)
	assert.True(t, loaded.Levels.UsePercentage)
	assert.Equal(t, "state", loaded.StateDir)
	assert.Equal(t, 15*time.Minute, loaded.VerifyInterval)
	assert.Equal(t, 5*time.Minute, loaded.FlushInterval)
	assert.False(t, loaded.CancelOnShutdown)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"feed": {"url": "wss://ticks.example.com/stream", "signalIntervalMs": 100},
		"evaluation": {"intradayCutoff": "15:00:00"},
		"dispatch": {"maxOrdersPerDay": 50, "alertThreshold": 40},
		"levels": {"usePercentage": false, "orderPlacementDiffPct": 0.5},
		"storage": {"postgresDsn": "postgres://trigger@localhost/trigger"},
		"shutdown": {"cancelOrders": true}
	}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://ticks.example.com/stream", loaded.FeedURL)
	assert.Equal(t, 100*time.Millisecond, loaded.SignalInterval)
	assert.Equal(t, "15:00:00", loaded.IntradayCutoff.String())
	assert.Equal(t, "15:30:00", loaded.ExpiryTime.String())
	assert.Equal(t, 50, loaded.Dispatch.MaxOrdersPerDay)
	assert.Equal(t, 40, loaded.Dispatch.AlertThreshold)
	assert.False(t, loaded.Levels.UsePercentage)
	assert.Equal(t, 0.5, loaded.Levels.OrderPlacementDiffPct)
	assert.Equal(t, "postgres://trigger@localhost/trigger", loaded.PostgresDSN)
	// An explicit DSN leaves the file store unconfigured.
	assert.Empty(t, loaded.StateDir)
	assert.True(t, loaded.CancelOnShutdown)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestResolveRejectsBadValues(t *testing.T) {
	_, err := Resolve(FileConfig{Evaluation: EvaluationConfig{ProximityThreshold: 1.5}})
	assert.Error(t, err)

	_, err = Resolve(FileConfig{Dispatch: DispatchConfig{MaxOrdersPerDay: 10, AlertThreshold: 20}})
	assert.Error(t, err)

	_, err = Resolve(FileConfig{Evaluation: EvaluationConfig{IntradayCutoff: "half past noon"}})
	assert.Error(t, err)
}
