package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnema/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	_ = os.Unsetenv("MNEMA_PORT")
	_ = os.Unsetenv("MNEMA_STORAGE_ENGINE")

	cfg := config.Load()

	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.SecurityMode)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, 2000, cfg.Retrieval.DefaultMaxTokens)
	assert.Equal(t, 14.0, cfg.Retrieval.HalfLifeDays)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MNEMA_PORT", "9090")
	t.Setenv("MNEMA_STORAGE_ENGINE", "postgres")
	t.Setenv("MNEMA_RETRIEVAL_TIMEOUT", "5s")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.TotalTimeout)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
retrieval:
  tier2_top_n: 25
`), 0o600))

	cfg := config.Load()
	require.NoError(t, cfg.LoadFile(path, false))

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Retrieval.Tier2TopN)
	// Untouched values keep their defaults.
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := config.Load()
	assert.NoError(t, cfg.LoadFile("/nonexistent/mnema.yaml", true))
	assert.Error(t, cfg.LoadFile("/nonexistent/mnema.yaml", false))
}

func TestValidate(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		cfg := config.Load()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown engine", func(t *testing.T) {
		cfg := config.Load()
		cfg.Storage.Engine = "mongodb"
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive rate limit", func(t *testing.T) {
		cfg := config.Load()
		cfg.Server.RateLimit = 0
		assert.Error(t, cfg.Validate())
		cfg.Server.RateLimit = -5
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero rate burst", func(t *testing.T) {
		cfg := config.Load()
		cfg.Server.RateBurst = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("production requires token", func(t *testing.T) {
		cfg := config.Load()
		cfg.Server.SecurityMode = "production"
		cfg.Server.APIToken = ""
		assert.Error(t, cfg.Validate())

		cfg.Server.APIToken = "secret"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("shares must sum to one", func(t *testing.T) {
		cfg := config.Load()
		cfg.Retrieval.SummaryShare = 0.5
		cfg.Retrieval.EntityShare = 0.5
		cfg.Retrieval.MatchShare = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("retention bounds", func(t *testing.T) {
		cfg := config.Load()
		cfg.Decay.Bands[0].Retention = 1.5
		assert.Error(t, cfg.Validate())
	})
}

func TestDefaultDecayBands(t *testing.T) {
	bands := config.DefaultDecayBands()
	require.Len(t, bands, 5)

	var critical *config.DecayBand
	for i := range bands {
		if bands[i].Tier == "critical" {
			critical = &bands[i]
		}
	}
	require.NotNil(t, critical)
	assert.Equal(t, time.Duration(0), critical.Threshold, "critical tier must never decay")
	assert.Equal(t, 1.0, critical.Retention)
}
