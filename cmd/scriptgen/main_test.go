package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/script-studio/internal/config"
	"github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinish_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.Outcome
		code    int
		target  error
	}{
		{
			name:    "job failed",
			outcome: domain.FailedOutcome("job-1", "quota exceeded"),
			code:    exitFailure,
			target:  domain.ErrJobFailed,
		},
		{
			name:    "connection lost",
			outcome: domain.ConnectionLostOutcome("job-1", errors.New("dial tcp: refused")),
			code:    exitConnectionLost,
			target:  domain.ErrConnectionLost,
		},
		{
			name:    "canceled",
			outcome: domain.CanceledOutcome("job-1"),
			code:    exitCanceled,
			target:  domain.ErrCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := finish(tt.outcome, "")
			require.Error(t, err)

			var ee *exitError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.code, ee.code)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestFinish_WritesScriptFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "script.txt")

	err := finish(domain.SucceededOutcome("job-1", "Hook. Body. Call to action."), out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Hook. Body. Call to action.\n", string(data))
}

func TestDescribeValidation(t *testing.T) {
	_, err := domain.NewJobRequest("", "travel", domain.Credentials{Gemini: "gem-key"})
	require.Error(t, err)

	err = describeValidation(err)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, exitFailure, ee.code)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "-handle is required")
	assert.Contains(t, err.Error(), "APIFY_API_KEY is not set")
	assert.NotContains(t, err.Error(), "-topic")
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		t.Setenv(config.EnvBackendURL, "")

		cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)

		assert.Equal(t, config.DefaultBackendURL, cfg.Backend.BaseURL)
		assert.Equal(t, config.DefaultPollInterval, cfg.Poller.Interval)
		assert.Equal(t, "stderr", cfg.Logging.Output)
		assert.NoError(t, cfg.ValidateCLIConfig())
	})

	t.Run("env overrides backend url", func(t *testing.T) {
		t.Setenv(config.EnvBackendURL, "http://backend.internal:5000")

		cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "http://backend.internal:5000", cfg.Backend.BaseURL)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		_, err := loadConfig("../../internal/config/testdata/malformed.yaml")
		assert.Error(t, err)
	})
}
