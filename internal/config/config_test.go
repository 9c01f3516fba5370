package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "database:\n  driver: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.CollectInterval)
	assert.Equal(t, 15*time.Second, cfg.Providers.Classifier.Timeout)
	assert.Equal(t, 45*time.Second, cfg.Providers.Pattern.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Providers.Corroboration.Timeout)
	for name, p := range map[string]ProviderConfig{
		"classifier":    cfg.Providers.Classifier,
		"pattern":       cfg.Providers.Pattern,
		"corroboration": cfg.Providers.Corroboration,
		"meta":          cfg.Providers.Meta,
		"search":        cfg.Providers.Search,
		"quote":         cfg.Providers.Quote,
	} {
		assert.Equal(t, 5*time.Second, p.Backoff, "%s backoff", name)
	}
	assert.Equal(t, 0.8, cfg.Alerting.MinConfidence)
	assert.Equal(t, 0.4, cfg.Validation.ThresholdPct)
	assert.Equal(t, "EUR/USD", cfg.Pipeline.DefaultInstrument)
	assert.Equal(t, 50*time.Second, cfg.Collector.Budget)
	require.NotEmpty(t, cfg.Collector.Instruments)
	assert.Equal(t, "EUR/USD", cfg.TrackedSymbols()[0])
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 0.7, cfg.Pipeline.CorroborationThreshold)
}

func TestLoadReadsKeysFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "database:\n  driver: memory\n")
	writeFile(t, dir, ".env", "SIGNALINTEL_PROVIDERS_CLASSIFIER_KEYS=k1,k2\n")
	t.Cleanup(func() { _ = os.Unsetenv("SIGNALINTEL_PROVIDERS_CLASSIFIER_KEYS") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Providers.Classifier.Keys)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "database:\n  driver: sqlite\nvalidation:\n  threshold_pct: 0.5\n")
	t.Setenv("SIGNALINTEL_VALIDATION_THRESHOLD_PCT", "0.6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Validation.ThresholdPct)
	assert.Equal(t, "signal-intel.db", cfg.Database.SQLitePath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "driver.yaml", "database:\n  driver: mongo\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "conf.yaml", "database:\n  driver: memory\nalerting:\n  min_confidence: 1.5\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "tg.yaml", "database:\n  driver: memory\nalerting:\n  telegram:\n    enabled: true\n"))
	assert.EqualError(t, err, "alerting.telegram.bot_token is required")

	_, err = Load(writeFile(t, dir, "chat.yaml", "database:\n  driver: memory\nalerting:\n  telegram:\n    enabled: true\n    bot_token: abc\n"))
	assert.EqualError(t, err, "alerting.telegram.chat_id is required")
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	assert.Equal(t, 10, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
