package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"signal-intel/internal/config"
)

func TestSimulateAlert(t *testing.T) {
	ctx := context.Background()

	disabled := NewApp(&config.Config{}, zerolog.Nop())
	assert.EqualError(t, disabled.SimulateAlert(ctx, SimulateOptions{Direction: "bullish", Confidence: 0.9}), "alerting is disabled")

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Pipeline.DefaultInstrument = "EUR/USD"
	enabled := NewApp(cfg, zerolog.Nop())
	assert.EqualError(t, enabled.SimulateAlert(ctx, SimulateOptions{Direction: "bullish", Confidence: 1.5}), "--confidence must be within (0,1]")
	assert.NoError(t, enabled.SimulateAlert(ctx, SimulateOptions{Direction: "bullish", Confidence: 0.9}))
}
