package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateCutoffRapfi(t *testing.T) {
	b := BotConfig{Command: []string{"./RapfiGomocup"}, AnnounceMs: 5000}
	require.Equal(t, 2*5000+1500, b.CalculateCutoff())
}

func TestCalculateCutoffNodeBound(t *testing.T) {
	b := BotConfig{Command: []string{"./bot"}, MaxNodes: 100, AnnounceMs: 5000}
	require.Equal(t, 60_000, b.CalculateCutoff())
}

func TestCalculateCutoffPlain(t *testing.T) {
	b := BotConfig{Command: []string{"./bot"}, AnnounceMs: 3000}
	require.Equal(t, 3000, b.CalculateCutoff())
}

func TestCalculateCutoffUserOverride(t *testing.T) {
	b := BotConfig{Command: []string{"./RapfiGomocup"}, AnnounceMs: 5000, CutoffMs: 9000, CutoffIsUser: true}
	require.Equal(t, 9000, b.CalculateCutoff())
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"SIZE":      "9",
		"MAX_PAIRS": "50",
		"RISK":      "0.1",
		"API_URL":   "http://example.invalid/",
	}
	ApplyEnv(&cfg, func(k string) string { return env[k] })
	require.Equal(t, 9, cfg.BoardSize)
	require.Equal(t, []int{50}, cfg.Batch.MaxPairs)
	require.Equal(t, 0.1, cfg.Risk)
	require.Equal(t, "http://example.invalid", cfg.ApiURL)
}
