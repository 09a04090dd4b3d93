package events

import (
	"encoding/json"
	"testing"

	"github.com/gomoku-arena/arena/internal/zobrist"
	"github.com/stretchr/testify/require"
)

func TestRunStartNullSeed(t *testing.T) {
	raw := RunStart("r1", "N=100", 15, "bot1", "bot2", 0, 0, 15_000_000, 5, 10, nil)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Nil(t, m["seed"])
	require.Equal(t, "run_start", m["type"])
}

func TestRunStartNumericSeed(t *testing.T) {
	seed := int64(42)
	raw := RunStart("r1", "N=100", 15, "bot1", "bot2", 0, 0, 15_000_000, 5, 10, &seed)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, float64(42), m["seed"])
}

func TestResultEmbedsMoveList(t *testing.T) {
	raw := Result("r1", 1, 0, []zobrist.Move{{X: 1, Y: 2}, {X: 3, Y: 4}}, 1, 1000, 200, 300)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	moves, ok := m["moves"].([]any)
	require.True(t, ok)
	require.Len(t, moves, 2)
}

func TestRunUpdateIsValidJSON(t *testing.T) {
	raw := RunUpdate("r1", 3, 1, 1, 5, 10, RunUpdateStats{Elo: 1020}, RunUpdateStats{Elo: 980}, true)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, true, m["is_done"])
}
