package openings

import (
	"strings"
	"testing"

	"github.com/gomoku-arena/arena/internal/zobrist"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesMoves(t *testing.T) {
	input := "h8i9\n\nA1b2\r\n"
	openings, err := Load(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, openings, 2)
	require.Equal(t, []zobrist.Move{{X: 7, Y: 7}, {X: 8, Y: 8}}, openings[0])
	require.Equal(t, []zobrist.Move{{X: 0, Y: 0}, {X: 1, Y: 1}}, openings[1])
}

func TestParseLineStopsAtMalformed(t *testing.T) {
	moves := parseLine("a1b")
	require.Equal(t, []zobrist.Move{{X: 0, Y: 0}}, moves)
}
