package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckWinHorizontal(t *testing.T) {
	b := NewBoard(15)
	for x := 0; x < 5; x++ {
		b.Set(x, 0, Black)
	}
	require.True(t, b.CheckWin(4, 0, Black))
}

func TestCheckWinDiagonal(t *testing.T) {
	b := NewBoard(15)
	for i := 0; i < 5; i++ {
		b.Set(i, i, White)
	}
	require.True(t, b.CheckWin(2, 2, White))
}

func TestCheckWinNotYet(t *testing.T) {
	b := NewBoard(15)
	for x := 0; x < 4; x++ {
		b.Set(x, 0, Black)
	}
	require.False(t, b.CheckWin(3, 0, Black))
}

func TestCheckWinAntiDiagonal(t *testing.T) {
	b := NewBoard(15)
	pts := [][2]int{{4, 0}, {3, 1}, {2, 2}, {1, 3}, {0, 4}}
	for _, p := range pts {
		b.Set(p[0], p[1], Black)
	}
	require.True(t, b.CheckWin(2, 2, Black))
}
