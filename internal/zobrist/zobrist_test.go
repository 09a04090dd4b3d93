package zobrist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossCalls(t *testing.T) {
	tbl := New(15)
	moves := []Move{{7, 7}, {7, 8}, {6, 6}}
	require.Equal(t, tbl.Hash(moves), tbl.Hash(moves))
}

func TestHashDiffersForDifferentSequences(t *testing.T) {
	tbl := New(15)
	a := []Move{{7, 7}, {7, 8}}
	b := []Move{{7, 7}, {8, 8}}
	require.NotEqual(t, tbl.Hash(a), tbl.Hash(b))
}

func TestHashOrderSensitiveToColor(t *testing.T) {
	tbl := New(15)
	// same cells, different move order -> different color assignment per cell
	a := []Move{{1, 1}, {2, 2}}
	b := []Move{{2, 2}, {1, 1}}
	require.NotEqual(t, tbl.Hash(a), tbl.Hash(b))
}

func TestNewIsDeterministicAcrossInstances(t *testing.T) {
	t1 := New(15)
	t2 := New(15)
	moves := []Move{{3, 3}, {4, 4}, {5, 5}}
	require.Equal(t, t1.Hash(moves), t2.Hash(moves))
}
