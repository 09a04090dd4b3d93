// Package zobrist computes a stable 64-bit hash of a move sequence on a
// square board, for content-addressing evaluator results.
package zobrist

import "math/rand"

// seed is fixed so that repeated runs within (and across) a process produce
// identical hashes for identical move sequences.
const seed = 12345

// Stone color values used purely as channel indices into the key table;
// BLACK is the color to move on even-indexed plies (ply 0, 2, 4, ...).
const (
	Black = 2
	White = 1
)

// Move is a single played stone.
type Move struct {
	X, Y int
}

// Table holds the 3*size*size random keys for one board size. Safe for
// concurrent read-only use once constructed.
type Table struct {
	size int
	keys []uint64
}

// New builds the key table for a board of the given size, seeded
// deterministically so Hash is stable across process restarts.
func New(size int) *Table {
	r := rand.New(rand.NewSource(seed))
	keys := make([]uint64, 3*size*size)
	for i := range keys {
		keys[i] = r.Uint64()
	}
	return &Table{size: size, keys: keys}
}

// Hash XOR-folds the keys of every played stone in moves. Color alternates
// starting from Black at ply index 0.
func (t *Table) Hash(moves []Move) uint64 {
	var h uint64
	sz := t.size
	for i, m := range moves {
		color := White
		if i%2 == 0 {
			color = Black
		}
		idx := color*sz*sz + m.Y*sz + m.X
		h ^= t.keys[idx]
	}
	return h
}
