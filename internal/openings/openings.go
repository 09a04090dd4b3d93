// Package openings parses the opening-position file: one opening per line,
// moves encoded as letter-number pairs (a1, b12, ...).
package openings

import (
	"bufio"
	"io"
	"strings"

	"github.com/gomoku-arena/arena/internal/zobrist"
)

// Load reads every opening line from r, skipping blank lines.
func Load(r io.Reader) ([][]zobrist.Move, error) {
	var openings [][]zobrist.Move
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		openings = append(openings, parseLine(line))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return openings, nil
}

// parseLine decodes a sequence of <letter><digits> move tokens, stopping at
// the first malformed token (matching the original's "break on malformed"
// tolerance rather than rejecting the whole file).
func parseLine(line string) []zobrist.Move {
	var moves []zobrist.Move
	i := 0
	for i < len(line) {
		c := line[i]
		lower := toLower(c)
		if lower < 'a' || lower > 'z' {
			break
		}
		x := int(lower - 'a')
		i++

		start := i
		for i < len(line) && line[i] >= '0' && line[i] <= '9' {
			i++
		}
		if i == start {
			break
		}
		y := atoi(line[start:i]) - 1
		moves = append(moves, zobrist.Move{X: x, Y: y})
	}
	return moves
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
