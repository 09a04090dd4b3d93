// Package events builds the JSON payloads for the five progress-reporting
// event kinds the system emits: run_start, run_update, start, move, result.
package events

import (
	"github.com/gomoku-arena/arena/internal/jsonenc"
	"github.com/gomoku-arena/arena/internal/zobrist"
)

// RunStart builds the identity-and-spec-echo event sent once per run.
func RunStart(runID, label string, boardSize int, p1Cmd, p2Cmd string, p1Nodes, p2Nodes, evalNodes int64, minPairs, maxPairs int, seed *int64) string {
	o := jsonenc.NewObject().
		Str("type", "run_start").
		Str("run_id", runID).
		Str("label", label).
		Int("board_size", int64(boardSize)).
		Str("p1_cmd", p1Cmd).
		Str("p2_cmd", p2Cmd).
		Int("p1_nodes", p1Nodes).
		Int("p2_nodes", p2Nodes).
		Int("eval_nodes", evalNodes).
		Int("min_pairs", int64(minPairs)).
		Int("max_pairs", int64(maxPairs))
	o = withSeed(o, seed)
	return o.String()
}

// Start builds the per-game event sent when a game begins.
func Start(runID string, pair, leg int, p1Name, p2Name string) string {
	return jsonenc.NewObject().
		Str("type", "start").
		Str("run_id", runID).
		Int("pair", int64(pair)).
		Int("leg", int64(leg)).
		Str("p1_name", p1Name).
		Str("p2_name", p2Name).
		String()
}

// Move builds the per-ply event.
func Move(runID string, pair, leg, ply int, m zobrist.Move, moverIsP1 bool) string {
	return jsonenc.NewObject().
		Str("type", "move").
		Str("run_id", runID).
		Int("pair", int64(pair)).
		Int("leg", int64(leg)).
		Int("ply", int64(ply)).
		Int("x", int64(m.X)).
		Int("y", int64(m.Y)).
		Bool("mover_is_p1", moverIsP1).
		String()
}

// Result builds the per-game terminal event. winner is 1 (P1), 2 (P2), or 3
// (draw), per spec.md's NDJSON/event winner tag convention.
func Result(runID string, pair, leg int, history []zobrist.Move, winner int, wallMs, p1CpuMs, p2CpuMs int64) string {
	moves := make([]string, len(history))
	for i, m := range history {
		moves[i] = jsonenc.NewObject().Int("x", int64(m.X)).Int("y", int64(m.Y)).String()
	}
	return jsonenc.NewObject().
		Str("type", "result").
		Str("run_id", runID).
		Int("pair", int64(pair)).
		Int("leg", int64(leg)).
		Int("winner", int64(winner)).
		Int("wall_ms", wallMs).
		Int("p1_cpu_ms", p1CpuMs).
		Int("p2_cpu_ms", p2CpuMs).
		Raw("moves", jsonenc.Array(moves...)).
		String()
}

// RunUpdateStats is the subset of per-player stats echoed in a run_update.
type RunUpdateStats struct {
	Elo      int
	DQI      float64
	CMA      float64
	Blunder  float64
	Crashes  int64
}

// RunUpdate builds the debounced (or terminal, isDone=true) progress event.
func RunUpdate(runID string, wins, losses, draws, pairsDone, maxPairs int, p1, p2 RunUpdateStats, isDone bool) string {
	p1obj := jsonenc.NewObject().Int("elo", int64(p1.Elo)).Float("dqi", p1.DQI).Float("cma", p1.CMA).Float("blunder", p1.Blunder).Int("crashes", p1.Crashes).String()
	p2obj := jsonenc.NewObject().Int("elo", int64(p2.Elo)).Float("dqi", p2.DQI).Float("cma", p2.CMA).Float("blunder", p2.Blunder).Int("crashes", p2.Crashes).String()
	return jsonenc.NewObject().
		Str("type", "run_update").
		Str("run_id", runID).
		Int("wins", int64(wins)).
		Int("losses", int64(losses)).
		Int("draws", int64(draws)).
		Int("pairs_done", int64(pairsDone)).
		Int("max_pairs", int64(maxPairs)).
		Bool("is_done", isDone).
		Raw("p1", p1obj).
		Raw("p2", p2obj).
		String()
}

func withSeed(o *jsonenc.Object, seed *int64) *jsonenc.Object {
	if seed == nil {
		return o.Raw("seed", "null")
	}
	return o.Int("seed", *seed)
}
