// Package arena implements the run controller: batch expansion into run
// specs, the per-run mutable aggregation context shared by every game of
// that run, pair-outcome bookkeeping and SPRT gating, and once-only
// finalization into the NDJSON result file and a terminal run_update event.
package arena

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/cpumon"
	"github.com/gomoku-arena/arena/internal/events"
	"github.com/gomoku-arena/arena/internal/jsonenc"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/referee"
	"github.com/gomoku-arena/arena/internal/reporter"
	"github.com/gomoku-arena/arena/internal/scheduler"
	"github.com/gomoku-arena/arena/internal/stats"
	"github.com/gomoku-arena/arena/internal/zobrist"
)

// PairResultUnset marks a leg slot that has not yet reported.
const PairResultUnset = -1.0

// PairResult is one pair's two leg scores, each from P1's perspective in its
// own leg.
type PairResult struct {
	First, Second float64
}

// RunContext aggregates everything shared by every game descriptor of one
// run: the immutable spec/label/identity, plus the mutable pair-outcome map,
// win/loss/draw counters, Elo and quality tracker, and once-only
// finalization state. One context is constructed per resolved run spec;
// every referee for that run holds a reference to it via closures bound in
// NewDescriptors, never the reverse.
type RunContext struct {
	ID    string
	Label string
	Spec  config.RunSpec

	boardSize   int
	p1Cfg, p2Cfg config.BotConfig
	p1Cmd, p2Cmd string
	exitOnCrash bool
	showBoard   bool
	risk        float64

	tracker  *stats.Tracker
	reporter *reporter.Reporter
	resultW  *ResultWriter
	log      *logging.Logger
	onFatal  func(error)

	started  atomic.Bool
	startWall time.Time
	startCPU  cpumon.Times

	mu          sync.Mutex
	pairResults map[int]*PairResult
	wins, losses, draws int
	pairsDone   int
	completed, skipped int
	expected    int
	stopped     bool

	totalWallMs                  atomic.Int64
	totalP1CpuMs, totalP2CpuMs   atomic.Int64
	totalP1WallMs, totalP2WallMs atomic.Int64

	reportMu     sync.Mutex
	lastReportAt time.Time
	debounce     time.Duration

	finalizeOnce sync.Once
}

// NewRunContext constructs a fresh, not-yet-started run context.
// onFatal receives a config or system error hit during a game's setup (fatal
// process-wide, not scoped to the one run that hit it); it is handed to every
// game of the run, so it can be called more than once. nil disables the
// callback.
func NewRunContext(id, label string, spec config.RunSpec, boardSize int, p1Cfg, p2Cfg config.BotConfig, p1Cmd, p2Cmd string, exitOnCrash, showBoard bool, risk float64, debounce time.Duration, log *logging.Logger, rep *reporter.Reporter, rw *ResultWriter, onFatal func(error)) *RunContext {
	return &RunContext{
		ID: id, Label: label, Spec: spec,
		boardSize: boardSize, p1Cfg: p1Cfg, p2Cfg: p2Cfg,
		p1Cmd: p1Cmd, p2Cmd: p2Cmd,
		exitOnCrash: exitOnCrash, showBoard: showBoard, risk: risk, debounce: debounce,
		tracker:     stats.NewTracker(),
		reporter:    rep,
		resultW:     rw,
		log:         log,
		onFatal:     onFatal,
		pairResults: make(map[int]*PairResult),
		expected:    2 * spec.MaxPairs,
	}
}

// CrashCount returns the number of bot crashes recorded so far across both
// players of this run, for the caller's exit-code decision.
func (rc *RunContext) CrashCount() int64 {
	return rc.tracker.P1.Crashes.Load() + rc.tracker.P2.Crashes.Load()
}

// markStarted returns true only for the first call across the whole run,
// recording the run's wall/CPU baseline at that moment; wired as every
// referee's MarkRunStarted so exactly one game emits the run_start event.
func (rc *RunContext) markStarted() bool {
	if rc.started.CompareAndSwap(false, true) {
		rc.startWall = time.Now()
		rc.startCPU, _ = cpumon.Sample(os.Getpid())
		return true
	}
	return false
}

// emit forwards a pre-built event payload to the reporter, if configured.
func (rc *RunContext) emit(eventJSON string) {
	if rc.reporter != nil {
		rc.reporter.Enqueue(eventJSON)
	}
}

// isStopped reports whether this run's own SPRT early-stop has fired;
// wired as every descriptor's RunStopped so admission of further pending
// games for this run is skipped without touching the process-wide stop
// flag used for SIGINT/exit_on_crash.
func (rc *RunContext) isStopped() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stopped
}

// onComplete is the referee completion callback: it updates Elo, pair
// bookkeeping and the SPRT test, then checks for finalization. o.Score is
// already expressed from P1's perspective (the referee derives "mover is
// P1" from ply parity crossed with leg, rather than swapping which bot
// occupies the "P1" slot per leg), so no leg-based re-flip happens here.
func (rc *RunContext) onComplete(o referee.Outcome) {
	rc.tracker.UpdateElo(o.Score)
	rc.totalWallMs.Add(o.WallMs)
	rc.totalP1CpuMs.Add(o.P1CpuMs)
	rc.totalP2CpuMs.Add(o.P2CpuMs)
	rc.totalP1WallMs.Add(o.P1WallMs)
	rc.totalP2WallMs.Add(o.P2WallMs)

	rc.mu.Lock()
	pr, ok := rc.pairResults[o.Pair]
	if !ok {
		pr = &PairResult{First: PairResultUnset, Second: PairResultUnset}
		rc.pairResults[o.Pair] = pr
	}
	if o.Leg == 0 {
		pr.First = o.Score
	} else {
		pr.Second = o.Score
	}
	bothDone := pr.First >= 0 && pr.Second >= 0
	if bothDone {
		rc.pairsDone++
		rc.categorizePair(pr.First, pr.Second)
		if rc.risk > 0 && stats.ShouldStop(rc.pairsDone, rc.Spec.MinPairs, rc.Spec.MaxPairs, rc.wins, rc.losses, rc.draws, rc.risk) {
			rc.stopped = true
		}
	}
	rc.completed++
	done := rc.completed+rc.skipped >= rc.expected
	rc.mu.Unlock()

	rc.maybeReport(false)
	if done {
		rc.finalize()
	}
}

// categorizePair classifies a finished pair from its two leg scores. Both
// scores are already from P1's perspective (see onComplete), so P1's pair
// total is first + second: above 1 is a win, below 1 a loss, exactly 1 a
// draw. Must be called with rc.mu held.
func (rc *RunContext) categorizePair(first, second float64) {
	total := first + second
	switch {
	case total > 1:
		rc.wins++
	case total < 1:
		rc.losses++
	default:
		rc.draws++
	}
}

// recordSkip accounts for a pending game whose run was already stopped by
// SPRT at admission time; wired as every descriptor's OnSkip.
func (rc *RunContext) recordSkip() {
	rc.mu.Lock()
	rc.skipped++
	done := rc.completed+rc.skipped >= rc.expected
	rc.mu.Unlock()

	if done {
		rc.finalize()
	}
}

// maybeReport builds and enqueues a run_update event, gated by this run's
// own debounce interval (distinct from the reporter's own batch-send
// debounce, which gates transmission of events already in its queue).
// terminal events always build, bypassing the gate.
func (rc *RunContext) maybeReport(terminal bool) {
	if rc.reporter == nil {
		return
	}
	if !terminal {
		rc.reportMu.Lock()
		elapsed := time.Since(rc.lastReportAt)
		if elapsed < rc.debounce {
			rc.reportMu.Unlock()
			return
		}
		rc.lastReportAt = time.Now()
		rc.reportMu.Unlock()
	}

	rc.mu.Lock()
	wins, losses, draws, pairsDone := rc.wins, rc.losses, rc.draws, rc.pairsDone
	rc.mu.Unlock()

	p1Elo, p2Elo := rc.tracker.Elo()
	rc.emit(events.RunUpdate(rc.ID, wins, losses, draws, pairsDone, rc.Spec.MaxPairs,
		playerUpdateStats(p1Elo, &rc.tracker.P1), playerUpdateStats(p2Elo, &rc.tracker.P2), terminal))
}

func playerUpdateStats(elo int, ps *stats.PlayerStats) events.RunUpdateStats {
	return events.RunUpdateStats{Elo: elo, DQI: ps.DQI(), CMA: ps.CMA(), Blunder: ps.Blunder(), Crashes: ps.Crashes.Load()}
}

// finalize runs exactly once per run: it computes duration, process load
// and per-player efficiency, emits the terminal run_update, appends one
// NDJSON line to the result file, and logs a summary.
func (rc *RunContext) finalize() {
	rc.finalizeOnce.Do(func() {
		runWall := time.Since(rc.startWall)
		procCPU, _ := cpumon.Sample(os.Getpid())
		load := cpumon.Load(cpumon.Delta(rc.startCPU, procCPU).Total(), runWall)

		p1Efficiency := efficiency(rc.totalP1CpuMs.Load(), rc.totalP1WallMs.Load())
		p2Efficiency := efficiency(rc.totalP2CpuMs.Load(), rc.totalP2WallMs.Load())

		rc.maybeReport(true)

		if rc.resultW != nil {
			_ = rc.resultW.AppendLine(rc.formatResultLine(runWall.Seconds(), load, p1Efficiency, p2Efficiency))
		}

		if rc.log != nil {
			rc.log.Info().Str("component", "arena").Str("run_id", rc.ID).Str("label", rc.Label).Log("run finished")
		}
	})
}

func efficiency(cpuMs, wallMs int64) float64 {
	if wallMs <= 0 {
		return 0
	}
	return 100 * float64(cpuMs) / float64(wallMs)
}

func (rc *RunContext) formatResultLine(durationSec, load, p1Eff, p2Eff float64) string {
	rc.mu.Lock()
	wins, losses, draws, pairs := rc.wins, rc.losses, rc.draws, rc.pairsDone
	rc.mu.Unlock()

	p1Elo, p2Elo := rc.tracker.Elo()
	p1 := statsObject(p1Elo, &rc.tracker.P1)
	p2 := statsObject(p2Elo, &rc.tracker.P2)

	o := jsonenc.NewObject().
		Str("p1_cmd", rc.p1Cmd).
		Str("p2_cmd", rc.p2Cmd).
		Int("p1_nodes", rc.Spec.P1Nodes).
		Int("p2_nodes", rc.Spec.P2Nodes).
		Int("eval_nodes", rc.Spec.EvalNodes).
		Int("board_size", int64(rc.boardSize)).
		Int("min_pairs", int64(rc.Spec.MinPairs)).
		Int("max_pairs", int64(rc.Spec.MaxPairs)).
		Int("repeat_index", int64(rc.Spec.RepeatIndex))
	o = o.IntOrNull("seed", seedValue(rc.Spec.Seed), rc.Spec.Seed != nil)
	o = o.Float("duration", durationSec).
		Float("arena_load", load).
		Float("p1_efficiency", p1Eff).
		Float("p2_efficiency", p2Eff).
		Int("wins", int64(wins)).
		Int("losses", int64(losses)).
		Int("draws", int64(draws)).
		Int("pairs", int64(pairs)).
		Raw("p1", p1).
		Raw("p2", p2)
	return o.String()
}

func seedValue(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}

func statsObject(elo int, ps *stats.PlayerStats) string {
	return jsonenc.NewObject().
		Int("elo", int64(elo)).
		Float("sw_dqi", ps.DQI()).
		Float("cma", ps.CMA()).
		Float("blunder", ps.Blunder()).
		Int("crashes", ps.Crashes.Load()).
		String()
}

// NewDescriptors builds the 2*max_pairs scheduler descriptors for one run:
// pairs 1..max_pairs, each in legs 0 and 1, cycling through openings (if
// any) by pair index. env is the base environment every bot subprocess
// inherits (GOMOKU_SEED is appended internally by the referee when a seed
// is set); stop is the process-wide cooperative cancellation flag.
func NewDescriptors(rc *RunContext, openings [][]zobrist.Move, env []string, stop *process.StopFlag) []*scheduler.Descriptor {
	descs := make([]*scheduler.Descriptor, 0, 2*rc.Spec.MaxPairs)
	for pair := 1; pair <= rc.Spec.MaxPairs; pair++ {
		var opening []zobrist.Move
		if len(openings) > 0 {
			opening = openings[(pair-1)%len(openings)]
		}
		descs = append(descs, rc.newDescriptor(pair, 0, opening, env, stop))
		descs = append(descs, rc.newDescriptor(pair, 1, opening, env, stop))
	}
	return descs
}

func (rc *RunContext) newDescriptor(pair, leg int, opening []zobrist.Move, env []string, stop *process.StopFlag) *scheduler.Descriptor {
	newReferee := func() *referee.Referee {
		return referee.New(referee.Params{
			RunID: rc.ID, Label: rc.Label,
			Pair: pair, Leg: leg,
			P1Cfg: rc.p1Cfg, P2Cfg: rc.p2Cfg,
			BoardSize: rc.boardSize,
			MinPairs:  rc.Spec.MinPairs, MaxPairs: rc.Spec.MaxPairs, EvalNodes: rc.Spec.EvalNodes,
			Opening:     opening,
			Seed:        rc.Spec.Seed,
			ExitOnCrash: rc.exitOnCrash,
			ShowBoard:   rc.showBoard,
			Env:         env,
			Stop:        stop,
			Log:         rc.log,
			Emit:          rc.emit,
			MarkRunStarted: rc.markStarted,
			OnCrash:        rc.tracker.IncrCrash,
			OnComplete:     rc.onComplete,
			OnFatal:        rc.onFatal,
		})
	}
	return &scheduler.Descriptor{
		RunID: rc.ID, Pair: pair, Leg: leg,
		NewReferee:    newReferee,
		OpeningLen:    len(opening),
		EvalMaxNodes:  rc.Spec.EvalNodes,
		RunStopped:    rc.isStopped,
		OnSkip:        rc.recordSkip,
		OnEvalMetrics: rc.tracker.AddMetrics,
	}
}
