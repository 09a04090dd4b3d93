// Package referee drives one game between two bot subprocesses: a state
// machine advanced one ply per Step call, with move validation, time
// bookkeeping, and a completion callback.
package referee

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/cpumon"
	"github.com/gomoku-arena/arena/internal/events"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/player"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/rules"
	"github.com/gomoku-arena/arena/internal/zobrist"
)

// State is the referee's lifecycle stage.
type State int

const (
	Uninitialized State = iota
	Initialized
	Finished
)

// Outcome is reported once per finished leg, from P1's perspective.
type Outcome struct {
	Pair     int
	Leg      int
	Score    float64 // 0, 0.5, or 1
	WallMs   int64
	P1CpuMs  int64
	P2CpuMs  int64
	P1WallMs int64
	P2WallMs int64
}

// Params configures one game.
type Params struct {
	RunID        string
	Label        string
	Pair, Leg    int
	P1Cfg, P2Cfg config.BotConfig
	BoardSize    int
	MinPairs     int
	MaxPairs     int
	EvalNodes    int64
	Opening      []zobrist.Move
	Seed         *int64
	ExitOnCrash  bool
	Env          []string
	Stop         *process.StopFlag
	Log          *logging.Logger
	ShowBoard    bool

	// Emit sends a built event JSON payload to the reporter, if any.
	Emit func(eventJSON string)
	// MarkRunStarted is called at most once per game, and should return
	// true only for the first call across the whole run (guarding the
	// single run_start event).
	MarkRunStarted func() bool
	// OnCrash increments the stats tracker's crash counter for playerNum
	// (1 or 2).
	OnCrash func(playerNum int)
	// OnComplete delivers the final outcome.
	OnComplete func(Outcome)
	// OnFatal is invoked for a setup-time failure that is neither a player
	// protocol violation nor cooperative cancellation: a bad opening
	// coordinate (config error) or a subprocess spawn/pipe failure (system
	// error). Both are fatal at startup per the error-handling taxonomy,
	// unlike the same failure classes encountered mid-game.
	OnFatal func(error)
}

// StepResult reports what a Step call accomplished, for the scheduler's
// eval-job enqueueing decision.
type StepResult struct {
	Finished  bool
	PlyPlayed bool
	MoverIsP1 bool
	History   []zobrist.Move
}

// Referee drives one game.
type Referee struct {
	p Params

	state State
	board *rules.Board

	p1, p2   *player.Player
	p1BankMs int64
	p2BankMs int64

	history        []zobrist.Move
	playedFirstPly bool

	wallMs, p1CpuMs, p2CpuMs int64
	p1WallMs, p2WallMs       int64

	// initFailedPlayer records which side failed to start (1 or 2), so a
	// setup-time crash is scored correctly regardless of ply parity.
	initFailedPlayer int
}

// New constructs a Referee; bot subprocesses are not started until the
// first Step call.
func New(p Params) *Referee {
	return &Referee{
		p:        p,
		board:    rules.NewBoard(p.BoardSize),
		p1BankMs: int64(p.P1Cfg.GameBankMs),
		p2BankMs: int64(p.P2Cfg.GameBankMs),
	}
}

// Step advances the game by at most one ply. The first call only performs
// setup (subprocess launch, handshake, opening application) and returns
// Finished=false, PlyPlayed=false.
func (r *Referee) Step(ctx context.Context) (StepResult, error) {
	if r.state == Uninitialized {
		if err := r.initialize(ctx); err != nil {
			return r.handleError(err, true)
		}
		r.state = Initialized
		return StepResult{}, nil
	}

	res, err := r.playPly(ctx)
	if err != nil {
		return r.handleError(err, false)
	}
	return res, nil
}

func (r *Referee) handleError(err error, duringInit bool) (StepResult, error) {
	var perr *process.PlayerError
	switch {
	case errors.As(err, &perr):
		if r.p.ExitOnCrash {
			if r.p.Stop != nil {
				r.p.Stop.Set()
			}
			r.finish(0.5)
			return StepResult{Finished: true}, process.ErrMatchTerminated
		}
		offenderIsP1 := r.lastMoverIsP1()
		if duringInit && r.initFailedPlayer != 0 {
			offenderIsP1 = r.initFailedPlayer == 1
		}
		if r.p.OnCrash != nil {
			if offenderIsP1 {
				r.p.OnCrash(1)
			} else {
				r.p.OnCrash(2)
			}
		}
		score := 1.0
		if offenderIsP1 {
			score = 0.0
		}
		r.finish(score)
		return StepResult{Finished: true}, nil

	case errors.Is(err, process.ErrMatchTerminated):
		if r.state == Initialized {
			r.finish(0.5)
		}
		return StepResult{Finished: true}, err

	default:
		// A non-protocol error mid-game (I/O failure, context cancellation)
		// is attributed to the mover, same as an explicit protocol
		// violation, since the game cannot continue either way. The same
		// error before any ply is played is a config or system error
		// (bad opening coordinate, subprocess spawn failure) and is fatal
		// to the whole process, not just this game.
		if duringInit {
			if r.p.Stop != nil {
				r.p.Stop.Set()
			}
			if r.p.OnFatal != nil {
				r.p.OnFatal(err)
			}
			r.finish(0.5)
			return StepResult{Finished: true}, err
		}
		offenderIsP1 := r.lastMoverIsP1()
		if r.p.OnCrash != nil {
			if offenderIsP1 {
				r.p.OnCrash(1)
			} else {
				r.p.OnCrash(2)
			}
		}
		score := 1.0
		if offenderIsP1 {
			score = 0.0
		}
		r.finish(score)
		return StepResult{Finished: true}, nil
	}
}

// lastMoverIsP1 determines which side was to move for the ply that just
// failed, derived from ply-index parity and leg rather than any numeric
// conversion between the zobrist and rules color conventions.
func (r *Referee) lastMoverIsP1() bool {
	blackToMove := len(r.history)%2 == 0
	if r.p.Leg == 0 {
		return blackToMove
	}
	return !blackToMove
}

func (r *Referee) initialize(ctx context.Context) error {
	if r.p.MarkRunStarted != nil && r.p.MarkRunStarted() && r.p.Emit != nil {
		r.p.Emit(events.RunStart(r.p.RunID, r.p.Label, r.p.BoardSize,
			strings.Join(r.p.P1Cfg.Command, " "), strings.Join(r.p.P2Cfg.Command, " "),
			r.p.P1Cfg.MaxNodes, r.p.P2Cfg.MaxNodes, r.p.EvalNodes, r.p.MinPairs, r.p.MaxPairs, r.p.Seed))
	}

	env := r.p.Env
	if r.p.Seed != nil {
		env = append(append([]string{}, env...), fmt.Sprintf("GOMOKU_SEED=%d", *r.p.Seed))
	}

	r.p1 = player.New(r.p.P1Cfg, r.p.Log)
	if err := r.p1.Start(ctx, env, r.p.Stop, r.p.BoardSize); err != nil {
		r.initFailedPlayer = 1
		return err
	}

	r.p2 = player.New(r.p.P2Cfg, r.p.Log)
	if err := r.p2.Start(ctx, env, r.p.Stop, r.p.BoardSize); err != nil {
		r.initFailedPlayer = 2
		return err
	}

	if r.p.Emit != nil {
		r.p.Emit(events.Start(r.p.RunID, r.p.Pair, r.p.Leg, r.p1.Name(), r.p2.Name()))
	}

	return r.applyOpening()
}

func (r *Referee) applyOpening() error {
	color := rules.Black
	for _, m := range r.p.Opening {
		if !r.board.InBounds(m.X, m.Y) {
			return fmt.Errorf("referee: opening move out of bounds: %v", m)
		}
		if r.board.At(m.X, m.Y) != rules.Empty {
			return fmt.Errorf("referee: opening move on occupied cell: %v", m)
		}
		r.board.Set(m.X, m.Y, color)
		r.history = append(r.history, m)
		color = flip(color)
	}
	return nil
}

func flip(s rules.Stone) rules.Stone {
	if s == rules.Black {
		return rules.White
	}
	return rules.Black
}

// mover returns the player to move, the stone color it plays, and whether
// that player is P1, derived purely from ply parity and leg.
func (r *Referee) mover() (*player.Player, rules.Stone, bool) {
	blackToMove := len(r.history)%2 == 0
	color := rules.White
	if blackToMove {
		color = rules.Black
	}
	p1ToMove := blackToMove
	if r.p.Leg != 0 {
		p1ToMove = !blackToMove
	}
	if p1ToMove {
		return r.p1, color, true
	}
	return r.p2, color, false
}

func (r *Referee) playPly(ctx context.Context) (StepResult, error) {
	mv, color, moverIsP1 := r.mover()
	bank := &r.p1BankMs
	if !moverIsP1 {
		bank = &r.p2BankMs
	}

	if *bank > 0 {
		_ = mv.Send(fmt.Sprintf("INFO time_left %d", *bank))
	}

	cpuStart, _ := cpumon.Sample(mv.Pid())
	start := time.Now()

	if err := r.sendTurnCommand(mv); err != nil {
		return StepResult{}, err
	}

	deadline := time.Duration(r.cutoffFor(moverIsP1)) * time.Millisecond
	line, err := mv.ReadTurn(deadline)
	if err != nil {
		return StepResult{}, err
	}

	x, y, err := parseMove(line)
	if err != nil {
		return StepResult{}, &process.PlayerError{Msg: "illegal move syntax: " + line, Cause: err}
	}
	if !r.board.InBounds(x, y) {
		return StepResult{}, &process.PlayerError{Msg: fmt.Sprintf("move out of bounds: %d,%d", x, y)}
	}
	if r.board.At(x, y) != rules.Empty {
		return StepResult{}, &process.PlayerError{Msg: fmt.Sprintf("cell occupied: %d,%d", x, y)}
	}

	wall := time.Since(start)
	*bank -= wall.Milliseconds()
	if *bank < 0 {
		return StepResult{}, &process.PlayerError{Msg: "game timeout"}
	}

	cpuEnd, _ := cpumon.Sample(mv.Pid())
	delta := cpumon.Delta(cpuStart, cpuEnd)
	r.wallMs += wall.Milliseconds()
	if moverIsP1 {
		r.p1CpuMs += delta.Total().Milliseconds()
		r.p1WallMs += wall.Milliseconds()
	} else {
		r.p2CpuMs += delta.Total().Milliseconds()
		r.p2WallMs += wall.Milliseconds()
	}

	r.board.Set(x, y, color)
	r.history = append(r.history, zobrist.Move{X: x, Y: y})
	r.playedFirstPly = true

	if r.p.ShowBoard && r.p.Log != nil {
		r.printBoard()
	}

	if r.p.Emit != nil {
		r.p.Emit(events.Move(r.p.RunID, r.p.Pair, r.p.Leg, len(r.history), zobrist.Move{X: x, Y: y}, moverIsP1))
	}

	res := StepResult{PlyPlayed: true, MoverIsP1: moverIsP1, History: append([]zobrist.Move(nil), r.history...)}

	if r.board.CheckWin(x, y, color) {
		score := 1.0
		if !moverIsP1 {
			score = 0.0
		}
		r.finish(score)
		res.Finished = true
		return res, nil
	}
	if len(r.history) == r.p.BoardSize*r.p.BoardSize {
		r.finish(0.5)
		res.Finished = true
		return res, nil
	}

	return res, nil
}

func (r *Referee) cutoffFor(moverIsP1 bool) int {
	if moverIsP1 {
		return r.p.P1Cfg.CalculateCutoff()
	}
	return r.p.P2Cfg.CalculateCutoff()
}

func (r *Referee) sendTurnCommand(mv *player.Player) error {
	if !r.playedFirstPly {
		if len(r.history) == 0 {
			return mv.Send("BEGIN")
		}
		return r.sendBoardState(mv)
	}
	last := r.history[len(r.history)-1]
	return mv.Send(fmt.Sprintf("TURN %d,%d", last.X, last.Y))
}

func (r *Referee) sendBoardState(mv *player.Player) error {
	if err := mv.Send("BOARD"); err != nil {
		return err
	}
	color := rules.Black
	for _, m := range r.history {
		c := 1
		if color == rules.White {
			c = 2
		}
		if err := mv.Send(fmt.Sprintf("%d,%d,%d", m.X, m.Y, c)); err != nil {
			return err
		}
		color = flip(color)
	}
	return mv.Send("DONE")
}

func parseMove(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected 'x,y', got %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// finish terminates both subprocesses, emits the result event, and invokes
// the completion callback. Idempotent: later calls are no-ops.
func (r *Referee) finish(score float64) {
	if r.state == Finished {
		return
	}
	r.state = Finished

	var p1RSS, p2RSS int64
	if r.p1 != nil {
		p1RSS = r.p1.Terminate().PeakRSSKb
	}
	if r.p2 != nil {
		p2RSS = r.p2.Terminate().PeakRSSKb
	}
	if r.p.Log != nil {
		r.p.Log.Debug().Str("component", "referee").Int64("p1_rss_kb", p1RSS).Int64("p2_rss_kb", p2RSS).Log("subprocesses reaped")
	}

	winner := 3
	switch score {
	case 1:
		winner = 1
	case 0:
		winner = 2
	}

	if r.p.Emit != nil {
		r.p.Emit(events.Result(r.p.RunID, r.p.Pair, r.p.Leg, r.history, winner, r.wallMs, r.p1CpuMs, r.p2CpuMs))
	}

	if r.p.OnComplete != nil {
		r.p.OnComplete(Outcome{
			Pair: r.p.Pair, Leg: r.p.Leg, Score: score,
			WallMs: r.wallMs, P1CpuMs: r.p1CpuMs, P2CpuMs: r.p2CpuMs,
			P1WallMs: r.p1WallMs, P2WallMs: r.p2WallMs,
		})
	}
}

// printBoard logs an ASCII dump of the current position: X for black, O for
// white, . for empty, one row per line. Diagnostic only, gated by
// Params.ShowBoard.
func (r *Referee) printBoard() {
	var sb strings.Builder
	sb.WriteByte('\n')
	for y := 0; y < r.board.Size; y++ {
		for x := 0; x < r.board.Size; x++ {
			switch r.board.At(x, y) {
			case rules.Black:
				sb.WriteString("X ")
			case rules.White:
				sb.WriteString("O ")
			default:
				sb.WriteString(". ")
			}
		}
		sb.WriteByte('\n')
	}
	p1Name, p2Name := "", ""
	if r.p1 != nil {
		p1Name = r.p1.Name()
	}
	if r.p2 != nil {
		p2Name = r.p2.Name()
	}
	r.p.Log.Info().Str("component", "referee").Str("p1", p1Name).Str("p2", p2Name).Log("board:" + sb.String())
}
