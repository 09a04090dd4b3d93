// Package evaluator implements the protocol to the third-party position
// analysis engine used to score move quality.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomoku-arena/arena/internal/cache"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/zobrist"
)

const (
	startTimeout = 10 * time.Second
	evalTimeout  = 30 * time.Second
)

// Client wraps one long-lived evaluator subprocess, owned by a single
// scheduler worker.
type Client struct {
	argv        []string
	env         []string
	size        int
	exitOnCrash bool
	stop        *process.StopFlag
	log         *logging.Logger

	proc     *process.Process
	maxNodes int64
}

// New constructs a Client; Start must be called before Eval.
func New(argv []string, env []string, size int, exitOnCrash bool, stop *process.StopFlag, log *logging.Logger) *Client {
	return &Client{argv: argv, env: env, size: size, exitOnCrash: exitOnCrash, stop: stop, log: log}
}

// Start spawns the engine and performs the initial handshake.
func (c *Client) Start(ctx context.Context) error {
	proc, err := process.Start(ctx, c.argv, c.env, c.stop, 0)
	if err != nil {
		return err
	}
	c.proc = proc
	c.maxNodes = 0

	if err := c.proc.WriteLine(fmt.Sprintf("START %d", c.size)); err != nil {
		return err
	}
	if err := c.expect("OK"); err != nil {
		return err
	}
	for _, line := range []string{
		"INFO timeout_turn 0",
		"INFO timeout_match 0",
		"INFO THREAD_NUM 1",
	} {
		if err := c.proc.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) expect(want string) error {
	line, err := c.proc.ReadLine(startTimeout)
	if err != nil {
		return err
	}
	if line != want {
		return &process.PlayerError{Msg: fmt.Sprintf("evaluator: expected %q, got %q", want, line)}
	}
	return nil
}

// SetMaxNodes re-issues INFO MAX_NODE only when the value changes.
func (c *Client) SetMaxNodes(n int64) error {
	if n == c.maxNodes {
		return nil
	}
	if err := c.proc.WriteLine(fmt.Sprintf("INFO MAX_NODE %d", n)); err != nil {
		return err
	}
	c.maxNodes = n
	return nil
}

// restart tears down and relaunches the engine in place, used as the
// failure-recovery path when exitOnCrash is false.
func (c *Client) restart(ctx context.Context) error {
	if c.proc != nil {
		c.proc.Terminate()
	}
	return c.Start(ctx)
}

// Eval analyzes the position reached by moves, returning the probability
// triple for the engine's best move, second-best move, and the move
// actually played (the last entry of moves). On any protocol failure, this
// either escalates to match termination (exitOnCrash) or restarts the
// engine and returns zero metrics for this query, per the documented
// failure policy — never crashes the run.
func (c *Client) Eval(ctx context.Context, moves []zobrist.Move) (cache.Metrics, error) {
	metrics, err := c.eval(moves)
	if err == nil {
		return metrics, nil
	}

	if c.log != nil {
		c.log.Warning().Str("component", "evaluator").Err(err).Log("evaluator query failed")
	}

	if errors.Is(err, process.ErrMatchTerminated) {
		return cache.Metrics{}, err
	}

	if c.exitOnCrash {
		if c.stop != nil {
			c.stop.Set()
		}
		return cache.Metrics{}, process.ErrMatchTerminated
	}

	if rerr := c.restart(ctx); rerr != nil {
		return cache.Metrics{}, rerr
	}
	return cache.Metrics{}, nil
}

func (c *Client) eval(moves []zobrist.Move) (cache.Metrics, error) {
	if err := c.proc.WriteLine("YXBOARD"); err != nil {
		return cache.Metrics{}, err
	}
	for i, m := range moves {
		color := zobrist.White
		if i%2 == 0 {
			color = zobrist.Black
		}
		if err := c.proc.WriteLine(fmt.Sprintf("%d,%d,%d", m.X, m.Y, color)); err != nil {
			return cache.Metrics{}, err
		}
	}
	if err := c.proc.WriteLine("DONE"); err != nil {
		return cache.Metrics{}, err
	}

	last := moves[len(moves)-1]
	if err := c.proc.WriteLine(fmt.Sprintf("ANALYZE_MOVE %d,%d", last.X, last.Y)); err != nil {
		return cache.Metrics{}, err
	}

	for {
		line, err := c.proc.ReadLine(evalTimeout)
		if err != nil {
			return cache.Metrics{}, err
		}
		if strings.HasPrefix(line, "MESSAGE") || strings.HasPrefix(line, "DEBUG") || strings.HasPrefix(line, "UNKNOWN") {
			continue
		}
		if !strings.HasPrefix(line, "EVAL_DATA") {
			continue
		}
		return parseEvalData(line)
	}
}

func parseEvalData(line string) (cache.Metrics, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return cache.Metrics{}, &process.PlayerError{Msg: "evaluator: malformed EVAL_DATA line: " + line}
	}
	var vals [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return cache.Metrics{}, &process.PlayerError{Msg: "evaluator: malformed EVAL_DATA value", Cause: err}
		}
		vals[i] = v
	}
	return cache.Metrics{PBest: vals[0], PSecond: vals[1], PPlayed: vals[2]}, nil
}

// Close terminates the underlying subprocess.
func (c *Client) Close() {
	if c.proc != nil {
		c.proc.Terminate()
	}
}
