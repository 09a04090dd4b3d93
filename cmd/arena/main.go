// arena runs a batch of gomoku matches between two bot subprocesses,
// expanding a parameter sweep into independent runs and scheduling their
// games across a fixed worker pool.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gomoku-arena/arena/internal/arena"
	"github.com/gomoku-arena/arena/internal/cache"
	"github.com/gomoku-arena/arena/internal/cliapp"
	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/evaluator"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/openings"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/reporter"
	"github.com/gomoku-arena/arena/internal/scheduler"
	"github.com/gomoku-arena/arena/internal/zobrist"
	"github.com/joeycumines/logiface"
)

// Exit codes, per the documented external contract.
const (
	exitOK            = 0
	exitSystemFailure = 1
	exitBotCrash      = 2
	exitExecNotFound  = 127
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	res, err := cliapp.Parse(args, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arena: %v\n", err)
		return exitSystemFailure
	}
	cfg := res.Config

	level := logiface.LevelInformational
	if res.Debug {
		level = logiface.LevelDebug
	}
	log := logging.New(level, os.Stderr)

	stop := &process.StopFlag{}
	installSignalHandler(stop)

	if cfg.Cleanup && cfg.ApiURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := reporterResetOnly(ctx, cfg, log)
		cancel()
		if err != nil {
			log.Warning().Str("component", "cmd").Err(err).Log("cleanup request failed")
		}
	}

	var openingSets [][]zobrist.Move
	if cfg.OpeningsPath != "" {
		f, err := os.Open(cfg.OpeningsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arena: openings: %v\n", err)
			return exitSystemFailure
		}
		openingSets, err = openings.Load(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "arena: openings: %v\n", err)
			return exitSystemFailure
		}
		if res.ShuffleOpenings {
			rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(openingSets), func(i, j int) {
				openingSets[i], openingSets[j] = openingSets[j], openingSets[i]
			})
		}
	}

	var rw *arena.ResultWriter
	if cfg.ResultPath != "" {
		var err error
		rw, err = arena.OpenResultWriter(cfg.ResultPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arena: result file: %v\n", err)
			return exitSystemFailure
		}
		defer rw.Close()
	}

	var rep *reporter.Reporter
	if cfg.ApiURL != "" {
		rep = reporter.New(cfg.ApiURL, cfg.ApiKey, time.Duration(cfg.DebounceMs)*time.Millisecond, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			rep.Shutdown(ctx)
			cancel()
		}()
	}

	sharedCache := cache.New()
	zTable := zobrist.New(cfg.BoardSize)

	var fatalMu sync.Mutex
	var fatalErr error
	onFatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
	}

	runSpecs := arena.ExpandBatch(cfg.Batch)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	sched := scheduler.New(scheduler.Config{
		Workers:      cfg.Threads,
		Stop:         stop,
		Cache:        sharedCache,
		Zobrist:      zTable,
		Log:          log,
		NewEvaluator: newEvaluatorFactory(cfg, stop, log),
	})

	env := os.Environ()
	runContexts := make([]*arena.RunContext, 0, len(runSpecs))
	for _, spec := range runSpecs {
		p1Cfg, p2Cfg := cfg.P1, cfg.P2
		p1Cfg.MaxNodes, p2Cfg.MaxNodes = spec.P1Nodes, spec.P2Nodes

		id := arena.GenerateRunID(rng)
		label := arena.GenerateLabel(p1Cfg, p2Cfg)

		rc := arena.NewRunContext(id, label, spec, cfg.BoardSize, p1Cfg, p2Cfg,
			strings.Join(cfg.P1.Command, " "), strings.Join(cfg.P2.Command, " "),
			cfg.ExitOnCrash, cfg.ShowBoard, cfg.Risk, time.Duration(cfg.DebounceMs)*time.Millisecond,
			log, rep, rw, onFatal)

		runContexts = append(runContexts, rc)
		descs := arena.NewDescriptors(rc, openingSets, env, stop)
		for _, d := range descs {
			sched.Enqueue(d)
		}
	}

	if err := sched.Run(context.Background()); err != nil {
		log.Err().Err(err).Log("scheduler run failed")
		return exitSystemFailure
	}

	if fatalErr != nil {
		if process.IsExecNotFound(fatalErr) {
			return exitExecNotFound
		}
		return exitSystemFailure
	}

	var crashes int64
	for _, rc := range runContexts {
		crashes += rc.CrashCount()
	}
	if crashes > 0 {
		return exitBotCrash
	}
	return exitOK
}

// installSignalHandler raises stop on SIGINT/SIGTERM, the same cooperative
// cancellation flag checked at every subprocess suspension point.
func installSignalHandler(stop *process.StopFlag) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		stop.Set()
	}()
}

// newEvaluatorFactory returns nil if no evaluator engine is configured,
// disabling eval job scheduling entirely.
func newEvaluatorFactory(cfg config.Config, stop *process.StopFlag, log *logging.Logger) func() *evaluator.Client {
	if !cfg.EvalEnabled() {
		return nil
	}
	env := os.Environ()
	return func() *evaluator.Client {
		return evaluator.New(cfg.Evaluator, env, cfg.BoardSize, cfg.ExitOnCrash, stop, log)
	}
}

// reporterResetOnly issues the one-shot --cleanup database wipe without
// standing up the debounced background reporter used for the run itself.
func reporterResetOnly(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	r := reporter.New(cfg.ApiURL, cfg.ApiKey, 0, log)
	defer r.Shutdown(ctx)
	return r.Reset(ctx)
}
