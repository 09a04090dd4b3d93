// Package scheduler runs the cooperative worker pool that interleaves three
// classes of task across N goroutines: draining evaluator jobs, advancing
// in-flight games one ply at a time, and admitting new games up to a
// concurrency cap. One global mutex and condition variable guard the three
// queues; active-game admission is additionally bounded so the invariant
// active_games <= cap always holds under the same lock.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gomoku-arena/arena/internal/cache"
	"github.com/gomoku-arena/arena/internal/evaluator"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/referee"
	"github.com/gomoku-arena/arena/internal/stats"
	"github.com/gomoku-arena/arena/internal/zobrist"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// pollInterval is the idle-wakeup period: a background ticker broadcasts on
// the condition variable this often so workers re-check their predicates
// even with nothing newly enqueued, standing in for a timed condvar wait.
const pollInterval = 500 * time.Millisecond

// Descriptor is one pending game, fully described by the caller (the run
// controller) so the scheduler itself never needs to know about run
// contexts, pair bookkeeping, or the reporter.
type Descriptor struct {
	RunID        string
	Pair, Leg    int
	NewReferee   func() *referee.Referee
	OpeningLen   int
	EvalMaxNodes int64

	// RunStopped reports whether this run's own early-stop condition (SPRT)
	// has fired; admission of this descriptor is skipped (not played) if
	// so, distinct from the scheduler's process-wide cancellation flag.
	RunStopped func() bool
	// OnSkip is invoked when the descriptor is skipped at admission time.
	OnSkip func()
	// OnEvalMetrics delivers a non-garbage-time eval result for a ply
	// played by playerNum (1 or 2).
	OnEvalMetrics func(playerNum int, regret, sharpness float64)
}

type gameState struct {
	desc *Descriptor
	ref  *referee.Referee
}

type evalTask struct {
	moves     []zobrist.Move
	maxNodes  int64
	player    int
	onMetrics func(playerNum int, regret, sharpness float64)
}

// Config configures one Scheduler instance.
type Config struct {
	Workers   int
	ActiveCap int // thread_cap; defaults to Workers if zero
	Stop      *process.StopFlag
	Cache     *cache.Cache
	Zobrist   *zobrist.Table
	// NewEvaluator constructs one evaluator client per worker; nil disables
	// evaluation entirely (eval jobs are never enqueued).
	NewEvaluator func() *evaluator.Client
	Log          *logging.Logger
}

// Scheduler drains three shared queues with strict priority: eval jobs,
// then in-flight game steps, then admission of pending games.
type Scheduler struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond

	evalQ []evalTask
	stepQ []*gameState
	pendQ []*Descriptor

	active      int
	terminating bool

	// sem bounds active_games <= cfg.ActiveCap (invariant (d)); acquired
	// under s.mu inside next() so the admission decision and the queue
	// state transition happen atomically, released when a game finishes
	// or is skipped.
	sem *semaphore.Weighted
}

// New constructs a Scheduler. Call Enqueue for each pending game before (or
// concurrently with) Run.
func New(cfg Config) *Scheduler {
	if cfg.ActiveCap <= 0 {
		cfg.ActiveCap = cfg.Workers
	}
	s := &Scheduler{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.ActiveCap))}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue admits desc to the pending-games queue.
func (s *Scheduler) Enqueue(desc *Descriptor) {
	s.mu.Lock()
	s.pendQ = append(s.pendQ, desc)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run spawns cfg.Workers worker goroutines and blocks until every queue has
// drained and no game is active. Returns the first worker error, if any
// (workers themselves do not return errors under normal operation; this
// exists so a future fatal-setup failure can propagate via errgroup).
func (s *Scheduler) Run(ctx context.Context) error {
	stopTicker := make(chan struct{})
	go func() {
		t := time.NewTicker(pollInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.cond.Broadcast()
			case <-stopTicker:
				return
			}
		}
	}()
	defer close(stopTicker)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			var ev *evaluator.Client
			if s.cfg.NewEvaluator != nil {
				ev = s.cfg.NewEvaluator()
				if err := ev.Start(ctx); err != nil {
					if s.cfg.Log != nil {
						s.cfg.Log.Warning().Str("component", "scheduler").Err(err).Log("worker evaluator failed to start")
					}
					ev = nil
				} else {
					defer ev.Close()
				}
			}
			return s.workerLoop(ctx, ev)
		})
	}
	return g.Wait()
}

type taskKind int

const (
	kindNone taskKind = iota
	kindEval
	kindStep
	kindAdmit
)

func (s *Scheduler) workerLoop(ctx context.Context, ev *evaluator.Client) error {
	for {
		kind, eval, step, desc := s.next()
		switch kind {
		case kindNone:
			return nil
		case kindEval:
			s.runEval(ctx, ev, eval)
		case kindStep:
			s.runStep(ctx, step)
		case kindAdmit:
			s.runAdmit(desc)
		}
	}
}

// next blocks until a task is available or the pool has fully drained,
// returning the highest-priority one: eval over step over admit.
func (s *Scheduler) next() (taskKind, evalTask, *gameState, *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.evalQ) > 0 {
			t := s.evalQ[0]
			s.evalQ = s.evalQ[1:]
			return kindEval, t, nil, nil
		}
		if len(s.stepQ) > 0 {
			t := s.stepQ[0]
			s.stepQ = s.stepQ[1:]
			return kindStep, evalTask{}, t, nil
		}
		if len(s.pendQ) > 0 && s.sem.TryAcquire(1) {
			d := s.pendQ[0]
			s.pendQ = s.pendQ[1:]
			s.active++
			return kindAdmit, evalTask{}, nil, d
		}
		if len(s.evalQ) == 0 && len(s.stepQ) == 0 && len(s.pendQ) == 0 && s.active == 0 {
			s.terminating = true
			s.cond.Broadcast()
			return kindNone, evalTask{}, nil, nil
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) wake() { s.cond.Broadcast() }

func (s *Scheduler) pushStep(gs *gameState) {
	s.mu.Lock()
	s.stepQ = append(s.stepQ, gs)
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) enqueueEval(t evalTask) {
	s.mu.Lock()
	s.evalQ = append(s.evalQ, t)
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) runAdmit(desc *Descriptor) {
	skip := s.cfg.Stop != nil && s.cfg.Stop.IsSet()
	if !skip && desc.RunStopped != nil {
		skip = desc.RunStopped()
	}
	if skip {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.sem.Release(1)
		if desc.OnSkip != nil {
			desc.OnSkip()
		}
		s.wake()
		return
	}

	gs := &gameState{desc: desc, ref: desc.NewReferee()}
	s.pushStep(gs)
}

func (s *Scheduler) runStep(ctx context.Context, gs *gameState) {
	res, err := gs.ref.Step(ctx)
	if res.Finished || err != nil {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.sem.Release(1)
		s.wake()
		return
	}

	if res.PlyPlayed && s.cfg.NewEvaluator != nil && gs.desc.EvalMaxNodes > 0 && len(res.History) > gs.desc.OpeningLen {
		player := 2
		if res.MoverIsP1 {
			player = 1
		}
		s.enqueueEval(evalTask{
			moves:     res.History,
			maxNodes:  gs.desc.EvalMaxNodes,
			player:    player,
			onMetrics: gs.desc.OnEvalMetrics,
		})
	}

	s.pushStep(gs)
}

func (s *Scheduler) runEval(ctx context.Context, ev *evaluator.Client, t evalTask) {
	if ev == nil {
		return
	}

	h := s.cfg.Zobrist.Hash(t.moves)
	if m, ok := s.cfg.Cache.Get(h); ok {
		s.applyMetrics(t, m)
		return
	}

	_ = ev.SetMaxNodes(t.maxNodes)
	m, err := ev.Eval(ctx, t.moves)
	if err != nil {
		return
	}
	s.cfg.Cache.Set(h, m)
	s.applyMetrics(t, m)
}

func (s *Scheduler) applyMetrics(t evalTask, m cache.Metrics) {
	if stats.IsGarbageTime(m.PBest) {
		return
	}
	regret := stats.Regret(m.PBest, m.PPlayed)
	sharpness := stats.Sharpness(m.PBest, m.PSecond)
	if t.onMetrics != nil {
		t.onMetrics(t.player, regret, sharpness)
	}
}
