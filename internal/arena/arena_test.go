package arena

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/gomoku-arena/arena/internal/referee"
	"github.com/gomoku-arena/arena/internal/zobrist"
	"github.com/stretchr/testify/require"
)

func TestExpandBatchDiagonalOverCommonNodes(t *testing.T) {
	runs := ExpandBatch(config.BatchConfig{
		CommonNodes: []int64{1000, 2000},
		MaxPairs:    []int{5},
		Repeat:      1,
	})
	require.Len(t, runs, 2)
	for _, r := range runs {
		require.Equal(t, r.P1Nodes, r.P2Nodes)
		require.Equal(t, 5, r.MaxPairs)
	}
}

func TestExpandBatchCartesianOverPerSideNodes(t *testing.T) {
	runs := ExpandBatch(config.BatchConfig{
		P1Nodes:  []int64{1000, 2000},
		P2Nodes:  []int64{3000},
		MaxPairs: []int{5},
		Repeat:   1,
	})
	require.Len(t, runs, 2)
	seen := map[[2]int64]bool{}
	for _, r := range runs {
		seen[[2]int64{r.P1Nodes, r.P2Nodes}] = true
	}
	require.True(t, seen[[2]int64{1000, 3000}])
	require.True(t, seen[[2]int64{2000, 3000}])
}

func TestExpandBatchDefaults(t *testing.T) {
	runs := ExpandBatch(config.BatchConfig{})
	require.Len(t, runs, 1)
	require.Equal(t, int64(defaultEvalNodes), runs[0].EvalNodes)
	require.Equal(t, 0, runs[0].MinPairs)
	require.Equal(t, 10, runs[0].MaxPairs)
}

func TestExpandBatchClampsMinPairsToMax(t *testing.T) {
	runs := ExpandBatch(config.BatchConfig{
		MinPairs: []int{20},
		MaxPairs: []int{5},
	})
	require.Len(t, runs, 1)
	require.Equal(t, 5, runs[0].MinPairs)
	require.Equal(t, 5, runs[0].MaxPairs)
}

func TestExpandBatchAssignsSeedsByRepeatIndex(t *testing.T) {
	runs := ExpandBatch(config.BatchConfig{
		MaxPairs: []int{5},
		Repeat:   3,
		Seeds:    []int64{111, 222},
	})
	require.Len(t, runs, 3)
	byIdx := map[int]*config.RunSpec{}
	for i := range runs {
		byIdx[runs[i].RepeatIndex] = &runs[i]
	}
	require.NotNil(t, byIdx[0].Seed)
	require.Equal(t, int64(111), *byIdx[0].Seed)
	require.NotNil(t, byIdx[1].Seed)
	require.Equal(t, int64(222), *byIdx[1].Seed)
	require.Nil(t, byIdx[2].Seed)
}

func TestGenerateLabelNodesBothSides(t *testing.T) {
	p1 := config.BotConfig{MaxNodes: 15_000_000}
	p2 := config.BotConfig{MaxNodes: 15_000_000}
	require.Equal(t, "N=15m", GenerateLabel(p1, p2))
}

func TestGenerateLabelNodesDiffer(t *testing.T) {
	p1 := config.BotConfig{MaxNodes: 15_000_000}
	p2 := config.BotConfig{MaxNodes: 2_000_000}
	require.Equal(t, "N1=15m, N2=2m", GenerateLabel(p1, p2))
}

func TestGenerateLabelTimeBothSidesNonDefault(t *testing.T) {
	p1 := config.BotConfig{AnnounceMs: 10000}
	p2 := config.BotConfig{AnnounceMs: 10000}
	require.Equal(t, "T=10s", GenerateLabel(p1, p2))
}

func TestGenerateLabelTimeBothSidesDefaultElided(t *testing.T) {
	p1 := config.BotConfig{AnnounceMs: 5000}
	p2 := config.BotConfig{AnnounceMs: 5000}
	require.Equal(t, "default", GenerateLabel(p1, p2))
}

func TestGenerateLabelTimeDiffers(t *testing.T) {
	p1 := config.BotConfig{AnnounceMs: 10000}
	p2 := config.BotConfig{AnnounceMs: 20000}
	require.Equal(t, "T1=10s, T2=20s", GenerateLabel(p1, p2))
}

func TestGenerateLabelMemory(t *testing.T) {
	p1 := config.BotConfig{MemoryBytes: 256 << 20}
	p2 := config.BotConfig{MemoryBytes: 256 << 20}
	require.Equal(t, "T=0s, M=256m", GenerateLabel(p1, p2))
}

func newTestRunContext(maxPairs int, risk float64) *RunContext {
	spec := config.RunSpec{MaxPairs: maxPairs}
	return NewRunContext("run1", "label1", spec, 15,
		config.BotConfig{}, config.BotConfig{}, "p1cmd", "p2cmd",
		false, false, risk, time.Hour, nil, nil, nil, nil)
}

func outcomeWin(pair, leg int) referee.Outcome {
	return referee.Outcome{Pair: pair, Leg: leg, Score: 1.0, WallMs: 100, P1CpuMs: 50, P2CpuMs: 40, P1WallMs: 60, P2WallMs: 55}
}

func TestOnCompletePairCategorizationWin(t *testing.T) {
	rc := newTestRunContext(1, 0)
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 0, Score: 1.0})
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 1, Score: 1.0})
	require.Equal(t, 1, rc.wins)
	require.Equal(t, 0, rc.losses)
	require.Equal(t, 0, rc.draws)
}

func TestOnCompletePairCategorizationLoss(t *testing.T) {
	rc := newTestRunContext(1, 0)
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 0, Score: 0.0})
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 1, Score: 0.0})
	require.Equal(t, 0, rc.wins)
	require.Equal(t, 1, rc.losses)
	require.Equal(t, 0, rc.draws)
}

func TestOnCompletePairCategorizationDraw(t *testing.T) {
	rc := newTestRunContext(1, 0)
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 0, Score: 0.5})
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 1, Score: 0.5})
	require.Equal(t, 0, rc.wins)
	require.Equal(t, 0, rc.losses)
	require.Equal(t, 1, rc.draws)
}

func TestOnCompletePairNotCountedUntilBothLegsDone(t *testing.T) {
	rc := newTestRunContext(1, 0)
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 0, Score: 1.0})
	require.Equal(t, 0, rc.pairsDone)
	rc.onComplete(referee.Outcome{Pair: 1, Leg: 1, Score: 1.0})
	require.Equal(t, 1, rc.pairsDone)
}

func TestFinalizeRunsOnceAndWritesResultLine(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "result-*.ndjson")
	require.NoError(t, err)
	f.Close()

	rw, err := OpenResultWriter(f.Name())
	require.NoError(t, err)

	rc := newTestRunContext(1, 0)
	rc.resultW = rw
	rc.markStarted()

	var calls int32
	origFinalize := rc.finalizeOnce
	_ = origFinalize

	rc.onComplete(outcomeWin(1, 0))
	rc.onComplete(outcomeWin(1, 1))

	// finalize already ran once via onComplete (both legs of the only pair
	// are done); calling it again must be a no-op.
	rc.finalize()
	atomic.AddInt32(&calls, 1)

	require.NoError(t, rw.Close())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 1)

	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &obj))
	require.Equal(t, "p1cmd", obj["p1_cmd"])
	require.Equal(t, "p2cmd", obj["p2_cmd"])
	require.EqualValues(t, 1, obj["wins"])
	require.EqualValues(t, 1, obj["pairs"])
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestOnFatalStopsFurtherAdmission(t *testing.T) {
	var fatalErr error
	rc := NewRunContext("run1", "label1", config.RunSpec{MaxPairs: 1}, 15,
		config.BotConfig{}, config.BotConfig{}, "p1cmd", "p2cmd",
		false, false, 0, time.Hour, nil, nil, nil, func(err error) { fatalErr = err })

	stop := &process.StopFlag{}
	descs := NewDescriptors(rc, nil, nil, stop)
	require.Len(t, descs, 2)

	r := descs[0].NewReferee()
	ctx := context.Background()
	_, err := r.Step(ctx)
	require.Error(t, err)
	require.Error(t, fatalErr)
	// the process-wide stop flag makes the scheduler skip every pending game
	require.True(t, stop.IsSet())
}

func TestNewDescriptorsCountAndOpeningsCycling(t *testing.T) {
	rc := newTestRunContext(3, 0)
	openings := [][]zobrist.Move{{{X: 7, Y: 7}}, {{X: 7, Y: 7}, {X: 8, Y: 8}}}
	descs := NewDescriptors(rc, openings, nil, nil)
	require.Len(t, descs, 6)
	wantOpeningLen := []int{1, 2, 1}
	for pair := 1; pair <= 3; pair++ {
		require.Equal(t, pair, descs[(pair-1)*2].Pair)
		require.Equal(t, 0, descs[(pair-1)*2].Leg)
		require.Equal(t, pair, descs[(pair-1)*2+1].Pair)
		require.Equal(t, 1, descs[(pair-1)*2+1].Leg)
		require.Equal(t, wantOpeningLen[pair-1], descs[(pair-1)*2].OpeningLen)
		require.Equal(t, wantOpeningLen[pair-1], descs[(pair-1)*2+1].OpeningLen)
	}
}
