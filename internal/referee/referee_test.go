package referee

import (
	"context"
	"testing"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/zobrist"
	"github.com/stretchr/testify/require"
)

// fakeBotScript implements a trivial deterministic bot: on its turn it
// replies with the next move from a fixed list, looping through the
// handshake and then BEGIN/TURN/BOARD the same way a real engine would.
const fakeBotScript = `
read about
echo 'name="Fake" version="1.0"'
read start
echo OK
moves="%s"
set -- $moves
while read line; do
  case "$line" in
    INFO*) ;;
    BEGIN|TURN*)
      echo "$1"
      shift
      ;;
    BOARD)
      while read b; do
        case "$b" in
          DONE) break ;;
        esac
      done
      echo "$1"
      shift
      ;;
  esac
done
`

func fakeBotConfig(moves string) config.BotConfig {
	return config.BotConfig{
		Command:    []string{"/bin/sh", "-c", sprintfScript(moves)},
		AnnounceMs: 2000,
		GameBankMs: 60000,
	}
}

func sprintfScript(moves string) string {
	out := fakeBotScript
	// simple %s substitution, avoiding fmt to keep this test self-contained
	idx := -1
	for i := 0; i+1 < len(out); i++ {
		if out[i] == '%' && out[i+1] == 's' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}
	return out[:idx] + moves + out[idx+2:]
}

func TestRefereePlaysToWin(t *testing.T) {
	// P1 (Black) builds a horizontal five; P2 plays elsewhere each turn.
	p1 := fakeBotConfig("0,0 1,0 2,0 3,0 4,0")
	p2 := fakeBotConfig("0,1 1,1 2,1 3,1")

	var outcome *Outcome
	r := New(Params{
		RunID: "r1", Pair: 0, Leg: 0,
		P1Cfg: p1, P2Cfg: p2, BoardSize: 15,
		OnComplete: func(o Outcome) { outcome = &o },
	})

	ctx := context.Background()
	_, err := r.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Initialized, r.state)

	for i := 0; i < 9 && (outcome == nil); i++ {
		res, err := r.Step(ctx)
		require.NoError(t, err)
		if res.Finished {
			break
		}
	}

	require.NotNil(t, outcome)
	require.Equal(t, 1.0, outcome.Score)
	require.Equal(t, Finished, r.state)
}

func TestRefereeCrashScoresOpponent(t *testing.T) {
	p1 := fakeBotConfig("0,0")
	p2Cfg := config.BotConfig{Command: []string{"/bin/sh", "-c", "read about; echo 'name=\"Crasher\"'; read start; exit 1"}, AnnounceMs: 2000, GameBankMs: 60000}

	var outcome *Outcome
	r := New(Params{
		RunID: "r1", Pair: 0, Leg: 0,
		P1Cfg: p1, P2Cfg: p2Cfg, BoardSize: 15,
		OnComplete: func(o Outcome) { outcome = &o },
	})

	ctx := context.Background()
	_, err := r.Step(ctx)
	require.NoError(t, err)

	for i := 0; i < 5 && outcome == nil; i++ {
		_, err := r.Step(ctx)
		if err != nil {
			break
		}
	}

	require.NotNil(t, outcome)
	require.Equal(t, 1.0, outcome.Score) // P1 wins, P2 crashed
}

func TestLastMoverIsP1Parity(t *testing.T) {
	r := &Referee{p: Params{Leg: 0}}
	require.True(t, r.lastMoverIsP1())
	r.history = append(r.history, zobrist.Move{X: 0, Y: 0})
	require.False(t, r.lastMoverIsP1())

	r2 := &Referee{p: Params{Leg: 1}}
	require.False(t, r2.lastMoverIsP1())
}
