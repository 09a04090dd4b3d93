package cliapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestParseRequiresBothPlayers(t *testing.T) {
	_, err := Parse([]string{"-p1", "./bot1"}, noEnv)
	require.Error(t, err)
}

func TestParseMinimalValid(t *testing.T) {
	res, err := Parse([]string{"-p1", "./bot1", "-p2", "./bot2"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, []string{"./bot1"}, res.Config.P1.Command)
	require.Equal(t, []string{"./bot2"}, res.Config.P2.Command)
	require.Equal(t, 15, res.Config.BoardSize)
}

func TestParseUnknownArgument(t *testing.T) {
	_, err := Parse([]string{"-p1", "./bot1", "-p2", "./bot2", "garbage"}, noEnv)
	require.Error(t, err)
}

func TestParseBoardSizeRange(t *testing.T) {
	_, err := Parse([]string{"-p1", "a", "-p2", "b", "-size", "3"}, noEnv)
	require.Error(t, err)

	_, err = Parse([]string{"-p1", "a", "-p2", "b", "-size", "41"}, noEnv)
	require.Error(t, err)

	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-size", "19"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, 19, res.Config.BoardSize)
}

func TestParseRiskRange(t *testing.T) {
	_, err := Parse([]string{"-p1", "a", "-p2", "b", "-risk", "1.5"}, noEnv)
	require.Error(t, err)
}

func TestParseApiUrlAndKeyMustComeTogether(t *testing.T) {
	_, err := Parse([]string{"-p1", "a", "-p2", "b", "-api-url", "http://x"}, noEnv)
	require.Error(t, err)

	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-api-url", "http://x/", "-api-key", "k"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, "http://x", res.Config.ApiURL)
}

func TestParseMaxPairsMustBeAtLeastOne(t *testing.T) {
	_, err := Parse([]string{"-p1", "a", "-p2", "b", "-max-pairs", "0"}, noEnv)
	require.Error(t, err)
}

func TestParseThreadsBeyondHardwareConcurrencyRejected(t *testing.T) {
	_, err := Parse([]string{"-p1", "a", "-p2", "b", "-threads", "1000000"}, noEnv)
	require.Error(t, err)
}

func TestParseTimeoutAnnounceCommonAndOverride(t *testing.T) {
	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-timeout-announce", "2s", "-p2-timeout-announce", "3000ms"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, 2000, res.Config.P1.AnnounceMs)
	require.Equal(t, 3000, res.Config.P2.AnnounceMs)
}

func TestParseMemorySuffixes(t *testing.T) {
	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-memory", "256m"}, noEnv)
	require.NoError(t, err)
	require.EqualValues(t, 256<<20, res.Config.P1.MemoryBytes)
	require.EqualValues(t, 256<<20, res.Config.P2.MemoryBytes)
}

func TestParseNodeListSuffixes(t *testing.T) {
	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-max-nodes", "15m,2g,750k"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, []int64{15_000_000, 2_000_000_000, 750_000}, res.Config.Batch.CommonNodes)
}

func TestParseSeedList(t *testing.T) {
	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-seed", "111,222,333"}, noEnv)
	require.NoError(t, err)
	require.Equal(t, []int64{111, 222, 333}, res.Config.Batch.Seeds)
}

func TestParseShowBoardAndCleanupFlags(t *testing.T) {
	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-show-board", "-cleanup"}, noEnv)
	require.NoError(t, err)
	require.True(t, res.Config.ShowBoard)
	require.True(t, res.Config.Cleanup)
}

func TestParseEnvOverriddenByFlag(t *testing.T) {
	env := map[string]string{"SIZE": "11"}
	getenv := func(k string) string { return env[k] }

	res, err := Parse([]string{"-p1", "a", "-p2", "b", "-size", "22"}, getenv)
	require.NoError(t, err)
	require.Equal(t, 22, res.Config.BoardSize)

	res, err = Parse([]string{"-p1", "a", "-p2", "b"}, getenv)
	require.NoError(t, err)
	require.Equal(t, 11, res.Config.BoardSize)
}

func TestParseDurationUnits(t *testing.T) {
	ms, err := parseDurationMs("1.5s")
	require.NoError(t, err)
	require.Equal(t, 1500, ms)

	ms, err = parseDurationMs("250ms")
	require.NoError(t, err)
	require.Equal(t, 250, ms)

	ms, err = parseDurationMs("2m")
	require.NoError(t, err)
	require.Equal(t, 120000, ms)

	_, err = parseDurationMs("3x")
	require.Error(t, err)
}

func TestParseMemoryUnits(t *testing.T) {
	b, err := parseMemoryBytes("1k")
	require.NoError(t, err)
	require.EqualValues(t, 1024, b)

	b, err = parseMemoryBytes("1")
	require.NoError(t, err)
	require.EqualValues(t, 1024*1024, b)

	_, err = parseMemoryBytes("1x")
	require.Error(t, err)
}

func TestParseNodeCountUnits(t *testing.T) {
	require.EqualValues(t, 15_000, parseNodeCount("15k"))
	require.EqualValues(t, 3_000_000, parseNodeCount("3m"))
	require.EqualValues(t, 1_000_000_000, parseNodeCount("1b"))
	require.EqualValues(t, 42, parseNodeCount("42"))
}
