package player

import (
	"context"
	"testing"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/stretchr/testify/require"
)

func TestExtractNameValid(t *testing.T) {
	require.Equal(t, "MyBot-1.0", extractName(`name="MyBot-1.0" version="2.1"`, "fallback"))
}

func TestExtractNameInvalidFallsBack(t *testing.T) {
	require.Equal(t, "fallback", extractName(`name="bad/name!"`, "fallback"))
}

func TestExtractVersionNumeric(t *testing.T) {
	require.Equal(t, "1.2.3", extractVersion(`name="x" version="1.2.3-beta"`))
}

func TestExtractVersionNonNumericTruncated(t *testing.T) {
	require.Equal(t, "abcdefgh", extractVersion(`name="x" version="abcdefghijk"`))
}

func TestIsChatter(t *testing.T) {
	require.True(t, isChatter("MESSAGE hello"))
	require.True(t, isChatter("DEBUG foo"))
	require.True(t, isChatter("UNKNOWN bar"))
	require.False(t, isChatter("7,7"))
}

const fakeBotScript = `
read about
echo 'name="FakeBot" version="1.0"'
read start
echo OK
while read line; do
  case "$line" in
    INFO*) ;;
    BEGIN) echo "MESSAGE thinking"; echo "7,7"; break ;;
  esac
done
`

func TestStartHandshakeAndReadSkipsChatter(t *testing.T) {
	cfg := config.BotConfig{Command: []string{"/bin/sh", "-c", fakeBotScript}, AnnounceMs: 1000, GameBankMs: 60000}
	p := New(cfg, nil)
	require.NoError(t, p.Start(context.Background(), nil, nil, 15))
	defer p.proc.Terminate()

	require.Equal(t, "FakeBot", p.Name())
	require.Equal(t, "1.0", p.Version())

	require.NoError(t, p.Send("BEGIN"))
	move, err := p.Read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "7,7", move)
}
