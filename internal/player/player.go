// Package player wraps one bot subprocess in the Gomocup-style protocol:
// identity handshake, protocol setup, and chatter-tolerant turn reads.
package player

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
	"github.com/gomoku-arena/arena/internal/logging"
	"github.com/gomoku-arena/arena/internal/process"
	"github.com/joeycumines/go-catrate"
)

var (
	nameRe    = regexp.MustCompile(`name="([^"]*)"`)
	versionRe = regexp.MustCompile(`version="([^"]*)"`)
	validName = regexp.MustCompile(`^[a-zA-Z0-9 _.-]{1,16}$`)
	numericVersion = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*`)
)

// chatterRates rate-limits repeated MESSAGE/DEBUG/UNKNOWN logging per bot,
// so a chatty process cannot flood the log.
var chatterRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// Player is one bot's protocol wrapper.
type Player struct {
	cfg     config.BotConfig
	proc    *process.Process
	name    string
	version string
	log     *logging.Logger
	chatter *catrate.Limiter
}

// New constructs a Player bound to the given bot configuration.
func New(cfg config.BotConfig, log *logging.Logger) *Player {
	return &Player{
		cfg:     cfg,
		log:     log,
		chatter: catrate.NewLimiter(chatterRates),
	}
}

// Start launches the subprocess, performs the ABOUT/START/INFO handshake,
// and populates Name/Version.
func (p *Player) Start(ctx context.Context, env []string, stop *process.StopFlag, size int) error {
	proc, err := process.Start(ctx, p.cfg.Command, env, stop, p.cfg.EffectiveMemoryBytes())
	if err != nil {
		return err
	}
	p.proc = proc

	about, err := p.roundTrip("ABOUT", 5*time.Second)
	if err != nil {
		return err
	}
	p.name = extractName(about, filepath.Base(p.cfg.Command[0]))
	p.version = extractVersion(about)

	if err := p.Send(fmt.Sprintf("START %d", size)); err != nil {
		return err
	}
	if line, err := p.proc.ReadLine(5 * time.Second); err != nil {
		return err
	} else if line != "OK" {
		return &process.PlayerError{Msg: "player: expected OK after START, got " + line}
	}

	var setup []string
	if p.cfg.MaxNodes > 0 {
		setup = append(setup,
			fmt.Sprintf("INFO MAX_NODE %d", p.cfg.MaxNodes),
			"INFO timeout_turn 0",
			"INFO timeout_match 0",
		)
	} else {
		setup = append(setup,
			fmt.Sprintf("INFO timeout_turn %d", p.cfg.AnnounceMs),
			fmt.Sprintf("INFO timeout_match %d", p.cfg.GameBankMs),
		)
	}
	setup = append(setup,
		fmt.Sprintf("INFO max_memory %d", p.cfg.EffectiveMemoryBytes()),
		"INFO game_type 1",
		"INFO rule 0",
		"INFO THREAD_NUM 1",
	)
	for _, line := range setup {
		if err := p.Send(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) roundTrip(cmd string, timeout time.Duration) (string, error) {
	if err := p.Send(cmd); err != nil {
		return "", err
	}
	return p.proc.ReadLine(timeout)
}

// Name returns the bot's validated display name.
func (p *Player) Name() string { return p.name }

// Pid returns the subprocess's process id, for CPU-time sampling.
func (p *Player) Pid() int { return p.proc.Pid() }

// Version returns the bot's cleaned version string.
func (p *Player) Version() string { return p.version }

// Terminate ends the subprocess, returning its exit accounting. A no-op,
// zero-value result if the subprocess never started.
func (p *Player) Terminate() process.ExitInfo {
	if p.proc == nil {
		return process.ExitInfo{}
	}
	return p.proc.Terminate()
}

// Send logs then writes a line to the subprocess.
func (p *Player) Send(cmd string) error {
	if p.log != nil {
		p.log.Debug().Str("component", "player").Str("bot", p.name).Str("send", cmd).Log("sent command")
	}
	return p.proc.WriteLine(cmd)
}

// isChatter reports whether line is a MESSAGE/DEBUG/UNKNOWN line that the
// turn read loop should skip, rather than treating as the bot's response.
func isChatter(line string) bool {
	return strings.HasPrefix(line, "MESSAGE") || strings.HasPrefix(line, "DEBUG") || strings.HasPrefix(line, "UNKNOWN")
}

// Read returns the next non-chatter line, tolerating interleaved
// MESSAGE/DEBUG/UNKNOWN lines; each chatter line shrinks the remaining
// deadline by its observed elapsed time, floored at 10ms.
func (p *Player) Read(deadline time.Duration) (string, error) {
	remaining := deadline
	for {
		if remaining < 10*time.Millisecond {
			remaining = 10 * time.Millisecond
		}
		start := time.Now()
		line, err := p.proc.ReadLine(remaining)
		elapsed := time.Since(start)
		if err != nil {
			return "", err
		}
		if !isChatter(line) {
			return line, nil
		}
		if p.log != nil {
			if _, ok := p.chatter.Allow(p.name); ok {
				p.log.Debug().Str("component", "player").Str("bot", p.name).Str("line", line).Log("chatter")
			}
		}
		remaining -= elapsed
	}
}

// ReadTurn returns the bot's move line for the current ply, tolerating one
// leading "OK" acknowledgment ahead of it — distinct from, and handled one
// layer above, the MESSAGE/DEBUG/UNKNOWN chatter Read already strips. The
// OK line shrinks the remaining deadline by its observed elapsed time, the
// same as chatter, floored at 10ms.
func (p *Player) ReadTurn(deadline time.Duration) (string, error) {
	start := time.Now()
	line, err := p.Read(deadline)
	if err != nil {
		return "", err
	}
	if line != "OK" {
		return line, nil
	}
	remaining := deadline - time.Since(start)
	if remaining < 10*time.Millisecond {
		remaining = 10 * time.Millisecond
	}
	return p.Read(remaining)
}

func extractName(about, fallback string) string {
	m := nameRe.FindStringSubmatch(about)
	if m != nil && validName.MatchString(m[1]) {
		return m[1]
	}
	return fallback
}

func extractVersion(about string) string {
	m := versionRe.FindStringSubmatch(about)
	if m == nil {
		return ""
	}
	v := m[1]
	if loc := numericVersion.FindString(v); loc != "" {
		return loc
	}
	if len(v) > 8 {
		return v[:8]
	}
	return v
}
