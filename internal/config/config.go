// Package config models the bot, run and batch configuration shapes,
// together with the environment-variable override table.
package config

import (
	"os"
	"strconv"
	"strings"
)

// BotConfig describes one bot subprocess: how to launch it and its timing
// and memory envelope.
type BotConfig struct {
	Command      []string // argv, Command[0] is the executable
	MaxNodes     int64    // 0 = unbounded, driven by time instead
	AnnounceMs   int      // per-turn time announced to the bot (INFO timeout_turn)
	CutoffMs     int      // hard deadline; 0 = derive via CalculateCutoff
	GameBankMs   int      // total time bank for the game
	MemoryBytes  int64    // 0 = no cap
	CutoffIsUser bool     // true if CutoffMs was set explicitly (not derived)
}

// IsRapfi reports whether the bot's command names a rapfi-family engine.
func (b BotConfig) IsRapfi() bool {
	if len(b.Command) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(b.Command[0]), "rapfi")
}

// CalculateCutoff derives the hard per-turn deadline when the operator did
// not set one explicitly, per the rapfi time-budget convention: rapfi
// engines are given roughly double the announced turn time plus a fixed
// grace period to account for their own internal overshoot, and node-bound
// engines (MaxNodes>0) get a generous fixed ceiling since they are not
// expected to respect wall-clock announcements at all.
func (b BotConfig) CalculateCutoff() int {
	if b.CutoffIsUser && b.CutoffMs > 0 {
		return b.CutoffMs
	}
	if b.MaxNodes > 0 {
		return 60_000
	}
	if b.IsRapfi() {
		return 2*b.AnnounceMs + 1500
	}
	return b.AnnounceMs
}

// EffectiveMemoryBytes returns the configured memory cap, bumped for rapfi
// bots to cover their larger runtime overhead.
func (b BotConfig) EffectiveMemoryBytes() int64 {
	if b.MemoryBytes <= 0 {
		return 0
	}
	if b.IsRapfi() {
		return b.MemoryBytes + 128<<20
	}
	return b.MemoryBytes
}

// RunSpec is one fully-resolved point in the batch expansion: a single pair
// of bot node budgets plus the shared knobs that vary per run.
type RunSpec struct {
	P1Nodes, P2Nodes, EvalNodes int64
	MinPairs, MaxPairs          int
	RepeatIndex                 int
	Seed                        *int64
}

// BatchConfig is the raw, unexpanded description of a parameter sweep, as
// produced by CLI flags.
type BatchConfig struct {
	CommonNodes []int64 // diagonal (n,n) sweep, mutually exclusive with P1Nodes/P2Nodes
	P1Nodes     []int64
	P2Nodes     []int64
	EvalNodes   []int64
	MinPairs    []int
	MaxPairs    []int
	Repeat      int
	Seeds       []int64
}

// Config is the fully resolved process configuration.
type Config struct {
	BoardSize      int
	Threads        int
	Risk           float64
	ApiURL         string
	ApiKey         string
	DebounceMs     int
	OpeningsPath   string
	ResultPath     string
	ExitOnCrash    bool
	Cleanup        bool
	ShowBoard      bool
	P1, P2         BotConfig
	Evaluator      []string // empty means evaluation disabled
	Batch          BatchConfig
}

// EvalEnabled reports whether an evaluator subprocess is configured.
func (c Config) EvalEnabled() bool { return len(c.Evaluator) > 0 }

// Default returns a Config populated with this module's defaults.
func Default() Config {
	return Config{
		BoardSize: 15,
		Threads:   4,
		Risk:      0,
		P1:        BotConfig{AnnounceMs: 5000, GameBankMs: 180_000},
		P2:        BotConfig{AnnounceMs: 5000, GameBankMs: 180_000},
		Batch: BatchConfig{
			EvalNodes: []int64{15_000_000},
			MinPairs:  []int{0},
			MaxPairs:  []int{10},
			Repeat:    1,
		},
	}
}

// ApplyEnv overlays the environment-variable overrides documented for this
// process onto cfg, in place.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BoardSize = n
		}
	}
	if v := getenv("OPENINGS"); v != "" {
		cfg.OpeningsPath = v
	}
	if v := getenv("TIMEOUT_ANNOUNCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P1.AnnounceMs, cfg.P2.AnnounceMs = n, n
		}
	}
	if v := getenv("TIMEOUT_CUTOFF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P1.CutoffMs, cfg.P2.CutoffMs = n, n
			cfg.P1.CutoffIsUser, cfg.P2.CutoffIsUser = true, true
		}
	}
	if v := getenv("TIMEOUT_GAME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P1.GameBankMs, cfg.P2.GameBankMs = n, n
		}
	}
	if v := getenv("MIN_PAIRS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MinPairs = []int{n}
		}
	}
	if v := getenv("MAX_PAIRS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxPairs = []int{n}
		}
	}
	if v := getenv("RISK"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk = f
		}
	}
	if v := getenv("API_URL"); v != "" {
		cfg.ApiURL = strings.TrimSuffix(v, "/")
	}
	if v := getenv("API_KEY"); v != "" {
		cfg.ApiKey = v
	}
	if v := getenv("DEBOUNCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebounceMs = n
		}
	}
	if v := getenv("THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Threads = n
		}
	}
	if v := getenv("MEMORY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.P1.MemoryBytes, cfg.P2.MemoryBytes = n, n
		}
	}
}
