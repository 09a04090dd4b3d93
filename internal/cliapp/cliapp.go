// Package cliapp parses command-line arguments into a config.Config and
// validates the result, the external glue spec.md calls out of core scope
// but a runnable binary still needs.
package cliapp

import (
	"flag"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomoku-arena/arena/internal/config"
)

// Flags holds every parsed command-line value before it is folded into a
// config.Config; kept separate so Parse can apply env overrides (via
// config.ApplyEnv) on top of flag-derived values exactly the way the
// original layers flag > env > default.
type Flags struct {
	P1Cmd, P2Cmd, EvalCmd string
	Size                  int
	Openings              string
	ShuffleOpenings       bool
	Threads               int

	TimeoutAnnounce, P1TimeoutAnnounce, P2TimeoutAnnounce string
	TimeoutCutoff, P1TimeoutCutoff, P2TimeoutCutoff       string
	TimeoutGame, P1TimeoutGame, P2TimeoutGame             string

	Memory, P1Memory, P2Memory string

	MaxNodes, P1MaxNodes, P2MaxNodes, EvalMaxNodes string

	MinPairs, MaxPairs string
	Risk               float64
	Repeat             int
	Seed               string

	Debug       bool
	ShowBoard   bool
	Cleanup     bool
	ExitOnCrash bool
	ApiURL      string
	ApiKey      string
	Debounce    string
	Export      string
}

// Result is everything Parse extracts from the command line: the resolved
// config plus the handful of knobs that govern process startup rather than
// the run itself.
type Result struct {
	Config          config.Config
	Debug           bool
	ShuffleOpenings bool
}

// Parse builds a flag.FlagSet (ContinueOnError, so a bad flag returns an
// error instead of terminating the process), parses args, then resolves
// everything into a config.Config layered flag > env > default, matching
// the original's get_str/get_int/get_dur/get_mem helper priority.
func Parse(args []string, getenv func(string) string) (Result, error) {
	var f Flags
	fs := flag.NewFlagSet("arena", flag.ContinueOnError)

	fs.StringVar(&f.P1Cmd, "p1", "", "player 1 executable")
	fs.StringVar(&f.P2Cmd, "p2", "", "player 2 executable")
	fs.StringVar(&f.EvalCmd, "eval", "", "evaluator engine for quality metrics")
	fs.IntVar(&f.Size, "size", 0, "board size, 5-40")
	fs.StringVar(&f.Openings, "openings", "", "opening positions file")
	fs.BoolVar(&f.ShuffleOpenings, "shuffle-openings", false, "randomize opening order")
	fs.IntVar(&f.Threads, "threads", 0, "concurrent games")

	fs.StringVar(&f.TimeoutAnnounce, "timeout-announce", "", "thinking time hint to bots")
	fs.StringVar(&f.P1TimeoutAnnounce, "p1-timeout-announce", "", "")
	fs.StringVar(&f.P2TimeoutAnnounce, "p2-timeout-announce", "", "")
	fs.StringVar(&f.TimeoutCutoff, "timeout-cutoff", "", "hard turn deadline")
	fs.StringVar(&f.P1TimeoutCutoff, "p1-timeout-cutoff", "", "")
	fs.StringVar(&f.P2TimeoutCutoff, "p2-timeout-cutoff", "", "")
	fs.StringVar(&f.TimeoutGame, "timeout-game", "", "total game time bank")
	fs.StringVar(&f.P1TimeoutGame, "p1-timeout-game", "", "")
	fs.StringVar(&f.P2TimeoutGame, "p2-timeout-game", "", "")

	fs.StringVar(&f.Memory, "memory", "", "limit memory")
	fs.StringVar(&f.P1Memory, "p1-memory", "", "")
	fs.StringVar(&f.P2Memory, "p2-memory", "", "")

	fs.StringVar(&f.MaxNodes, "max-nodes", "", "search node limit, comma-separated sweep")
	fs.StringVar(&f.P1MaxNodes, "p1-max-nodes", "", "")
	fs.StringVar(&f.P2MaxNodes, "p2-max-nodes", "", "")
	fs.StringVar(&f.EvalMaxNodes, "eval-max-nodes", "", "")

	fs.StringVar(&f.MinPairs, "min-pairs", "", "minimum pairs before early stop, comma-separated sweep")
	fs.StringVar(&f.MaxPairs, "max-pairs", "", "maximum pairs to play, comma-separated sweep")
	fs.Float64Var(&f.Risk, "risk", -1, "early stop confidence threshold")
	fs.IntVar(&f.Repeat, "repeat", 0, "run each configuration N times")
	fs.StringVar(&f.Seed, "seed", "", "explicit seeds to rotate through, comma-separated")

	fs.BoolVar(&f.Debug, "debug", false, "verbose logging with CPU metrics")
	fs.BoolVar(&f.ShowBoard, "show-board", false, "print board after each move")
	fs.BoolVar(&f.Cleanup, "cleanup", false, "clear API database before starting")
	fs.BoolVar(&f.ExitOnCrash, "exit-on-crash", false, "terminate immediately on bot crash")
	fs.StringVar(&f.ApiURL, "api-url", "", "remote endpoint for live results")
	fs.StringVar(&f.ApiKey, "api-key", "", "API authentication key")
	fs.StringVar(&f.Debounce, "debounce", "", "API batch interval")
	fs.StringVar(&f.Export, "export-results", "", "NDJSON output, one line per finished config")

	if err := fs.Parse(args); err != nil {
		return Result{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return Result{}, fmt.Errorf("cliapp: unknown argument: %s", rest[0])
	}

	cfg := config.Default()
	config.ApplyEnv(&cfg, getenv)
	resolve(&cfg, f)

	if err := Validate(cfg, runtime.NumCPU()); err != nil {
		return Result{}, err
	}
	return Result{Config: cfg, Debug: f.Debug, ShuffleOpenings: f.ShuffleOpenings}, nil
}

// resolve folds Flags onto cfg, flag values taking priority over whatever
// ApplyEnv already set (flag > env > default, per the original CLI).
func resolve(cfg *config.Config, f Flags) {
	if f.P1Cmd != "" {
		cfg.P1.Command = strings.Fields(f.P1Cmd)
	}
	if f.P2Cmd != "" {
		cfg.P2.Command = strings.Fields(f.P2Cmd)
	}
	if f.EvalCmd != "" {
		cfg.Evaluator = strings.Fields(f.EvalCmd)
	}
	if f.Size != 0 {
		cfg.BoardSize = f.Size
	}
	if f.Openings != "" {
		cfg.OpeningsPath = f.Openings
	}
	if f.Threads != 0 {
		cfg.Threads = f.Threads
	}

	commonAnnounce := durOrDefault(f.TimeoutAnnounce, cfg.P1.AnnounceMs)
	cfg.P1.AnnounceMs = durOrDefault(f.P1TimeoutAnnounce, commonAnnounce)
	cfg.P2.AnnounceMs = durOrDefault(f.P2TimeoutAnnounce, commonAnnounce)

	commonCutoff := durOrDefault(f.TimeoutCutoff, 0)
	if v := durOrDefault(f.P1TimeoutCutoff, commonCutoff); v > 0 {
		cfg.P1.CutoffMs, cfg.P1.CutoffIsUser = v, true
	}
	if v := durOrDefault(f.P2TimeoutCutoff, commonCutoff); v > 0 {
		cfg.P2.CutoffMs, cfg.P2.CutoffIsUser = v, true
	}

	commonGame := durOrDefault(f.TimeoutGame, cfg.P1.GameBankMs)
	cfg.P1.GameBankMs = durOrDefault(f.P1TimeoutGame, commonGame)
	cfg.P2.GameBankMs = durOrDefault(f.P2TimeoutGame, commonGame)

	commonMem := memOrDefault(f.Memory, 0)
	cfg.P1.MemoryBytes = memOrDefault(f.P1Memory, commonMem)
	cfg.P2.MemoryBytes = memOrDefault(f.P2Memory, commonMem)

	if list := parseNodeList(f.MaxNodes); len(list) > 0 {
		cfg.Batch.CommonNodes = list
	}
	if list := parseNodeList(f.P1MaxNodes); len(list) > 0 {
		cfg.Batch.P1Nodes = list
	}
	if list := parseNodeList(f.P2MaxNodes); len(list) > 0 {
		cfg.Batch.P2Nodes = list
	}
	if list := parseNodeList(f.EvalMaxNodes); len(list) > 0 {
		cfg.Batch.EvalNodes = list
	}
	if len(cfg.Batch.P1Nodes) > 0 {
		cfg.P1.MaxNodes = cfg.Batch.P1Nodes[0]
	} else if len(cfg.Batch.CommonNodes) > 0 {
		cfg.P1.MaxNodes = cfg.Batch.CommonNodes[0]
	}
	if len(cfg.Batch.P2Nodes) > 0 {
		cfg.P2.MaxNodes = cfg.Batch.P2Nodes[0]
	} else if len(cfg.Batch.CommonNodes) > 0 {
		cfg.P2.MaxNodes = cfg.Batch.CommonNodes[0]
	}

	if list := parseIntList(f.MinPairs); len(list) > 0 {
		cfg.Batch.MinPairs = list
	}
	if list := parseIntList(f.MaxPairs); len(list) > 0 {
		cfg.Batch.MaxPairs = list
	}
	if f.Risk >= 0 {
		cfg.Risk = f.Risk
	}
	if f.Repeat > 0 {
		cfg.Batch.Repeat = f.Repeat
	}
	if list := parseInt64List(f.Seed); len(list) > 0 {
		cfg.Batch.Seeds = list
	}

	cfg.ShowBoard = cfg.ShowBoard || f.ShowBoard
	cfg.Cleanup = cfg.Cleanup || f.Cleanup
	cfg.ExitOnCrash = cfg.ExitOnCrash || f.ExitOnCrash
	if f.ApiURL != "" {
		cfg.ApiURL = strings.TrimSuffix(f.ApiURL, "/")
	}
	for strings.HasSuffix(cfg.ApiURL, "/") {
		cfg.ApiURL = strings.TrimSuffix(cfg.ApiURL, "/")
	}
	if f.ApiKey != "" {
		cfg.ApiKey = f.ApiKey
	}
	if f.Export != "" {
		cfg.ResultPath = f.Export
	}
	cfg.DebounceMs = durOrDefault(f.Debounce, orInt(cfg.DebounceMs, maxInt(100, cfg.P1.AnnounceMs/2)))
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// durOrDefault parses a duration string (bare number = seconds, or a value
// suffixed "ms"/"m"/"h"), returning def if s is empty.
func durOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := parseDurationMs(s)
	if err != nil {
		return def
	}
	return v
}

func parseDurationMs(s string) (int, error) {
	idx := 0
	for idx < len(s) && (s[idx] == '.' || s[idx] == '-' || (s[idx] >= '0' && s[idx] <= '9')) {
		idx++
	}
	val, err := strconv.ParseFloat(s[:idx], 64)
	if err != nil {
		return 0, err
	}
	switch s[idx:] {
	case "", "s":
		return int(val * 1000), nil
	case "ms":
		return int(val), nil
	case "m":
		return int(val * 60000), nil
	case "h":
		return int(val * 3600000), nil
	default:
		return 0, fmt.Errorf("cliapp: unknown duration unit in %q", s)
	}
}

// memOrDefault parses a memory size (bare number = MB, or "k"/"m"/"g"
// suffixed, optionally followed by "b"), returning def if s is empty.
func memOrDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := parseMemoryBytes(s)
	if err != nil {
		return def
	}
	return v
}

func parseMemoryBytes(s string) (int64, error) {
	idx := 0
	for idx < len(s) && (s[idx] == '.' || s[idx] == '-' || (s[idx] >= '0' && s[idx] <= '9')) {
		idx++
	}
	val, err := strconv.ParseFloat(s[:idx], 64)
	if err != nil {
		return 0, err
	}
	unit := strings.ToLower(s[idx:])
	unit = strings.TrimSuffix(unit, "b")
	var mult int64
	switch unit {
	case "":
		mult = 1024 * 1024
	case "k":
		mult = 1024
	case "m":
		mult = 1024 * 1024
	case "g":
		mult = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("cliapp: unknown memory unit in %q", s)
	}
	return int64(val * float64(mult)), nil
}

// parseNodeList splits a comma-separated list of node budgets, each with an
// optional k/m/g/b suffix (thousand/million/billion), into int64s.
func parseNodeList(s string) []int64 {
	if s == "" {
		return nil
	}
	var out []int64
	for _, item := range strings.Split(s, ",") {
		if item == "" {
			continue
		}
		out = append(out, parseNodeCount(item))
	}
	return out
}

func parseNodeCount(item string) int64 {
	idx := 0
	for idx < len(item) && (item[idx] == '.' || (item[idx] >= '0' && item[idx] <= '9')) {
		idx++
	}
	val, err := strconv.ParseFloat(item[:idx], 64)
	if err != nil {
		return 0
	}
	suffix := strings.ToLower(item[idx:])
	var mult int64 = 1
	switch suffix {
	case "k":
		mult = 1_000
	case "m":
		mult = 1_000_000
	case "b", "g":
		mult = 1_000_000_000
	}
	return int64(val * float64(mult))
}

func parseIntList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, item := range strings.Split(s, ",") {
		if item == "" {
			continue
		}
		if n, err := strconv.Atoi(item); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseInt64List(s string) []int64 {
	if s == "" {
		return nil
	}
	var out []int64
	for _, item := range strings.Split(s, ",") {
		if item == "" {
			continue
		}
		if n, err := strconv.ParseInt(item, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Validate applies the config-error checks the original raises at setup,
// all fatal (process exit code 1) rather than player/run-scoped failures.
func Validate(cfg config.Config, hardwareConcurrency int) error {
	if len(cfg.P1.Command) == 0 || len(cfg.P2.Command) == 0 {
		return fmt.Errorf("cliapp: missing -p1 or -p2")
	}
	if cfg.BoardSize < 5 || cfg.BoardSize > 40 {
		return fmt.Errorf("cliapp: board size must be between 5 and 40")
	}
	for _, mp := range cfg.Batch.MaxPairs {
		if mp < 1 {
			return fmt.Errorf("cliapp: --max-pairs must be >= 1")
		}
	}
	if cfg.Risk < 0.0 || cfg.Risk > 1.0 {
		return fmt.Errorf("cliapp: --risk must be between 0.0 and 1.0")
	}
	if (cfg.ApiURL != "") != (cfg.ApiKey != "") {
		return fmt.Errorf("cliapp: --api-url and --api-key must be provided together")
	}
	if cfg.Threads > hardwareConcurrency {
		return fmt.Errorf("cliapp: requested threads (%d) exceed hardware concurrency (%d)", cfg.Threads, hardwareConcurrency)
	}
	return nil
}
