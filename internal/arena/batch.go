package arena

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/gomoku-arena/arena/internal/config"
)

// defaultEvalNodes is used when the batch config's eval-node list is empty.
const defaultEvalNodes = 15_000_000

// ExpandBatch turns a raw parameter sweep into the full, shuffled list of
// resolved run specs: diagonal (n,n) over the common-node list when set and
// neither per-side list is, else the cartesian product of the two per-side
// lists (each defaulting to {0}, unbounded), crossed with eval nodes,
// min/max-pair pairs, and the repeat index.
func ExpandBatch(bc config.BatchConfig) []config.RunSpec {
	evalNodes := bc.EvalNodes
	if len(evalNodes) == 0 {
		evalNodes = []int64{defaultEvalNodes}
	}
	minPairs := bc.MinPairs
	if len(minPairs) == 0 {
		minPairs = []int{0}
	}
	maxPairs := bc.MaxPairs
	if len(maxPairs) == 0 {
		maxPairs = []int{10}
	}
	repeat := bc.Repeat
	if repeat <= 0 {
		repeat = 1
	}

	var runs []config.RunSpec
	addRun := func(n1, n2, ne int64, minp, maxp, r int) {
		if minp > maxp {
			minp = maxp
		}
		rs := config.RunSpec{P1Nodes: n1, P2Nodes: n2, EvalNodes: ne, MinPairs: minp, MaxPairs: maxp, RepeatIndex: r}
		if r < len(bc.Seeds) {
			seed := bc.Seeds[r]
			rs.Seed = &seed
		}
		runs = append(runs, rs)
	}

	useCommon := len(bc.CommonNodes) > 0 && len(bc.P1Nodes) == 0 && len(bc.P2Nodes) == 0
	if useCommon {
		for _, n := range bc.CommonNodes {
			for _, ne := range evalNodes {
				for _, minp := range minPairs {
					for _, maxp := range maxPairs {
						for r := 0; r < repeat; r++ {
							addRun(n, n, ne, minp, maxp, r)
						}
					}
				}
			}
		}
	} else {
		p1 := bc.P1Nodes
		if len(p1) == 0 {
			p1 = []int64{0}
		}
		p2 := bc.P2Nodes
		if len(p2) == 0 {
			p2 = []int64{0}
		}
		for _, n1 := range p1 {
			for _, n2 := range p2 {
				for _, ne := range evalNodes {
					for _, minp := range minPairs {
						for _, maxp := range maxPairs {
							for r := 0; r < repeat; r++ {
								addRun(n1, n2, ne, minp, maxp, r)
							}
						}
					}
				}
			}
		}
	}

	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(runs), func(i, j int) {
		runs[i], runs[j] = runs[j], runs[i]
	})
	return runs
}

// formatNodes renders a node budget the way the label generator wants it:
// empty for unbounded, else the largest round unit ("15m", "2g", "750k").
func formatNodes(nodes int64) string {
	switch {
	case nodes == 0:
		return ""
	case nodes >= 1_000_000_000:
		return strconv.FormatInt(nodes/1_000_000_000, 10) + "g"
	case nodes >= 1_000_000:
		return strconv.FormatInt(nodes/1_000_000, 10) + "m"
	case nodes >= 1_000:
		return strconv.FormatInt(nodes/1_000, 10) + "k"
	default:
		return strconv.FormatInt(nodes, 10)
	}
}

// defaultAnnounceMs is the turn-time default elided from the label when both
// sides match it exactly.
const defaultAnnounceMs = 5000

// GenerateLabel builds the human-readable run label (N, N1/N2, T, T1/T2, M),
// eliding fields at their default value, falling back to "default" if
// nothing distinguishes this run.
func GenerateLabel(p1, p2 config.BotConfig) string {
	var parts []string
	add := func(name, val string) {
		if val == "" {
			return
		}
		parts = append(parts, name+"="+val)
	}

	if p1.MaxNodes == p2.MaxNodes && p1.MaxNodes > 0 {
		add("N", formatNodes(p1.MaxNodes))
	} else {
		if p1.MaxNodes > 0 {
			add("N1", formatNodes(p1.MaxNodes))
		}
		if p2.MaxNodes > 0 {
			add("N2", formatNodes(p2.MaxNodes))
		}
	}

	if p1.MaxNodes == 0 && p2.MaxNodes == 0 {
		if p1.AnnounceMs == p2.AnnounceMs {
			if p1.AnnounceMs != defaultAnnounceMs {
				add("T", strconv.Itoa(p1.AnnounceMs/1000)+"s")
			}
		} else {
			add("T1", strconv.Itoa(p1.AnnounceMs/1000)+"s")
			add("T2", strconv.Itoa(p2.AnnounceMs/1000)+"s")
		}
	}

	if p1.MemoryBytes > 0 && p1.MemoryBytes == p2.MemoryBytes {
		add("M", strconv.FormatInt(p1.MemoryBytes/(1024*1024), 10)+"m")
	}

	if len(parts) == 0 {
		return "default"
	}
	label := parts[0]
	for _, p := range parts[1:] {
		label += ", " + p
	}
	return label
}

// generateRunID returns a short, collision-resistant identifier: the
// millisecond clock folded to 32 bits, an underscore, then a random 32-bit
// value, both in hex.
func generateRunID(rng *rand.Rand) string {
	ms := uint32(time.Now().UnixMilli())
	return fmt.Sprintf("%x_%x", ms, rng.Uint32())
}

// GenerateRunID is the exported entry point cmd/arena uses to stamp each
// expanded run with an identifier before constructing its RunContext.
func GenerateRunID(rng *rand.Rand) string {
	return generateRunID(rng)
}
