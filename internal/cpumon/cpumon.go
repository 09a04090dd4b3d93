// Package cpumon samples per-process CPU time from /proc/<pid>/stat, for
// wall/CPU efficiency accounting.
package cpumon

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksPerSec mirrors sysconf(_SC_CLK_TCK), which is 100 on every
// Linux platform Go supports.
const clockTicksPerSec = 100

// Times is a snapshot of a process's accumulated CPU time.
type Times struct {
	UserMs   int64
	SystemMs int64
}

// Total returns the combined user+system CPU time.
func (t Times) Total() time.Duration {
	return time.Duration(t.UserMs+t.SystemMs) * time.Millisecond
}

// Sample reads /proc/<pid>/stat fields 14 (utime) and 15 (stime), returning
// a zero Times and no error if the OS lacks /proc (e.g. non-Linux) or the
// process has already exited, per the "approximate, never crash" contract.
func Sample(pid int) (Times, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Times{}, nil //nolint:nilerr // best-effort accounting
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if !sc.Scan() {
		return Times{}, nil
	}
	line := sc.Text()

	// comm can itself contain ')'; fields start after the last ')'.
	close := strings.LastIndexByte(line, ')')
	if close < 0 {
		return Times{}, nil
	}
	rest := strings.Fields(line[close+1:])
	// rest[0] is field 3 (state); utime is field 14 -> rest[11]; stime is
	// field 15 -> rest[12].
	if len(rest) < 13 {
		return Times{}, nil
	}
	utime, err1 := strconv.ParseInt(rest[11], 10, 64)
	stime, err2 := strconv.ParseInt(rest[12], 10, 64)
	if err1 != nil || err2 != nil {
		return Times{}, nil
	}

	return Times{
		UserMs:   utime * 1000 / clockTicksPerSec,
		SystemMs: stime * 1000 / clockTicksPerSec,
	}, nil
}

// Delta returns the CPU time consumed between two samples.
func Delta(start, end Times) Times {
	return Times{
		UserMs:   end.UserMs - start.UserMs,
		SystemMs: end.SystemMs - start.SystemMs,
	}
}

// Load expresses cpu time as a percentage of wall time elapsed.
func Load(cpu time.Duration, wall time.Duration) float64 {
	if wall <= 0 {
		return 0
	}
	return 100 * cpu.Seconds() / wall.Seconds()
}
