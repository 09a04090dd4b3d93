// Package process implements the subprocess channel: a child process with
// redirected, merged stdout/stderr, bounded line-oriented reads with
// deadlines, a write timeout, memory capping, and lifecycle reap with
// peak-RSS accounting and exit-cause decoding.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxBufferedBytes bounds how much unread data may accumulate before a line
// terminator shows up; exceeding it is treated as a protocol violation.
const maxBufferedBytes = 256 << 10

// StopFlag is a process-wide cooperative cancellation flag, checked at every
// suspension point inside ReadLine. It is distinct from a run's own
// SPRT-triggered stop (see internal/arena), which only gates admission of
// new games for that run.
type StopFlag struct {
	v atomic.Bool
}

// Set raises the flag. Safe to call from a signal handler.
func (f *StopFlag) Set() { f.v.Store(true) }

// IsSet reports whether the flag has been raised.
func (f *StopFlag) IsSet() bool { return f.v.Load() }

// PlayerError represents a protocol or contract violation by a subprocess:
// timeout, illegal move, OOM, signal death, or buffer overflow.
type PlayerError struct {
	Msg   string
	Cause error
}

func (e *PlayerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *PlayerError) Unwrap() error { return e.Cause }

// ErrMatchTerminated signals cooperative cancellation observed at a
// suspension point.
var ErrMatchTerminated = errors.New("match terminated")

// ErrTimeout is returned by ReadLine when no line arrived before the
// deadline, without the subprocess having exited or misbehaved.
var ErrTimeout = errors.New("read timeout")

// ExitInfo describes how a subprocess ended.
type ExitInfo struct {
	Normal     bool
	Code       int
	Signal     string // "" if Normal, else e.g. "SIGSEGV", or "signal N"
	PeakRSSKb  int64
}

// Process wraps one child subprocess.
type Process struct {
	cmd      *exec.Cmd
	stdinW   *os.File
	stdoutR  *os.File
	stop     *StopFlag
	mu       sync.Mutex // guards buf
	buf      []byte
	pid      int
	waitOnce sync.Once
	waitErr  error
	waitDone chan struct{}
}

// rlimitMu serializes the setrlimit-around-fork sequence in Start: RLIMIT_AS
// is process-wide on Linux, so tightening it to cap one child's address
// space while another goroutine concurrently forks a differently-capped (or
// uncapped) child would cross-contaminate the two. Only the fork+exec
// window itself is held under the lock.
var rlimitMu sync.Mutex

// Start launches argv[0] with argv[1:], merging stdout and stderr. A non-nil
// env is the child's entire environment (the caller includes os.Environ()
// if inheritance is desired); a nil env inherits this process's
// environment. memBytes, if
// positive, caps the child's virtual address space via RLIMIT_AS, inherited
// at fork time the same way the original imposes it in its child's pre-exec
// setup; 0 leaves the child uncapped.
func Start(ctx context.Context, argv []string, env []string, stop *StopFlag, memBytes int64) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("process: empty command")
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stdoutW
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		// Pdeathsig asks the kernel to SIGKILL the child if this process
		// dies first; best-effort, Linux-only.
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.Cancel = func() error { return nil } // cancellation handled explicitly via Terminate

	startErr := startWithMemCap(cmd, memBytes)
	if startErr != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("process: start %q: %w", argv[0], startErr)
	}

	// parent only needs the far ends of each pipe
	stdinR.Close()
	stdoutW.Close()

	p := &Process{
		cmd:      cmd,
		stdinW:   stdinW,
		stdoutR:  stdoutR,
		stop:     stop,
		pid:      cmd.Process.Pid,
		waitDone: make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	return p, nil
}

// startWithMemCap starts cmd, briefly tightening this process's own
// RLIMIT_AS to memBytes beforehand when memBytes > 0 and restoring it
// immediately after: a child inherits its parent's rlimits at fork time, so
// this imposes the cap on the child alone without requiring a pre-exec hook
// (which os/exec does not expose). Serialized by rlimitMu since the limit
// is process-wide.
func startWithMemCap(cmd *exec.Cmd, memBytes int64) error {
	if memBytes <= 0 {
		return cmd.Start()
	}

	rlimitMu.Lock()
	defer rlimitMu.Unlock()

	var saved unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &saved); err != nil {
		return fmt.Errorf("getrlimit RLIMIT_AS: %w", err)
	}

	capped := unix.Rlimit{Cur: uint64(memBytes), Max: uint64(memBytes)}
	if saved.Max != unix.RLIM_INFINITY && capped.Max > saved.Max {
		capped.Max = saved.Max
		capped.Cur = saved.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &capped); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_AS: %w", err)
	}
	defer unix.Setrlimit(unix.RLIMIT_AS, &saved)

	return cmd.Start()
}

// IsExecNotFound reports whether err (as returned by Start) stems from the
// child executable not existing or not being resolvable on PATH, as opposed
// to some other system failure (pipe creation, permission, etc.) — the
// distinction cmd/arena needs to pick exit code 127 over a generic 1.
func IsExecNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.pid }

// WriteLine appends "\n" and writes s, retrying partial writes until
// complete or a ~500ms write-availability timeout elapses.
func (p *Process) WriteLine(s string) error {
	line := append([]byte(s), '\n')
	deadline := time.Now().Add(500 * time.Millisecond)
	for len(line) > 0 {
		_ = p.stdinW.SetWriteDeadline(deadline)
		n, err := p.stdinW.Write(line)
		line = line[n:]
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return &PlayerError{Msg: "write timeout", Cause: err}
			}
			return &PlayerError{Msg: "write failed", Cause: err}
		}
	}
	return nil
}

// ReadLine returns the next newline-terminated line (trailing \r stripped),
// blocking up to timeout. Cooperative cancellation is observed before each
// poll slice: if the stop flag is set, ErrMatchTerminated is returned.
func (p *Process) ReadLine(timeout time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if line, ok := p.extractLine(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	const pollSlice = 200 * time.Millisecond

	for {
		if p.stop != nil && p.stop.IsSet() {
			return "", ErrMatchTerminated
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		slice := pollSlice
		if remaining < slice {
			slice = remaining
		}

		_ = p.stdoutR.SetReadDeadline(time.Now().Add(slice))
		chunk := make([]byte, 4096)
		n, err := p.stdoutR.Read(chunk)
		if n > 0 {
			p.buf = append(p.buf, chunk[:n]...)
			if len(p.buf) > maxBufferedBytes {
				return "", &PlayerError{Msg: "read buffer overflow"}
			}
			if line, ok := p.extractLine(); ok {
				return line, nil
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			// EOF or other I/O error: the child's write end closed.
			exitInfo := p.reap(2 * time.Second)
			return "", &PlayerError{Msg: "subprocess exited", Cause: exitErr(exitInfo)}
		}
	}
}

func exitErr(e ExitInfo) error {
	if e.Normal {
		return fmt.Errorf("exit code %d", e.Code)
	}
	return fmt.Errorf("%s", e.Signal)
}

// extractLine pulls one \n-terminated, \r-stripped line out of the buffer,
// compacting the remainder. Must be called with p.mu held.
func (p *Process) extractLine() (string, bool) {
	idx := bytes.IndexByte(p.buf, '\n')
	if idx < 0 {
		return "", false
	}
	line := p.buf[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	rest := make([]byte, len(p.buf)-idx-1)
	copy(rest, p.buf[idx+1:])
	p.buf = rest
	return string(line), true
}

// Terminate sends "END\n", waits a short grace period, then kills the
// process group if the child is still alive. Returns peak RSS and exit
// cause.
func (p *Process) Terminate() ExitInfo {
	_ = p.WriteLine("END")
	return p.reap(100 * time.Millisecond)
}

// reap waits up to grace for a natural exit, escalating to SIGKILL of the
// whole process group, and decodes the resulting wait status exactly once.
func (p *Process) reap(grace time.Duration) ExitInfo {
	var info ExitInfo
	p.waitOnce.Do(func() {
		select {
		case <-p.waitDone:
		case <-time.After(grace):
			if pgid, err := unix.Getpgid(p.pid); err == nil {
				_ = unix.Kill(-pgid, unix.SIGKILL)
			} else {
				_ = p.cmd.Process.Kill()
			}
			<-p.waitDone
		}

		info = decodeExit(p.cmd.ProcessState, p.waitErr)

		_ = p.stdinW.Close()
		_ = p.stdoutR.Close()
	})
	return info
}

func decodeExit(state *os.ProcessState, waitErr error) ExitInfo {
	var info ExitInfo
	if state == nil {
		info.Signal = "unknown"
		return info
	}

	if rusage, ok := state.SysUsage().(*syscall.Rusage); ok {
		info.PeakRSSKb = int64(rusage.Maxrss)
	}

	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		info.Normal = state.Success()
		return info
	}

	switch {
	case ws.Exited():
		info.Normal = true
		info.Code = ws.ExitStatus()
	case ws.Signaled():
		info.Signal = signalName(ws.Signal())
	default:
		info.Signal = "unknown"
	}
	return info
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return fmt.Sprintf("signal %d", int(sig))
	}
}
