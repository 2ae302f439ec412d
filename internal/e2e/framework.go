// Package e2e runs the greeter binary as a child process.
//
// These tests build the real binary and exercise it the way an operator
// would. They verify:
//
// - Output cadence and byte-exact greeting lines on stdout
// - SIGINT and SIGTERM handling under both cancellation policies
// - SIGHUP reload leaving the loop running
// - A closed stdout counted as a write error, or fatal when configured
// - Deterministic output across runs
package e2e

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

var (
	buildOnce  sync.Once
	buildDir   string
	binaryPath string
	buildErr   error
)

// Line is one line read from the child's stdout
type Line struct {
	Text string
	At   time.Time
}

// Process is a running greeter binary with captured output
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	lines  []Line
	stderr bytes.Buffer

	readDone chan struct{}
	exited   chan struct{}
	waitErr  error
}

// Binary builds the greeter binary once per test run and returns its path
func Binary(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("signal delivery to child processes is not supported on windows")
	}

	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "greeter-e2e-")
		if buildErr != nil {
			return
		}
		binaryPath = filepath.Join(buildDir, "greeter")
		out, err := exec.Command("go", "build", "-o", binaryPath, "../..").CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("failed to build greeter: %w: %s", err, out)
		}
	})

	if buildErr != nil {
		t.Fatalf("%v", buildErr)
	}
	return binaryPath
}

func cleanupBinary() {
	if buildDir != "" {
		os.RemoveAll(buildDir)
	}
}

// isolatedEnv keeps the child away from the user's config files
func isolatedEnv(t *testing.T) []string {
	return append(os.Environ(),
		"HOME="+t.TempDir(),
		"GREETER_CONFIG=",
	)
}

// Run executes the binary to completion and returns its stdout
func Run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(Binary(t), args...)
	cmd.Dir = t.TempDir()
	cmd.Env = isolatedEnv(t)

	out, err := cmd.Output()
	return string(out), err
}

// Start launches the binary and begins collecting its stdout lines
func Start(t *testing.T, args ...string) *Process {
	t.Helper()

	cmd := exec.Command(Binary(t), args...)
	cmd.Dir = t.TempDir()
	cmd.Env = isolatedEnv(t)

	p := &Process{
		cmd:      cmd,
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}
	cmd.Stderr = &lockedWriter{mu: &p.mu, buf: &p.stderr}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to create stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start greeter: %v", err)
	}
	p.stdout = stdout

	go func() {
		defer close(p.readDone)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := Line{Text: scanner.Text(), At: time.Now()}
			p.mu.Lock()
			p.lines = append(p.lines, line)
			p.mu.Unlock()
		}
	}()

	// Wait must not run before all reads from the pipe are done
	go func() {
		<-p.readDone
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	t.Cleanup(p.Kill)

	t.Logf("greeter started (PID: %d) args=%v", cmd.Process.Pid, args)
	return p
}

// Lines returns a copy of the stdout lines read so far
func (p *Process) Lines() []Line {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := make([]Line, len(p.lines))
	copy(lines, p.lines)
	return lines
}

// Stderr returns everything the child wrote to stderr
func (p *Process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

// WaitForLines blocks until at least n lines have been read
func (p *Process) WaitForLines(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(p.Lines()) >= n {
			return nil
		}
		select {
		case <-p.exited:
			if got := len(p.Lines()); got < n {
				return fmt.Errorf("process exited after %d lines, wanted %d", got, n)
			}
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for %d lines, got %d", n, len(p.Lines()))
}

// CloseStdout closes the read end of the child's stdout pipe, so its next
// write hits a broken pipe. No further lines are collected.
func (p *Process) CloseStdout() error {
	return p.stdout.Close()
}

// Signal delivers sig to the child
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Running reports whether the child has not exited yet
func (p *Process) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Wait waits for the child to exit and returns its exit code
func (p *Process) Wait(timeout time.Duration) (int, error) {
	select {
	case <-p.exited:
	case <-time.After(timeout):
		return -1, fmt.Errorf("timeout waiting for process to exit")
	}

	if p.waitErr == nil {
		return 0, nil
	}
	if exitErr, ok := p.waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, p.waitErr
}

// Kill terminates the child if it is still running
func (p *Process) Kill() {
	if !p.Running() {
		return
	}
	p.cmd.Process.Kill()
	<-p.exited
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(b)
}
