package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bebsworthy/greeter/internal/errors"
	"github.com/bebsworthy/greeter/internal/signals"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// pushSource hands registered channels to the test.
type pushSource struct {
	mu sync.Mutex
	c  chan<- os.Signal
}

func (p *pushSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c = c
}

func (p *pushSource) Stop(c chan<- os.Signal) {}

func (p *pushSource) send(sig os.Signal) {
	p.mu.Lock()
	c := p.c
	p.mu.Unlock()
	c <- sig
}

// resetCommand clears flag state left over from a previous Execute.
func resetCommand(t *testing.T) {
	t.Helper()

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	configFile = ""
	verbose = false
	signalSource = signals.OSSource{}

	// Keep auto-discovery away from the user's config
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GREETER_CONFIG", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out, _, err := executeCapturingStderr(t, args...)
	return out, err
}

func executeCapturingStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootBoundedRun(t *testing.T) {
	resetCommand(t)

	out, err := execute(t, "--count", "3", "--interval", "10ms")
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("Hello, World!\n", 3), out)
}

func TestRootCustomMessage(t *testing.T) {
	resetCommand(t)

	out, err := execute(t, "--count", "2", "--interval", "1ms", "--message", "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Hi\nHi\n", out)
}

func TestRootReadsConfigFile(t *testing.T) {
	resetCommand(t)

	path := filepath.Join(t.TempDir(), "greeter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  message: \"From file\"\n  count: 2\n  interval: \"1ms\"\n"), 0644))

	out, err := execute(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "From file\nFrom file\n", out)
}

func TestRootFlagsOverrideConfigFile(t *testing.T) {
	resetCommand(t)

	path := filepath.Join(t.TempDir(), "greeter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  message: \"From file\"\n  count: 5\n  interval: \"1ms\"\n"), 0644))

	out, err := execute(t, "--config", path, "--count", "1")
	require.NoError(t, err)
	assert.Equal(t, "From file\n", out)
}

func TestRootRejectsArguments(t *testing.T) {
	resetCommand(t)

	_, err := execute(t, "unexpected")
	assert.Error(t, err)
}

func TestRootInvalidPolicy(t *testing.T) {
	resetCommand(t)

	out, err := execute(t, "--policy", "sometimes", "--count", "1")
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, out, "nothing is printed when configuration is invalid")
}

func TestRootMissingConfigFile(t *testing.T) {
	resetCommand(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--count", "1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfigNotFound))
}

func TestRootLogsToCommandStderr(t *testing.T) {
	resetCommand(t)

	out, errOut, err := executeCapturingStderr(t, "--count", "1", "--interval", "1ms")
	require.NoError(t, err)

	assert.Equal(t, "Hello, World!\n", out)
	assert.Contains(t, errOut, "Greeter started")
	assert.Contains(t, errOut, "Run summary")
	assert.NotContains(t, out, "Greeter started")
}

func TestRootIgnoresConfigInWorkingDirectory(t *testing.T) {
	resetCommand(t)

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("logging:\n  level: trace\n"), 0644))

	out, err := execute(t, "--count", "1", "--interval", "1ms")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!\n", out)
}

func TestRootInterruptStopsGracefully(t *testing.T) {
	resetCommand(t)

	src := &pushSource{}
	signalSource = src

	out := &syncBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--interval", "1h"})

	done := make(chan error, 1)
	go func() {
		done <- rootCmd.Execute()
	}()

	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 5*time.Millisecond)
	src.send(syscall.SIGINT)

	select {
	case err := <-done:
		require.NoError(t, err, "interruption is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("command did not stop after SIGINT")
	}

	assert.Equal(t, "Hello, World!\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	resetCommand(t)

	out, err := execute(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Go version:")
}

func TestConfigCommand(t *testing.T) {
	resetCommand(t)

	out, err := execute(t, "config", "--interval", "2s")
	require.NoError(t, err)

	assert.Contains(t, out, "message: Hello, World!")
	assert.Contains(t, out, "interval: 2s")
	assert.Contains(t, out, "policy: graceful")
}
