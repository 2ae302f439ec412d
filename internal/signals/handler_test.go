package signals

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bebsworthy/greeter/internal/cancel"
	"github.com/bebsworthy/greeter/internal/errors"
	"github.com/bebsworthy/greeter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource records registrations and lets tests push signals.
type fakeSource struct {
	mu      sync.Mutex
	c       chan<- os.Signal
	sigs    []os.Signal
	stopped bool
}

func (f *fakeSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c = c
	f.sigs = append(f.sigs, sig...)
}

func (f *fakeSource) Stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) send(sig os.Signal) {
	f.mu.Lock()
	c := f.c
	f.mu.Unlock()
	c <- sig
}

// startHandler starts h and returns a channel receiving every dispatched action.
func startHandler(t *testing.T, h *Handler) <-chan Action {
	t.Helper()

	actions := make(chan Action, 8)
	h.OnAction = func(_ os.Signal, a Action) {
		actions <- a
	}

	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return actions
}

func waitAction(t *testing.T, actions <-chan Action) Action {
	t.Helper()
	select {
	case a := <-actions:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal dispatch")
		return ActionIgnore
	}
}

func TestDefaultActions(t *testing.T) {
	actions := DefaultActions()

	assert.Equal(t, ActionCancel, actions[syscall.SIGINT])
	assert.Equal(t, ActionCancel, actions[syscall.SIGTERM])
	assert.Equal(t, ActionReload, actions[syscall.SIGHUP])

	action, ok := actions[syscall.SIGPIPE]
	assert.True(t, ok, "SIGPIPE must be watched so broken pipes surface as write errors")
	assert.Equal(t, ActionIgnore, action)
}

func TestBrokenPipeSignalIsIgnored(t *testing.T) {
	src := &fakeSource{}
	flag := cancel.New()

	h := NewHandler(flag, src, nil)
	actions := startHandler(t, h)

	src.send(syscall.SIGPIPE)
	assert.Equal(t, ActionIgnore, waitAction(t, actions))
	assert.False(t, flag.Done())
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "cancel", ActionCancel.String())
	assert.Equal(t, "reload", ActionReload.String())
	assert.Equal(t, "ignore", ActionIgnore.String())
}

func TestStartRegistersSignals(t *testing.T) {
	src := &fakeSource{}
	h := NewHandler(cancel.New(), src, nil)

	require.NoError(t, h.Start(context.Background()))
	assert.ElementsMatch(t, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPIPE}, src.sigs)

	assert.Error(t, h.Start(context.Background()), "second Start should fail")

	h.Stop()
	assert.True(t, src.stopped)

	// Stop is idempotent
	h.Stop()
}

func TestStartWithoutSignals(t *testing.T) {
	h := NewHandler(cancel.New(), &fakeSource{}, map[os.Signal]Action{})
	assert.Error(t, h.Start(context.Background()))
}

func TestInterruptSetsFlag(t *testing.T) {
	for _, sig := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			src := &fakeSource{}
			flag := cancel.New()
			monitor := metrics.NewMonitor()

			h := NewHandler(flag, src, nil)
			h.SetMonitor(monitor)
			actions := startHandler(t, h)

			src.send(sig)
			assert.Equal(t, ActionCancel, waitAction(t, actions))
			assert.True(t, flag.Done())
			expected := fmt.Sprintf(`
# HELP greeter_signals_total Number of process signals observed, by signal name.
# TYPE greeter_signals_total counter
greeter_signals_total{signal=%q} 1
`, sig.String())
			require.NoError(t, testutil.GatherAndCompare(monitor.Registry(), strings.NewReader(expected), "greeter_signals_total"))
		})
	}
}

func TestRepeatedInterruptKeepsFlagSet(t *testing.T) {
	src := &fakeSource{}
	flag := cancel.New()

	h := NewHandler(flag, src, nil)
	actions := startHandler(t, h)

	src.send(syscall.SIGINT)
	waitAction(t, actions)
	src.send(syscall.SIGTERM)
	waitAction(t, actions)

	assert.True(t, flag.Done())
}

func TestHangupReloadsWithoutCancelling(t *testing.T) {
	src := &fakeSource{}
	flag := cancel.New()

	reloads := 0
	h := NewHandler(flag, src, nil)
	h.OnReload = func() error {
		reloads++
		return nil
	}
	actions := startHandler(t, h)

	src.send(syscall.SIGHUP)
	assert.Equal(t, ActionReload, waitAction(t, actions))

	assert.Equal(t, 1, reloads)
	assert.False(t, flag.Done(), "SIGHUP must never stop the loop")
}

func TestReloadFailureIsContained(t *testing.T) {
	src := &fakeSource{}
	monitor := metrics.NewMonitor()

	h := NewHandler(cancel.New(), src, nil)
	h.SetMonitor(monitor)
	h.OnReload = func() error {
		return errors.ConfigError(errors.CodeReloadFailed, "bad file", nil)
	}
	actions := startHandler(t, h)

	src.send(syscall.SIGHUP)
	waitAction(t, actions)

	expected := `
# HELP greeter_errors_total Number of errors tracked, by type and code.
# TYPE greeter_errors_total counter
greeter_errors_total{code="RELOAD_FAILED",type="config"} 1
`
	require.NoError(t, testutil.GatherAndCompare(monitor.Registry(), strings.NewReader(expected), "greeter_errors_total"))
}

func TestReloadPanicIsRecovered(t *testing.T) {
	h := NewHandler(cancel.New(), &fakeSource{}, nil)
	h.OnReload = func() error {
		panic("reload exploded")
	}

	assert.NotPanics(t, func() {
		assert.Equal(t, ActionReload, h.Handle(syscall.SIGHUP))
	})
}

func TestUnmappedSignalIsIgnored(t *testing.T) {
	flag := cancel.New()
	h := NewHandler(flag, &fakeSource{}, map[os.Signal]Action{syscall.SIGINT: ActionCancel})

	assert.Equal(t, ActionIgnore, h.Handle(syscall.SIGQUIT))
	assert.False(t, flag.Done())
}

func TestContextCancelStopsDispatch(t *testing.T) {
	h := NewHandler(cancel.New(), &fakeSource{}, nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancelCtx()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch goroutine did not exit on context cancel")
	}
	h.Stop()
}
