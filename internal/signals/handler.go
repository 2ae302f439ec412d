// Package signals turns process signals into actions on the greeter.
//
// SIGINT and SIGTERM set the cancellation flag. SIGHUP asks for a
// configuration reload and never stops the loop. SIGPIPE is watched and
// ignored so a closed stdout shows up as a write error instead of killing
// the process. Dispatch runs on a single
// goroutine that touches only the flag, the reload callback and metrics.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/bebsworthy/greeter/internal/cancel"
	"github.com/bebsworthy/greeter/internal/errors"
	"github.com/bebsworthy/greeter/internal/logging"
	"github.com/bebsworthy/greeter/internal/metrics"
)

// Action is what the handler does with a received signal
type Action int

const (
	ActionIgnore Action = iota
	ActionCancel
	ActionReload
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionReload:
		return "reload"
	default:
		return "ignore"
	}
}

// DefaultActions returns the signal table used by the binary
func DefaultActions() map[os.Signal]Action {
	return map[os.Signal]Action{
		syscall.SIGINT:  ActionCancel,
		syscall.SIGTERM: ActionCancel,
		syscall.SIGHUP:  ActionReload,
		syscall.SIGPIPE: ActionIgnore,
	}
}

// Handler dispatches signals from a Source
type Handler struct {
	source  Source
	actions map[os.Signal]Action
	flag    *cancel.Flag
	logger  *logging.Logger
	monitor *metrics.Monitor

	ch   chan os.Signal
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool

	// OnReload is called for ActionReload signals. An error is logged and
	// the previous configuration stays in effect.
	OnReload func() error

	// OnAction is called after every dispatched signal. Used by tests.
	OnAction func(sig os.Signal, action Action)
}

// NewHandler creates a handler that sets flag on cancellation signals.
// A nil source means OSSource; nil actions means DefaultActions.
func NewHandler(flag *cancel.Flag, source Source, actions map[os.Signal]Action) *Handler {
	if source == nil {
		source = OSSource{}
	}
	if actions == nil {
		actions = DefaultActions()
	}

	return &Handler{
		source:  source,
		actions: actions,
		flag:    flag,
		logger:  logging.Discard(),
	}
}

// SetLogger sets the logger for signal events
func (h *Handler) SetLogger(logger *logging.Logger) {
	h.logger = logger
}

// SetMonitor sets the monitor that counts observed signals
func (h *Handler) SetMonitor(monitor *metrics.Monitor) {
	h.monitor = monitor
}

// Start registers with the source and starts the dispatch goroutine. The
// goroutine exits when ctx is cancelled or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.SignalError(errors.CodeSignalSetup, "signal handler already started", nil)
	}

	sigs := make([]os.Signal, 0, len(h.actions))
	for sig := range h.actions {
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return errors.SignalError(errors.CodeSignalSetup, "no signals to watch", nil)
	}

	h.ch = make(chan os.Signal, 1)
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.source.Notify(h.ch, sigs...)
	h.started = true

	go h.loop(ctx)

	h.logger.Debug("Signal handler started", slog.Int("signals", len(sigs)))
	return nil
}

// Stop unregisters from the source and waits for the dispatch goroutine.
// Safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.source.Stop(h.ch)
	close(h.stop)
	done := h.done
	h.mu.Unlock()

	<-done
}

func (h *Handler) loop(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case sig := <-h.ch:
			h.Handle(sig)
		}
	}
}

// Handle performs the action mapped to sig and returns it.
func (h *Handler) Handle(sig os.Signal) Action {
	action, ok := h.actions[sig]
	if !ok {
		action = ActionIgnore
	}

	if h.monitor != nil {
		h.monitor.RecordSignal(sig.String())
	}

	switch action {
	case ActionCancel:
		if h.flag.Cancel() {
			h.logger.Info("Cancellation requested", slog.String("signal", sig.String()))
			if h.monitor != nil {
				h.monitor.SetCancelled()
			}
		} else {
			h.logger.Debug("Cancellation already requested", slog.String("signal", sig.String()))
		}

	case ActionReload:
		h.logger.Info("Reload requested", slog.String("signal", sig.String()))
		if h.OnReload != nil {
			if err := h.reload(); err != nil {
				h.logger.LogError(context.Background(), "Reload failed, keeping previous configuration", err)
				if h.monitor != nil {
					h.monitor.TrackError(context.Background(), string(errors.GetType(err)), errors.GetCode(err), "signals", err.Error())
				}
			}
		}

	default:
		h.logger.Debug("Ignoring signal", slog.String("signal", sig.String()))
	}

	if h.OnAction != nil {
		h.OnAction(sig, action)
	}

	return action
}

// reload runs OnReload and reports a panic as an error.
func (h *Handler) reload() (err error) {
	defer func() {
		if recovered := errors.RecoverError(recover()); recovered != nil {
			err = recovered
		}
	}()

	if err := h.OnReload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}
