// Package greeter implements the greeting loop.
//
// The loop writes one line, then waits one interval, forever. A cancellation
// request arriving during the wait is never treated as a failure. What it
// does to the loop depends on the policy:
//
//   - PolicyGraceful: the wait returns early and the loop exits before
//     writing anything else.
//   - PolicyFaithful: the request is recorded and logged, the wait runs to
//     completion and the loop carries on. The flag is set but never acted on.
//
// Cancelling the context passed to Run stops the loop under both policies.
//
// Example usage:
//
//	flag := cancel.New()
//	g := greeter.New(os.Stdout, flag, greeter.DefaultConfig())
//	stats, err := g.Run(ctx)
package greeter

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bebsworthy/greeter/internal/cancel"
	"github.com/bebsworthy/greeter/internal/errors"
	"github.com/bebsworthy/greeter/internal/logging"
	"github.com/bebsworthy/greeter/internal/metrics"
)

// Policy selects how a cancellation request affects the loop
type Policy string

const (
	PolicyGraceful Policy = "graceful"
	PolicyFaithful Policy = "faithful"
)

// DefaultMessage is the greeting written on every iteration
const DefaultMessage = "Hello, World!"

// DefaultInterval is the wait between greetings
const DefaultInterval = 1 * time.Second

// StopReason describes why Run returned
type StopReason string

const (
	StopCancelled  StopReason = "cancelled"
	StopCompleted  StopReason = "completed"
	StopContext    StopReason = "context"
	StopWriteError StopReason = "write_error"
)

// Settings are the parts of the loop that a reload may change
type Settings struct {
	Message  string
	Interval time.Duration
}

// Config contains greeter configuration
type Config struct {
	Settings
	// Count bounds the number of greetings. Zero means unbounded.
	Count            int
	Policy           Policy
	ExitOnWriteError bool
}

// DefaultConfig returns a configuration that greets once per second forever
func DefaultConfig() Config {
	return Config{
		Settings: Settings{
			Message:  DefaultMessage,
			Interval: DefaultInterval,
		},
		Count:  0,
		Policy: PolicyGraceful,
	}
}

// Stats summarizes a finished run
type Stats struct {
	Greetings   int64
	WriteErrors int64
	Cancelled   bool
	Reason      StopReason
	Started     time.Time
	Stopped     time.Time
}

// Greeter writes greetings to an output stream until stopped
type Greeter struct {
	out              io.Writer
	flag             *cancel.Flag
	policy           Policy
	count            int
	exitOnWriteError bool

	logger  *logging.Logger
	monitor *metrics.Monitor

	mu       sync.RWMutex
	settings Settings

	ran          atomic.Bool
	acknowledged bool
}

// New creates a greeter writing to out and observing flag.
func New(out io.Writer, flag *cancel.Flag, cfg Config) *Greeter {
	if cfg.Message == "" {
		cfg.Message = DefaultMessage
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyGraceful
	}
	if flag == nil {
		flag = cancel.New()
	}

	return &Greeter{
		out:              out,
		flag:             flag,
		policy:           cfg.Policy,
		count:            cfg.Count,
		exitOnWriteError: cfg.ExitOnWriteError,
		logger:           logging.Discard(),
		monitor:          metrics.NewMonitor(),
		settings:         cfg.Settings,
	}
}

// SetLogger sets the logger for loop events
func (g *Greeter) SetLogger(logger *logging.Logger) {
	g.logger = logger
}

// SetMonitor sets the monitor that records greetings and write timings
func (g *Greeter) SetMonitor(monitor *metrics.Monitor) {
	g.monitor = monitor
}

// Settings returns the settings the next iteration will use
func (g *Greeter) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// Apply replaces message and interval. It takes effect from the next
// iteration; an in-progress wait keeps its original duration. Invalid
// values are rejected and the current settings stay in place.
func (g *Greeter) Apply(s Settings) error {
	if s.Message == "" || s.Interval <= 0 {
		return errors.ConfigError(errors.CodeInvalidConfig, "greeting settings need a message and a positive interval", nil)
	}

	g.mu.Lock()
	old := g.settings
	g.settings = s
	g.mu.Unlock()

	if old != s {
		g.logger.Info("Settings applied",
			slog.String("message", s.Message),
			slog.Duration("interval", s.Interval),
		)
	}
	return nil
}

// Run executes the loop. It returns when the loop stops; under the faithful
// policy with no count and an uncancelled ctx it never returns. A Greeter
// can be run only once.
func (g *Greeter) Run(ctx context.Context) (Stats, error) {
	if !g.ran.CompareAndSwap(false, true) {
		return Stats{}, errors.ErrAlreadyRun
	}

	stats := Stats{Started: time.Now()}

	g.logger.Info("Greeter started",
		slog.String("policy", string(g.policy)),
		slog.Duration("interval", g.Settings().Interval),
		slog.Int("count", g.count),
	)

	steady := &backoff.ConstantBackOff{Interval: g.Settings().Interval}
	var pacer backoff.BackOff = steady
	if g.count > 0 {
		pacer = backoff.WithMaxRetries(steady, uint64(g.count-1))
	}

	for {
		if reason, stop := g.shouldStop(ctx); stop {
			stats.Reason = reason
			break
		}

		settings := g.Settings()
		if err := g.emit(ctx, settings.Message); err != nil {
			stats.WriteErrors++
			if g.exitOnWriteError {
				stats.Reason = StopWriteError
				g.finish(&stats)
				return stats, err
			}
		} else {
			stats.Greetings++
		}

		steady.Interval = settings.Interval
		next := pacer.NextBackOff()
		if next == backoff.Stop {
			stats.Reason = StopCompleted
			break
		}

		g.wait(ctx, next)
	}

	g.finish(&stats)
	return stats, nil
}

// shouldStop is checked at every iteration boundary, which includes the
// point right after a wait returns and before the next write.
func (g *Greeter) shouldStop(ctx context.Context) (StopReason, bool) {
	if ctx.Err() != nil {
		return StopContext, true
	}

	if !g.flag.Done() {
		return "", false
	}

	if g.policy == PolicyGraceful {
		return StopCancelled, true
	}

	if !g.acknowledged {
		g.acknowledged = true
		g.logger.Info("Cancellation acknowledged, loop continues", slog.String("policy", string(g.policy)))
	}
	return "", false
}

// emit writes one line with a single Write call.
func (g *Greeter) emit(ctx context.Context, message string) error {
	line := make([]byte, 0, len(message)+1)
	line = append(line, message...)
	line = append(line, '\n')

	err := g.monitor.TrackOperation(ctx, "emit", func() error {
		_, err := g.out.Write(line)
		return err
	})
	if err != nil {
		code := errors.CodeWriteFailed
		if stderrors.Is(errors.ClassifyError(err), errors.ErrBrokenPipe) {
			code = errors.CodeBrokenPipe
		}

		wrapped := errors.OutputError(code, "write greeting", err).WithOperation("emit")
		g.monitor.TrackError(ctx, string(wrapped.Type), wrapped.Code, "greeter", wrapped.Message)
		g.logger.LogError(ctx, "Greeting write failed", wrapped)
		return wrapped
	}

	g.monitor.RecordGreeting()
	return nil
}

// wait suspends for d. Under the graceful policy it returns early once the
// flag is set; under the faithful policy only ctx can cut it short.
func (g *Greeter) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var cancelled <-chan struct{}
	if g.policy == PolicyGraceful {
		cancelled = g.flag.Wait()
	}

	select {
	case <-timer.C:
	case <-cancelled:
		g.logger.Debug("Wait interrupted by cancellation")
	case <-ctx.Done():
	}
}

func (g *Greeter) finish(stats *Stats) {
	stats.Cancelled = g.flag.Done()
	stats.Stopped = time.Now()

	g.logger.Info("Greeter stopped",
		slog.String("reason", string(stats.Reason)),
		slog.Int64("greetings", stats.Greetings),
		slog.Int64("write_errors", stats.WriteErrors),
		slog.Bool("cancelled", stats.Cancelled),
	)
}
