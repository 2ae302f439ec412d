package signals

import (
	"os"
	"os/signal"
)

// Source abstracts signal registration so tests can inject signals without
// delivering them to the test process.
type Source interface {
	// Notify registers c to receive the given signals.
	Notify(c chan<- os.Signal, sig ...os.Signal)
	// Stop unregisters c.
	Stop(c chan<- os.Signal)
}

// OSSource delivers real process signals via os/signal.
type OSSource struct{}

// Notify registers c with signal.Notify.
func (OSSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

// Stop unregisters c with signal.Stop.
func (OSSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}
