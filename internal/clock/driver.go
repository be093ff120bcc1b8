package clock

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// TickSource delivers the real-time cadence of the main loop.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type tickerSource struct {
	t *time.Ticker
}

// NewTicker returns a TickSource backed by time.Ticker.
func NewTicker(interval time.Duration) TickSource {
	return &tickerSource{t: time.NewTicker(interval)}
}

func (s *tickerSource) C() <-chan time.Time { return s.t.C }
func (s *tickerSource) Stop()               { s.t.Stop() }

// Driver calls Clock.Tick on every beat of its source. Ticks while the clock
// is stopped are no-ops.
type Driver struct {
	clock  *Clock
	source TickSource
}

// NewDriver returns a driver ticking c on every beat of source.
func NewDriver(c *Clock, source TickSource) *Driver {
	return &Driver{clock: c, source: source}
}

// Run blocks until ctx is done or the source closes, then waits for fired
// triggers to return.
func (d *Driver) Run(ctx context.Context) error {
	defer d.clock.Wait()
	defer d.source.Stop()

	log.Info("Simulation driver started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Simulation driver stopped")
			return nil
		case _, ok := <-d.source.C():
			if !ok {
				return nil
			}
			d.clock.Tick(ctx)
		}
	}
}
