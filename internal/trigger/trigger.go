// Package trigger holds the periodic collaborators the simulation clock fires
// on its cadence gates. The clock does not wait for or interpret their results
// beyond logging and counting errors.
package trigger

import (
	"context"
	"errors"
	"time"
)

// Trigger is fired by the clock on the ticks its gate selects.
type Trigger interface {
	Fire(ctx context.Context, tick int64, simNow time.Time) error
}

// Func adapts a plain function to a Trigger.
type Func func(ctx context.Context, tick int64, simNow time.Time) error

func (f Func) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	return f(ctx, tick, simNow)
}

// Multi fires every trigger in order and joins their errors. Nil entries are
// skipped.
type Multi []Trigger

func (m Multi) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	var errs []error
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Fire(ctx, tick, simNow); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
