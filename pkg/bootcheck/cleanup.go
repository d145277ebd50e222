package bootcheck

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type release struct {
	name string
	fn   func(ctx context.Context) error
	done bool
}

// Cleanup tracks every resource a run acquires together with the action
// that releases it. Release unwinds them in reverse acquisition order and
// fires each action exactly once, so it is safe to call after a partial
// failure and safe to call more than once.
type Cleanup struct {
	releases []*release
}

func newCleanup() *Cleanup {
	return &Cleanup{}
}

// Push binds a release action to a resource that was just acquired.
func (c *Cleanup) Push(name string, fn func(ctx context.Context) error) {
	c.releases = append(c.releases, &release{name: name, fn: fn})
}

// Pending reports how many release actions have not fired yet.
func (c *Cleanup) Pending() int {
	n := 0
	for _, r := range c.releases {
		if !r.done {
			n++
		}
	}
	return n
}

// Release runs the pending release actions last-in first-out. Failures are
// logged and joined but never stop the remaining actions. The context is
// detached from cancellation so an interrupted run still cleans up.
func (c *Cleanup) Release(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(c.releases) - 1; i >= 0; i-- {
		r := c.releases[i]
		if r.done {
			continue
		}
		r.done = true

		if err := r.fn(ctx); err != nil {
			logger().Warn("cleanup step failed", zap.String("step", r.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		logger().Debug("cleanup step done", zap.String("step", r.name))
	}
	return errors.Join(errs...)
}
