package dispatch

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// Releaser is anything holding device resources: tensors, scalars,
// invocations.
type Releaser interface {
	Release() error
}

// Guard releases every tracked resource when the scope that owns it exits,
// unless ownership was handed on with Keep. The zero value is ready to use.
//
//	var g dispatch.Guard
//	defer g.Release()
//	out, err := tensor.Allocate(dc, s, dt)
//	...
//	g.Track(out)
//	...
//	g.Keep(out)
//	return out, nil
type Guard struct {
	items []Releaser
}

// Track registers r for release. Nil values are ignored.
func (g *Guard) Track(r Releaser) {
	if r == nil {
		return
	}
	g.items = append(g.items, r)
}

// Keep removes r from the guard so Release leaves it alive.
func (g *Guard) Keep(r Releaser) {
	for i, it := range g.items {
		if it == r {
			g.items = append(g.items[:i], g.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked resources.
func (g *Guard) Len() int { return len(g.items) }

// Release frees tracked resources newest first and reports every failure.
func (g *Guard) Release() error {
	var errs []error
	for i := len(g.items) - 1; i >= 0; i-- {
		if err := g.items[i].Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release guarded resource")
			errs = append(errs, err)
		}
	}
	g.items = nil
	return errors.Join(errs...)
}
