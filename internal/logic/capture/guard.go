package capture

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/picast/internal/debug"
)

// guard releases one acquired resource at most once.
type guard struct {
	name string
	kind error // nil = best effort, failures are only logged
	fn   func() error
	done bool
}

// release runs the guard if it has not run yet. A nil guard does nothing.
func (g *guard) release() error {
	if g == nil || g.done {
		return nil
	}
	g.done = true
	debug.Verbose("Teardown: %s", g.name)
	if err := g.fn(); err != nil {
		if g.kind == nil {
			debug.Warn("Teardown: %s: %v", g.name, err)
			return nil
		}
		return fmt.Errorf("%s: %w", g.name, err)
	}
	return nil
}

// guards is the session's release stack. Resources are pushed in
// acquisition order and released in reverse, so an active recording is
// always stopped before the camera closes and the camera closes before the
// connection.
type guards struct {
	stack []*guard
}

func (gs *guards) push(name string, kind error, fn func() error) *guard {
	g := &guard{name: name, kind: kind, fn: fn}
	gs.stack = append(gs.stack, g)
	return g
}

// releaseAll runs every pending guard, newest first, even when an earlier
// one fails. It returns the kind of the first failure and all failures joined.
func (gs *guards) releaseAll() (kind error, err error) {
	var errs []error
	for i := len(gs.stack) - 1; i >= 0; i-- {
		g := gs.stack[i]
		if rerr := g.release(); rerr != nil {
			if kind == nil {
				kind = g.kind
			}
			errs = append(errs, rerr)
		}
	}
	gs.stack = nil
	return kind, errors.Join(errs...)
}
