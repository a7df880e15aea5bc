// Package aspect implements the handler aspect chain: ordered before/after
// hooks around a terminal route handler, with short-circuit semantics
// (spec §4.4). There is no non-fatal aspect: an error from any Before
// ends the chain.
package aspect

import "github.com/wattframework/ampere/router"

// Aspect is a single before/after hook pair. Before may short-circuit the
// chain by returning a non-nil error or handled=true; After only runs for
// aspects whose Before actually ran, in reverse registration order,
// regardless of whether the terminal handler itself returned an error.
//
// Grounded on bolt/core/types.go's `Middleware func(Handler) Handler`
// closure-wrapping model, restructured into an explicit list: spec §4.4
// requires tracking *which* aspects' Before ran so After can be invoked
// only for those, in reverse — a property closures can't express without
// already being shaped this way.
type Aspect struct {
	Name   string
	Before func(ctx router.Context) (handled bool, err error)
	After  func(ctx router.Context, handlerErr error)
}

// Chain wraps a terminal handler with an ordered list of aspects.
type Chain struct {
	aspects []Aspect
	handler router.Handler
}

// NewChain builds a Chain that runs aspects (in order) before handler and
// their After hooks (in reverse) afterward.
func NewChain(handler router.Handler, aspects ...Aspect) *Chain {
	return &Chain{aspects: aspects, handler: handler}
}

// Handle implements router.Handler.
func (c *Chain) Handle(ctx router.Context) error {
	ran := make([]int, 0, len(c.aspects))

	var handlerErr error
	short := false

	for i, a := range c.aspects {
		if a.Before == nil {
			ran = append(ran, i)
			continue
		}
		handled, err := a.Before(ctx)
		ran = append(ran, i)
		if err != nil {
			handlerErr = err
			short = true
			break
		}
		if handled {
			short = true
			break
		}
	}

	if !short {
		handlerErr = c.handler(ctx)
	}

	// After hooks run for every aspect whose Before ran, in reverse
	// registration order, and observe the eventual outcome: a downstream
	// handler error, or the error (if any) that short-circuited the chain.
	for i := len(ran) - 1; i >= 0; i-- {
		idx := ran[i]
		if c.aspects[idx].After != nil {
			c.aspects[idx].After(ctx, handlerErr)
		}
	}

	return handlerErr
}

// AsHandler adapts c to router.Handler for registration.
func (c *Chain) AsHandler() router.Handler {
	return c.Handle
}
