package facade

import (
	"context"
	"time"
)

// handlerFunc is the shape every tool operation implements: translate a
// typed input into a typed output or a (normally *errs.Error) failure.
type handlerFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// dispatch runs a handler once, recording latency and outcome against
// the facade's metrics under the given transport label ("mcp" or
// "http"). Both tools.go and http.go funnel through this so the two
// transports can never drift in how they're measured.
func dispatch[In, Out any](ctx context.Context, f *Facade, tool, transport string, h handlerFunc[In, Out], in In) (Out, error) {
	start := time.Now()
	out, err := h(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	f.metrics.observe(tool, transport, outcome, time.Since(start).Seconds())
	return out, err
}
