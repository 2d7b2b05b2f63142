// Package coroutine implements the one-shot bidirectional rendezvous of
// §4.1: a driver future and an inner body exchange values through two
// cells, one at a time, until the body completes. It is the shared
// runtime glue underlying request/response connector adapters, test
// harness readers, and paginated API iterators (§4.1, §9).
//
// The Rust original guards a single-threaded rendezvous with two cells
// that must never both be occupied. Idiomatic Go expresses the same
// contract with two unbuffered channels: a send only completes once the
// other side is ready to receive, which is exactly the "at most one cell
// occupied" invariant, enforced by the channel itself rather than by a
// runtime assertion.
package coroutine

import "context"

// Suspend is handed to the body function; calling Yield publishes a value
// to the driver and parks until the driver resumes with a new value.
type Suspend[Y, R any] struct {
	yieldCh  chan Y
	resumeCh chan R
	ctx      context.Context
}

// Yield publishes v to the driver and blocks until the driver calls
// Resume, returning the resumed value. It returns an error if ctx is
// cancelled while parked, matching the suspension-point contract of §5.
func (s *Suspend[Y, R]) Yield(v Y) (R, error) {
	select {
	case s.yieldCh <- v:
	case <-s.ctx.Done():
		var zero R
		return zero, s.ctx.Err()
	}
	select {
	case r := <-s.resumeCh:
		return r, nil
	case <-s.ctx.Done():
		var zero R
		return zero, s.ctx.Err()
	}
}

// Context returns the coroutine's context, for the body to use in its own
// suspension points (database queries, connector RPCs, §5).
func (s *Suspend[Y, R]) Context() context.Context { return s.ctx }

// Body is the function run as the inner async body of a Coroutine.
type Body[Y, R, Out any] func(ctx context.Context, s *Suspend[Y, R]) (Out, error)

// Coroutine is the driver side of the rendezvous. Start and Resume both
// park until the body yields or completes.
type Coroutine[Y, R, Out any] struct {
	suspend *Suspend[Y, R]
	done    chan struct{}
	out     Out
	err     error
	started bool
}

// New constructs a Coroutine running body, unstarted.
func New[Y, R, Out any](ctx context.Context, body Body[Y, R, Out]) *Coroutine[Y, R, Out] {
	var c = &Coroutine[Y, R, Out]{
		suspend: &Suspend[Y, R]{
			yieldCh:  make(chan Y),
			resumeCh: make(chan R),
			ctx:      ctx,
		},
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.out, c.err = body(ctx, c.suspend)
	}()
	return c
}

// Step is the outcome of Start or Resume: either the body yielded a
// value, or it completed (with a final Out value and possibly an error).
type Step[Y, Out any] struct {
	Yielded  Y
	Done     bool
	Out      Out
	Err      error
}

// Start waits for the body's first yield or its completion.
func (c *Coroutine[Y, R, Out]) Start() Step[Y, Out] {
	return c.wait()
}

// Resume deposits v into the resume cell and waits for the body's next
// yield or its completion. Calling Resume after the body has completed is
// undefined, matching the Rust primitive's contract (§4.1).
func (c *Coroutine[Y, R, Out]) Resume(v R) Step[Y, Out] {
	select {
	case c.suspend.resumeCh <- v:
	case <-c.done:
		return Step[Y, Out]{Done: true, Out: c.out, Err: c.err}
	}
	return c.wait()
}

func (c *Coroutine[Y, R, Out]) wait() Step[Y, Out] {
	select {
	case y := <-c.suspend.yieldCh:
		return Step[Y, Out]{Yielded: y}
	case <-c.done:
		return Step[Y, Out]{Done: true, Out: c.out, Err: c.err}
	}
}

// ResultBody is the "result flavor" of §4.1: a body that yields stream
// items of type Y, and whose own errors are mapped into terminal stream
// items rather than a separate Out channel.
type ResultBody[Y any] func(ctx context.Context, s *Suspend[Y, struct{}]) error

// NewResult constructs a Coroutine whose completion carries only an
// error, for drivers that treat "stream ended" and "stream errored" as
// the same kind of terminal event (connector adapters, test readers).
func NewResult[Y any](ctx context.Context, body ResultBody[Y]) *Coroutine[Y, struct{}, struct{}] {
	return New[Y, struct{}, struct{}](ctx, func(ctx context.Context, s *Suspend[Y, struct{}]) (struct{}, error) {
		return struct{}{}, body(ctx, s)
	})
}
