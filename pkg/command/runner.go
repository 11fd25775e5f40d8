package command

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/pid"
)

// ErrStopped is returned by Runner.Handle once Run has returned.
var ErrStopped = errors.New("runner stopped")

type call struct {
	req   Request
	fn    func(*controller.Controller) error
	reply chan result
}

type result struct {
	resp Response
	err  error
}

var _ Handler = (*Runner)(nil)

// Runner owns a controller: it ticks at a fixed period and executes queued
// requests between ticks, so callers on other goroutines never race a tick.
type Runner struct {
	ctrl   *controller.Controller
	h      Handler
	clk    clock.Clock
	period time.Duration
	log    logging.Logger

	calls chan call
	done  chan struct{}

	mu        sync.RWMutex
	callbacks []func(pid.Tick)
}

// NewRunner creates a runner ticking ctrl every period and executing
// requests with h.
func NewRunner(ctrl *controller.Controller, h Handler, clk clock.Clock, period time.Duration, log logging.Logger) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{
		ctrl:   ctrl,
		h:      h,
		clk:    clk,
		period: period,
		log:    logging.OrNop(log),
		calls:  make(chan call),
		done:   make(chan struct{}),
	}
}

// OnTick registers a callback run on the runner goroutine after every tick.
func (r *Runner) OnTick(cb func(pid.Tick)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Handle queues req for the runner goroutine and waits for the reply.
func (r *Runner) Handle(req Request) (Response, error) {
	return r.submit(call{req: req, reply: make(chan result, 1)})
}

// Exec runs fn with the controller on the runner goroutine between ticks and
// returns its error.
func (r *Runner) Exec(fn func(*controller.Controller) error) error {
	_, err := r.submit(call{fn: fn, reply: make(chan result, 1)})
	return err
}

func (r *Runner) submit(c call) (Response, error) {
	select {
	case r.calls <- c:
	case <-r.done:
		return Response{}, ErrStopped
	}
	select {
	case res := <-c.reply:
		return res.resp, res.err
	case <-r.done:
		return Response{}, ErrStopped
	}
}

// Run ticks the controller until ctx is canceled. It may be called once.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	ticker := r.clk.Ticker(r.period)
	defer ticker.Stop()

	r.log.Infow("control loop started", "period", r.period)
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			tick := r.ctrl.Tick()
			r.mu.RLock()
			for _, cb := range r.callbacks {
				cb(tick)
			}
			r.mu.RUnlock()
		case c := <-r.calls:
			if c.fn != nil {
				c.reply <- result{err: c.fn(r.ctrl)}
				continue
			}
			resp, err := r.h.Handle(c.req)
			c.reply <- result{resp: resp, err: err}
		}
	}
}
