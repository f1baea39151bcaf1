// Package workerpool bounds concurrent invocations of an external capability.
//
// A Pool wraps a capability function (speech-to-text or text-to-speech) with
// a fixed number of worker slots and a bounded hand-off queue. Submission
// never blocks the caller's event loop: when every slot is busy and the
// queue is full, Submit fails fast with KindWorkerPoolSaturated instead of
// growing unbounded.
//
// Each job runs under its own timeout on an independent worker slot. A job
// that exceeds its timeout is reported as KindCapabilityTimeout and the slot
// is released immediately; the underlying call's result is discarded when it
// eventually arrives. One stuck external call therefore never starves the
// pool.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	// DefaultWorkers is the per-capability concurrency bound.
	DefaultWorkers = 2

	// DefaultJobTimeout applies when the config does not set one.
	DefaultJobTimeout = 30 * time.Second
)

// Config controls one pool instance.
type Config struct {
	// Name identifies the capability in logs ("transcription", "synthesis").
	Name string

	// Workers is the number of concurrent capability invocations. Default 2.
	Workers int

	// QueueDepth is the number of jobs that may wait for a slot beyond the
	// workers themselves. Zero means submissions succeed only when a worker
	// is free to take the job immediately.
	QueueDepth int

	// JobTimeout bounds each capability invocation. Default 30 s.
	JobTimeout time.Duration

	// Metrics receives saturation and timeout counts. Nil disables recording.
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "capability"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueDepth < 0 {
		c.QueueDepth = 0
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
}

// Handle is the future for one submitted job. Wait on Done, then read Result.
type Handle[Res any] struct {
	done chan struct{}
	res  Res
	err  error
}

// Done is closed once the job has completed, timed out, or been cancelled.
func (h *Handle[Res]) Done() <-chan struct{} { return h.done }

// Result returns the job outcome. Only valid after Done is closed.
func (h *Handle[Res]) Result() (Res, error) { return h.res, h.err }

func (h *Handle[Res]) complete(res Res, err error) {
	h.res = res
	h.err = err
	close(h.done)
}

type job[Req, Res any] struct {
	ctx       context.Context
	sessionID string
	req       Req
	handle    *Handle[Res]
}

// Pool is a bounded concurrent executor for one capability.
type Pool[Req, Res any] struct {
	cfg Config
	fn  func(context.Context, Req) (Res, error)

	jobs chan job[Req, Res]

	closed  chan struct{}
	once    sync.Once
	workers sync.WaitGroup
}

// New creates a pool and starts its worker goroutines. fn is the capability
// invocation; it must honor context cancellation where the underlying API
// allows it.
func New[Req, Res any](cfg Config, fn func(context.Context, Req) (Res, error)) *Pool[Req, Res] {
	cfg.applyDefaults()
	p := &Pool[Req, Res]{
		cfg:    cfg,
		fn:     fn,
		jobs:   make(chan job[Req, Res], cfg.QueueDepth),
		closed: make(chan struct{}),
	}
	for i := range cfg.Workers {
		p.workers.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a job tagged with its owning session. It returns
// immediately: a Handle on success, or a KindWorkerPoolSaturated error when
// no slot or queue space is available.
//
// ctx is the job's cancellation scope (typically the session's); cancelling
// it before the job starts skips the capability call entirely.
func (p *Pool[Req, Res]) Submit(ctx context.Context, sessionID string, req Req) (*Handle[Res], error) {
	select {
	case <-p.closed:
		return nil, types.NewError(types.KindWorkerPoolSaturated, "%s pool is shut down", p.cfg.Name)
	default:
	}

	j := job[Req, Res]{
		ctx:       ctx,
		sessionID: sessionID,
		req:       req,
		handle:    &Handle[Res]{done: make(chan struct{})},
	}
	select {
	case p.jobs <- j:
		return j.handle, nil
	default:
		p.cfg.Metrics.RecordPoolSaturation(ctx, p.cfg.Name)
		return nil, types.NewError(types.KindWorkerPoolSaturated,
			"%s pool saturated (%d workers, queue %d)", p.cfg.Name, p.cfg.Workers, p.cfg.QueueDepth)
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to finish or
// ctx to expire. Queued jobs that never started are failed with a shutdown
// error.
func (p *Pool[Req, Res]) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.closed) })

	waited := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker pulls jobs until the pool closes. Each slot is independent: a
// timeout on this slot's job releases the slot without touching the others.
func (p *Pool[Req, Res]) worker(slot int) {
	defer p.workers.Done()
	for {
		select {
		case <-p.closed:
			p.drain()
			return
		case j := <-p.jobs:
			p.run(slot, j)
		}
	}
}

// drain fails any jobs still queued at shutdown.
func (p *Pool[Req, Res]) drain() {
	for {
		select {
		case j := <-p.jobs:
			var zero Res
			j.handle.complete(zero, types.NewError(types.KindWorkerPoolSaturated,
				"%s pool shut down before job started", p.cfg.Name))
		default:
			return
		}
	}
}

// run executes one job under its timeout. The capability call happens on a
// separate goroutine so a call that ignores cancellation still cannot hold
// the slot past the deadline; its late result is discarded.
func (p *Pool[Req, Res]) run(slot int, j job[Req, Res]) {
	var zero Res

	if err := j.ctx.Err(); err != nil {
		j.handle.complete(zero, err)
		return
	}

	ctx, cancel := context.WithTimeout(j.ctx, p.cfg.JobTimeout)
	defer cancel()

	type outcome struct {
		res Res
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := p.fn(ctx, j.req)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			out.err = types.WrapError(types.KindCapabilityTimeout, out.err,
				p.cfg.Name+" call exceeded its timeout")
		}
		j.handle.complete(out.res, out.err)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("capability call timed out, releasing worker slot",
				"pool", p.cfg.Name, "slot", slot, "session", j.sessionID,
				"timeout", p.cfg.JobTimeout, "elapsed", time.Since(start))
			p.cfg.Metrics.RecordJobTimeout(context.Background(), p.cfg.Name)
			err = types.WrapError(types.KindCapabilityTimeout, err,
				p.cfg.Name+" call exceeded its timeout")
		}
		j.handle.complete(zero, err)
	}
}
