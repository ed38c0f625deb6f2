// Package flowgraph drives a single source block the way a streaming
// scheduler would: one Work call per quantum from one goroutine, with start
// and stop serialized against work.
package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
	"github.com/UbhaSecurity/gr-osmosdr/internal/source"
)

// Block is a source node. Work fills outputs[0][:noutput] and returns the
// number of items produced, or source.WorkDone once the stream has ended.
type Block interface {
	Start() error
	Stop() error
	Work(noutput int, outputs [][]complex64) (int, error)
}

// Sink consumes each produced block. The slice is only valid for the call.
type Sink func(block []complex64) error

// DefaultQuantum is the request size used when Config names none.
const DefaultQuantum = 4096

// Config controls how the runner schedules work.
type Config struct {
	// Quanta is cycled through for successive requests. Empty means
	// DefaultQuantum every time.
	Quanta []int
	// Limit stops the run after this many items. Zero runs until the block
	// ends or the context is canceled.
	Limit uint64
}

// Reason explains why a run ended.
type Reason string

const (
	ReasonDone     Reason = "done"
	ReasonFatal    Reason = "fatal"
	ReasonLimit    Reason = "limit"
	ReasonCanceled Reason = "canceled"
	ReasonSink     Reason = "sink"
)

// Result summarizes a finished run.
type Result struct {
	Reason   Reason        `json:"reason"`
	Quanta   uint64        `json:"quanta"`
	Items    uint64        `json:"items"`
	Duration time.Duration `json:"duration"`
}

// Runner owns a block for the duration of one run.
type Runner struct {
	mu      sync.Mutex
	block   Block
	sink    Sink
	quanta  []int
	limit   uint64
	logger  logging.Logger
	running bool
	stopped bool
}

// NewRunner validates cfg and builds a runner for block.
func NewRunner(block Block, sink Sink, cfg Config, logger logging.Logger) (*Runner, error) {
	if block == nil {
		return nil, errors.New("flowgraph: nil block")
	}
	quanta := append([]int(nil), cfg.Quanta...)
	if len(quanta) == 0 {
		quanta = []int{DefaultQuantum}
	}
	for _, q := range quanta {
		if q <= 0 {
			return nil, fmt.Errorf("flowgraph: quantum must be positive, got %d", q)
		}
	}
	return &Runner{
		block:  block,
		sink:   sink,
		quanta: quanta,
		limit:  cfg.Limit,
		logger: logging.For(logger, "flowgraph"),
	}, nil
}

// Run starts the block and calls Work until the block reports WorkDone, a
// fatal error occurs, the limit is reached, the sink fails or ctx is
// canceled. Cancellation takes effect between Work calls. The block is
// stopped before Run returns.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.running || r.stopped {
		r.mu.Unlock()
		return Result{}, errors.New("flowgraph: runner already used")
	}
	if err := r.block.Start(); err != nil {
		r.mu.Unlock()
		return Result{}, fmt.Errorf("start block: %w", err)
	}
	r.running = true
	r.mu.Unlock()

	began := time.Now()
	res, runErr := r.loop(ctx)
	res.Duration = time.Since(began)

	if err := r.Stop(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	fields := []logging.Field{
		logging.F("reason", string(res.Reason)),
		logging.F("quanta", res.Quanta),
		logging.F("items", res.Items),
		logging.F("duration_ms", res.Duration.Seconds()*1000),
	}
	if runErr != nil {
		r.logger.Error("flowgraph stopped", append(fields, logging.Err(runErr))...)
	} else {
		r.logger.Info("flowgraph stopped", fields...)
	}
	return res, runErr
}

func (r *Runner) loop(ctx context.Context) (Result, error) {
	maxQ := 0
	for _, q := range r.quanta {
		maxQ = max(maxQ, q)
	}
	buf := make([]complex64, maxQ)
	outputs := [][]complex64{buf}

	var res Result
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			res.Reason = ReasonCanceled
			return res, nil
		default:
		}

		want := r.quanta[i%len(r.quanta)]
		if r.limit > 0 {
			remaining := r.limit - res.Items
			if remaining == 0 {
				res.Reason = ReasonLimit
				return res, nil
			}
			if uint64(want) > remaining {
				want = int(remaining)
			}
		}

		n, err := r.work(want, outputs)
		if err != nil {
			res.Reason = ReasonFatal
			return res, fmt.Errorf("work: %w", err)
		}
		if n == source.WorkDone {
			res.Reason = ReasonDone
			return res, nil
		}
		res.Quanta++
		res.Items += uint64(n)
		r.logger.Debug("work complete", logging.F("requested", want), logging.F("produced", n))

		if r.sink != nil && n > 0 {
			if err := r.sink(buf[:n]); err != nil {
				res.Reason = ReasonSink
				return res, fmt.Errorf("sink: %w", err)
			}
		}
	}
}

func (r *Runner) work(n int, outputs [][]complex64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return source.WorkDone, nil
	}
	return r.block.Work(n, outputs)
}

// Stop stops the block. It waits for an in-flight Work call to return and
// is safe to call more than once.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	if !r.running {
		return nil
	}
	if err := r.block.Stop(); err != nil {
		return fmt.Errorf("stop block: %w", err)
	}
	return nil
}
