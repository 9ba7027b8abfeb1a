// Package dispatch runs errands immediately, outside their schedule.
//
// Delay is fire-and-forget: it starts a fresh goroutine and returns a Pending
// handle at once. RunNow is the blocking form for callers that want the result.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"errands/internal/domain"
	"errands/internal/errand"
)

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, run domain.Run) error
}

type Dispatcher struct {
	log      *zerolog.Logger
	recorder Recorder
	wg       sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = &l }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) logger() *zerolog.Logger {
	if d.log != nil {
		return d.log
	}
	return &log.Logger
}

// Pending tracks one background run.
type Pending struct {
	id   string
	done chan struct{}
	err  error
}

func (p *Pending) ID() string { return p.id }

// Done is closed when the run finishes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the run's error once Done is closed, nil before.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the run finishes or ctx ends. The run keeps going when
// ctx ends first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay starts fn on a new goroutine and returns immediately. The run is
// detached from ctx cancellation; ctx values are kept.
func (d *Dispatcher) Delay(ctx context.Context, name string, category domain.Category, fn errand.Func) *Pending {
	return d.start(ctx, "", name, category, fn)
}

// DelayErrand is Delay for a registered errand.
func (d *Dispatcher) DelayErrand(ctx context.Context, e *errand.Errand) *Pending {
	return d.start(ctx, e.ID(), e.Name(), e.Category(), e.Func())
}

func (d *Dispatcher) start(ctx context.Context, id, name string, category domain.Category, fn errand.Func) *Pending {
	p := &Pending{id: "run_" + uuid.NewString(), done: make(chan struct{})}
	l := d.logger().With().Str("errand", name).Str("category", string(category)).Str("run_id", p.id).Logger()
	l.Info().Msg("errand running in the background")

	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(p.done)

		start := time.Now()
		p.err = errand.Safe(runCtx, name, category, fn)
		took := time.Since(start)
		if p.err != nil {
			l.Error().Err(p.err).Dur("took", took).Msg("background errand failed")
		} else {
			l.Info().Dur("took", took).Msg("background errand completed")
		}
		if d.recorder != nil {
			run := domain.Run{
				ID:        p.id,
				ErrandID:  id,
				Name:      name,
				Category:  category,
				Trigger:   domain.TriggerManual,
				StartedAt: start,
				Duration:  took,
				Success:   p.err == nil,
			}
			if p.err != nil {
				run.Error = p.err.Error()
			}
			if err := d.recorder.Record(runCtx, run); err != nil {
				l.Warn().Err(err).Msg("record run")
			}
		}
	}()
	return p
}

// RunNow runs fn on its own goroutine and waits for it.
func (d *Dispatcher) RunNow(ctx context.Context, name string, category domain.Category, fn errand.Func) error {
	return d.Delay(ctx, name, category, fn).Wait(ctx)
}

// Wait blocks until every background run started so far has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }
