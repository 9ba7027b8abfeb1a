// Package worker runs registered errands. There is one Pool per category and
// every errand in a pool owns one worker slot for as long as the pool runs.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"errands/internal/domain"
	"errands/internal/errand"
)

var ErrAlreadyRunning = errors.New("worker pool already running")

// Source provides the errands of a category.
type Source interface {
	Lookup(c domain.Category) []*errand.Errand
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, run domain.Run) error
}

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Pool struct {
	category domain.Category
	slots    []*Slot
	sem      chan struct{}
	running  atomic.Bool

	log      zerolog.Logger
	once     bool
	sleep    SleepFunc
	recorder Recorder
}

type Option func(*Pool)

func WithLogger(l zerolog.Logger) Option { return func(p *Pool) { p.log = l } }

// WithOnce makes every slot do a single wait/execute pass instead of looping.
func WithOnce(once bool) Option { return func(p *Pool) { p.once = once } }

func WithSleep(fn SleepFunc) Option { return func(p *Pool) { p.sleep = fn } }

func WithRecorder(r Recorder) Option { return func(p *Pool) { p.recorder = r } }

// NewPool snapshots the category's errands from src. Errands added to src
// later are not picked up.
func NewPool(category domain.Category, src Source, size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		category: category,
		sem:      make(chan struct{}, size),
		log:      log.Logger,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("category", string(category)).Logger()
	for _, e := range src.Lookup(category) {
		p.slots = append(p.slots, &Slot{errand: e})
	}
	return p
}

func (p *Pool) Category() domain.Category { return p.category }
func (p *Pool) Workers() int              { return cap(p.sem) }

// Run starts one loop per errand, up to the pool size. Errands beyond the
// pool size are never started and stay unscheduled. Run returns when ctx
// ends or, in single-pass mode, when every loop has made its pass.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// Reserve before starting: a loop that returns early must not free
	// capacity for an errand past the ceiling.
	admitted := make([]*Slot, 0, min(len(p.slots), cap(p.sem)))
	for _, s := range p.slots {
		select {
		case p.sem <- struct{}{}:
			admitted = append(admitted, s)
		default:
		}
	}
	unscheduled := len(p.slots) - len(admitted)

	var wg sync.WaitGroup
	for _, s := range admitted {
		wg.Add(1)
		go func(s *Slot) {
			defer wg.Done()
			defer func() { <-p.sem }()
			p.loop(ctx, s)
		}(s)
	}

	p.log.Info().Int("workers", p.Workers()).Int("errands", len(p.slots)).Bool("once", p.once).Msg("worker pool started")
	if unscheduled > 0 {
		p.log.Warn().
			Int("workers", p.Workers()).
			Int("errands", len(p.slots)).
			Int("unscheduled", unscheduled).
			Msg("worker capacity exceeded, extra errands will not be scheduled")
	}

	if !p.once && unscheduled == len(p.slots) {
		<-ctx.Done()
	}
	wg.Wait()
	p.log.Info().Msg("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, s *Slot) {
	e := s.errand
	l := p.log.With().Str("errand", e.Name()).Str("errand_id", e.ID()).Logger()
	// first wait is taken now, not at registration
	e.RefreshNextRun()
	for {
		if e.NextRun().IsZero() {
			s.setState(StateUnscheduled)
			l.Error().Str("cron", e.Expr()).Msg("errand has no upcoming run, loop stopped")
			return
		}
		s.setState(StateWaiting)
		l.Info().Time("next_run", e.NextRun()).Dur("wait", e.Wait()).Msg("errand scheduled")
		if err := p.sleep(ctx, e.Wait()); err != nil {
			return
		}
		p.execute(ctx, s, l)
		if p.once {
			return
		}
	}
}

// execute never lets a failure escape: errors and panics are logged and the
// next run is computed regardless.
func (p *Pool) execute(ctx context.Context, s *Slot, l zerolog.Logger) {
	e := s.errand
	s.setState(StateRunning)
	l.Info().Msg("errand started")

	start := time.Now()
	err := e.Execute(ctx)
	took := time.Since(start)
	s.finish(start, err)

	if err != nil {
		ev := l.Error().Err(err).Dur("took", took)
		var ee *domain.ExecutionError
		if errors.As(err, &ee) && ee.Panic != nil {
			ev = ev.Bytes("stack", ee.Stack)
		}
		ev.Msg("errand failed")
	} else {
		l.Info().Dur("took", took).Msg("errand completed")
	}

	e.RefreshNextRun()

	if p.recorder != nil {
		run := domain.Run{
			ID:        "run_" + uuid.NewString(),
			ErrandID:  e.ID(),
			Name:      e.Name(),
			Category:  e.Category(),
			Trigger:   domain.TriggerSchedule,
			StartedAt: start,
			Duration:  took,
			Success:   err == nil,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if rerr := p.recorder.Record(ctx, run); rerr != nil {
			l.Warn().Err(rerr).Msg("record run")
		}
	}
}

// Slots returns the current status of every errand in the pool snapshot.
func (p *Pool) Slots() []SlotStatus {
	out := make([]SlotStatus, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, s.status())
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewPools creates one pool per category sized by alloc.
func NewPools(src Source, alloc Allocation, opts ...Option) []*Pool {
	pools := make([]*Pool, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		pools = append(pools, NewPool(c, src, alloc[c], opts...))
	}
	return pools
}

// RunAll runs pools concurrently and waits for all of them.
func RunAll(ctx context.Context, pools []*Pool) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}
