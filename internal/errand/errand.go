// Package errand defines the schedulable unit: a callable bound to a category,
// a cron expression and a timezone, plus its mutable next-run state.
package errand

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"errands/internal/domain"
	"errands/internal/scheduler"
)

// Func is the unit of work. The error is the only result the engine looks at.
type Func func(ctx context.Context) error

type Errand struct {
	id       string
	name     string
	category domain.Category
	fn       Func
	calc     *scheduler.Calculator

	mu      sync.Mutex
	nextRun time.Time
	wait    time.Duration
}

type options struct {
	name string
	loc  *time.Location
	now  func() time.Time
}

// Option customizes an Errand at construction.
type Option func(*options)

// WithName sets an explicit name. Named errands derive their identity from
// the name instead of the function.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLocation sets the timezone used to evaluate the cron expression.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithClock replaces time.Now for next-run calculation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates the definition and computes the first next run.
func New(fn Func, category, expr string, opts ...Option) (*Errand, error) {
	if fn == nil {
		return nil, domain.ErrNilFunc
	}
	cat, err := domain.ParseCategory(category)
	if err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	calc, err := scheduler.NewCalculator(expr, o.loc, o.now)
	if err != nil {
		return nil, err
	}

	e := &Errand{category: cat, fn: fn, calc: calc}
	if o.name != "" {
		e.name = o.name
		e.id = IdentityForName(o.name)
	} else {
		e.name = FuncName(fn)
		e.id = IdentityForFunc(fn)
	}
	e.RefreshNextRun()
	return e, nil
}

// RefreshNextRun recomputes the next run from the current instant. Overruns
// are not caught up: the next slot is simply the first one after now.
func (e *Errand) RefreshNextRun() (time.Time, time.Duration) {
	next, wait := e.calc.Next()
	e.mu.Lock()
	e.nextRun, e.wait = next, wait
	e.mu.Unlock()
	return next, wait
}

func (e *Errand) NextRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextRun
}

func (e *Errand) Wait() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wait
}

func (e *Errand) ID() string                { return e.id }
func (e *Errand) Name() string              { return e.name }
func (e *Errand) Category() domain.Category { return e.category }
func (e *Errand) Expr() string              { return e.calc.Expr() }
func (e *Errand) Location() *time.Location  { return e.calc.Location() }
func (e *Errand) Func() Func                { return e.fn }

// Call invokes the callable exactly as a direct call would.
func (e *Errand) Call(ctx context.Context) error { return e.fn(ctx) }

// Execute invokes the callable and converts errors and panics into
// *domain.ExecutionError.
func (e *Errand) Execute(ctx context.Context) error {
	return Safe(ctx, e.name, e.category, e.fn)
}

func (e *Errand) String() string {
	return fmt.Sprintf("errand %s [%s] cron=%q tz=%s next_run=%s",
		e.name, e.category, e.Expr(), e.Location(), e.NextRun().Format(time.RFC3339))
}

// Safe runs fn and never panics. A failure comes back as *domain.ExecutionError.
func Safe(ctx context.Context, name string, category domain.Category, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.ExecutionError{Errand: name, Category: category, Panic: p, Stack: debug.Stack()}
		}
	}()
	if ferr := fn(ctx); ferr != nil {
		return &domain.ExecutionError{Errand: name, Category: category, Err: ferr}
	}
	return nil
}

// FuncName returns the symbol name of fn, e.g. "example.com/pkg.cleanup".
func FuncName(fn Func) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "unknown"
}
