package registry

import (
	"context"
	"time"

	"errands/internal/dispatch"
	"errands/internal/domain"
	"errands/internal/errand"
)

// DefaultCategory is used when Register is called without Category.
const DefaultCategory = domain.Medium

// Dispatcher runs a callable outside its schedule.
type Dispatcher interface {
	DelayErrand(ctx context.Context, e *errand.Errand) *dispatch.Pending
}

type registration struct {
	category string
	opts     []errand.Option
}

// Option configures a Register call.
type Option func(*registration)

// Category selects the pool. Matching is case-insensitive.
func Category(c string) Option {
	return func(r *registration) { r.category = c }
}

// Name gives the errand an explicit name, which also becomes its identity.
func Name(name string) Option {
	return func(r *registration) { r.opts = append(r.opts, errand.WithName(name)) }
}

// Location evaluates the cron expression in loc.
func Location(loc *time.Location) Option {
	return func(r *registration) { r.opts = append(r.opts, errand.WithLocation(loc)) }
}

// Clock replaces time.Now for next-run calculation.
func Clock(now func() time.Time) Option {
	return func(r *registration) { r.opts = append(r.opts, errand.WithClock(now)) }
}

// Handle is returned by Register. Call behaves exactly like fn; Delay runs fn
// right away on its own goroutine.
type Handle struct {
	errand   *errand.Errand
	reg      *Registry
	replaced bool
}

func (h *Handle) Errand() *errand.Errand { return h.errand }

// Replaced reports whether registration overwrote an entry with the same
// identity in the same category.
func (h *Handle) Replaced() bool { return h.replaced }

func (h *Handle) Call(ctx context.Context) error { return h.errand.Call(ctx) }

// Delay uses the registry's dispatcher at call time, so handles created in
// init() pick up a dispatcher installed later in main.
func (h *Handle) Delay(ctx context.Context) *dispatch.Pending {
	return h.reg.dispatcher().DelayErrand(ctx, h.errand)
}

// SetDispatcher replaces the dispatcher used by every handle of r.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	r.disp = d
	r.mu.Unlock()
}

func (r *Registry) dispatcher() Dispatcher {
	r.mu.RLock()
	d := r.disp
	r.mu.RUnlock()
	if d != nil {
		return d
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disp == nil {
		r.disp = dispatch.New()
	}
	return r.disp
}

// Register builds an errand from fn and adds it. A rejected definition leaves
// the registry untouched.
func (r *Registry) Register(expr string, fn errand.Func, opts ...Option) (*Handle, error) {
	reg := registration{category: string(DefaultCategory)}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	e, err := errand.New(fn, reg.category, expr, reg.opts...)
	if err != nil {
		return nil, err
	}
	replaced := r.Add(e)
	return &Handle{errand: e, reg: r, replaced: replaced}, nil
}

// MustRegister is Register for init() functions; it panics on error.
func (r *Registry) MustRegister(expr string, fn errand.Func, opts ...Option) *Handle {
	h, err := r.Register(expr, fn, opts...)
	if err != nil {
		panic(err)
	}
	return h
}

// Register adds fn to the default registry.
func Register(expr string, fn errand.Func, opts ...Option) (*Handle, error) {
	return Default().Register(expr, fn, opts...)
}

// MustRegister adds fn to the default registry and panics on error.
func MustRegister(expr string, fn errand.Func, opts ...Option) *Handle {
	return Default().MustRegister(expr, fn, opts...)
}
