// Package api exposes the admin HTTP surface: errand listing, status,
// manual runs and the run journal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"errands/internal/dispatch"
	"errands/internal/domain"
	"errands/internal/errand"
	"errands/internal/worker"
)

// Errands is the read side of the registry.
type Errands interface {
	All() []*errand.Errand
	Get(c domain.Category, id string) (*errand.Errand, bool)
}

type Dispatcher interface {
	DelayErrand(ctx context.Context, e *errand.Errand) *dispatch.Pending
}

// Runs is the read side of the run journal.
type Runs interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Run, error)
	ListByErrand(ctx context.Context, errandID string, limit int) ([]domain.Run, error)
}

// recentRuns is how many journal entries the errand detail view carries.
const recentRuns = 10

type Server struct {
	r       *chi.Mux
	errands Errands
	disp    Dispatcher
	pools   []*worker.Pool
	runs    Runs
	limiter *rate.Limiter
	debug   bool
	log     zerolog.Logger
}

type Option func(*Server)

// WithPools lets the API report slot state and per-category metrics.
func WithPools(pools []*worker.Pool) Option { return func(s *Server) { s.pools = pools } }

// WithRuns enables GET /api/runs.
func WithRuns(r Runs) Option { return func(s *Server) { s.runs = r } }

// WithRunRate limits manual runs to rps per second. Zero disables the limit.
func WithRunRate(rps float64) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDebug mounts net/http/pprof under /debug/pprof.
func WithDebug(enable bool) Option { return func(s *Server) { s.debug = enable } }

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func NewServer(errands Errands, disp Dispatcher, opts ...Option) http.Handler {
	s := &Server{
		r:       chi.NewRouter(),
		errands: errands,
		disp:    disp,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.r
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Route("/api", func(r chi.Router) {
		r.Get("/errands", s.listErrands)
		r.Get("/errands/{category}/{id}", s.getErrand)
		r.Post("/errands/{category}/{id}/run", s.runErrand)
		r.Get("/runs", s.listRuns)
	})

	if s.debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type categoryGauges struct {
	registered  int
	workers     int
	unscheduled int
	runs        int64
	failures    int64
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	gauges := make(map[domain.Category]*categoryGauges, len(domain.Categories))
	for _, c := range domain.Categories {
		gauges[c] = &categoryGauges{}
	}
	for _, e := range s.errands.All() {
		gauges[e.Category()].registered++
	}
	for _, p := range s.pools {
		g := gauges[p.Category()]
		g.workers += p.Workers()
		for _, st := range p.Slots() {
			g.runs += st.Runs
			g.failures += st.Failures
			if st.State == worker.StateUnscheduled {
				g.unscheduled++
			}
		}
	}

	var b strings.Builder
	b.WriteString("errands_up 1\n")
	for _, c := range domain.Categories {
		g := gauges[c]
		fmt.Fprintf(&b, "errands_registered{category=%q} %d\n", c, g.registered)
		fmt.Fprintf(&b, "errands_workers{category=%q} %d\n", c, g.workers)
		fmt.Fprintf(&b, "errands_unscheduled{category=%q} %d\n", c, g.unscheduled)
		fmt.Fprintf(&b, "errands_runs_total{category=%q} %d\n", c, g.runs)
		fmt.Fprintf(&b, "errands_failures_total{category=%q} %d\n", c, g.failures)
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

type errandView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	Cron      string     `json:"cron"`
	Timezone  string     `json:"timezone"`
	NextRun   time.Time  `json:"next_run"`
	State     string     `json:"state,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int64      `json:"runs"`
	Failures  int64      `json:"failures"`
	Recent    []runView  `json:"recent_runs,omitempty"`
}

func (s *Server) slotIndex() map[string]worker.SlotStatus {
	idx := make(map[string]worker.SlotStatus)
	for _, p := range s.pools {
		for _, st := range p.Slots() {
			idx[string(st.Category)+"/"+st.ErrandID] = st
		}
	}
	return idx
}

func (s *Server) view(e *errand.Errand, idx map[string]worker.SlotStatus) errandView {
	v := errandView{
		ID:       e.ID(),
		Name:     e.Name(),
		Category: string(e.Category()),
		Cron:     e.Expr(),
		Timezone: e.Location().String(),
		NextRun:  e.NextRun(),
	}
	if st, ok := idx[string(e.Category())+"/"+e.ID()]; ok {
		v.State = st.State.String()
		v.LastError = st.LastError
		v.Runs = st.Runs
		v.Failures = st.Failures
		if !st.LastRun.IsZero() {
			last := st.LastRun
			v.LastRun = &last
		}
	}
	return v
}

func (s *Server) listErrands(w http.ResponseWriter, r *http.Request) {
	idx := s.slotIndex()
	all := s.errands.All()
	out := make([]errandView, 0, len(all))
	for _, e := range all {
		out = append(out, s.view(e, idx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*errand.Errand, bool) {
	c, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	e, ok := s.errands.Get(c, chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return e, true
}

func (s *Server) getErrand(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	v := s.view(e, s.slotIndex())
	if s.runs != nil {
		runs, err := s.runs.ListByErrand(r.Context(), e.ID(), recentRuns)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		v.Recent = toRunViews(runs)
	}
	writeJSON(w, http.StatusOK, v)
}

type runResp struct {
	ID string `json:"id"`
}

func (s *Server) runErrand(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many manual runs", http.StatusTooManyRequests)
		return
	}
	p := s.disp.DelayErrand(r.Context(), e)
	writeJSON(w, http.StatusAccepted, runResp{ID: p.ID()})
}

type runView struct {
	ID         string    `json:"id"`
	ErrandID   string    `json:"errand_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRecent(r.Context(), limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toRunViews(runs))
}

func toRunViews(runs []domain.Run) []runView {
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView{
			ID:         run.ID,
			ErrandID:   run.ErrandID,
			Name:       run.Name,
			Category:   string(run.Category),
			Trigger:    string(run.Trigger),
			StartedAt:  run.StartedAt,
			DurationMS: run.Duration.Milliseconds(),
			Success:    run.Success,
			Error:      run.Error,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
