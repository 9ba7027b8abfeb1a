package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"errands/internal/domain"
)

// Calculator computes trigger times for one pre-validated cron expression.
type Calculator struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
	now   func() time.Time
}

// NewCalculator parses expr once. A nil loc means time.Local and a nil now means time.Now.
func NewCalculator(expr string, loc *time.Location, now func() time.Time) (*Calculator, error) {
	sched, err := parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{expr: expr, sched: sched, loc: loc, now: now}, nil
}

func (c *Calculator) Expr() string             { return c.expr }
func (c *Calculator) Location() *time.Location { return c.loc }

// Next returns the next trigger after the current instant. The clock is read
// on every call so repeated calls never drift.
func (c *Calculator) Next() (time.Time, time.Duration) {
	return c.NextAfter(c.now())
}

// NextAfter returns the earliest matching instant strictly after ref and the
// non-negative wait from ref until then. A zero time means the expression has
// no match within the cron library's search horizon; callers must not run on it.
func (c *Calculator) NextAfter(ref time.Time) (time.Time, time.Duration) {
	ref = ref.In(c.loc)
	next := c.sched.Next(ref)
	if next.IsZero() {
		return next, 0
	}
	wait := next.Sub(ref)
	if wait < 0 {
		wait = 0
	}
	return next, wait
}

// Validate reports whether expr is a usable 5-field cron expression.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// NextTrigger is the one-shot form of Calculator.NextAfter.
func NextTrigger(expr string, loc *time.Location, ref time.Time) (time.Time, time.Duration, error) {
	c, err := NewCalculator(expr, loc, nil)
	if err != nil {
		return time.Time{}, 0, err
	}
	next, wait := c.NextAfter(ref)
	return next, wait, nil
}

func parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty expression", domain.ErrInvalidSchedule)
	}
	// Timezone comes from the errand and sub-minute intervals break minute resolution.
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "tz=") || strings.HasPrefix(low, "cron_tz=") {
		return nil, fmt.Errorf("%w: %q: timezone prefixes are not supported", domain.ErrInvalidSchedule, expr)
	}
	if strings.HasPrefix(low, "@every") {
		return nil, fmt.Errorf("%w: %q: @every is not supported", domain.ErrInvalidSchedule, expr)
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, expr, err)
	}
	// e.g. "0 0 30 2 *" parses but never fires
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("%w: %q: never fires", domain.ErrInvalidSchedule, expr)
	}
	return sched, nil
}
