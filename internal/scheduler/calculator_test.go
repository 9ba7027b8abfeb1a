package scheduler

import (
	"errors"
	"testing"
	"time"

	"errands/internal/domain"
)

func TestNextTriggerStrictlyAfterReference(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name string
		expr string
		ref  time.Time
		want time.Time
	}{
		{
			name: "every minute mid-minute",
			expr: "* * * * *",
			ref:  time.Date(2024, 3, 1, 10, 15, 30, 0, loc),
			want: time.Date(2024, 3, 1, 10, 16, 0, 0, loc),
		},
		{
			name: "every minute exactly on boundary",
			expr: "* * * * *",
			ref:  time.Date(2024, 3, 1, 10, 15, 0, 0, loc),
			want: time.Date(2024, 3, 1, 10, 16, 0, 0, loc),
		},
		{
			name: "step expression",
			expr: "*/15 * * * *",
			ref:  time.Date(2024, 3, 1, 10, 15, 0, 0, loc),
			want: time.Date(2024, 3, 1, 10, 30, 0, 0, loc),
		},
		{
			name: "daily rolls over",
			expr: "0 2 * * *",
			ref:  time.Date(2024, 3, 1, 3, 0, 0, 0, loc),
			want: time.Date(2024, 3, 2, 2, 0, 0, 0, loc),
		},
		{
			name: "descriptor",
			expr: "@hourly",
			ref:  time.Date(2024, 3, 1, 10, 59, 59, 0, loc),
			want: time.Date(2024, 3, 1, 11, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			next, wait, err := NextTrigger(tt.expr, loc, tt.ref)
			if err != nil {
				t.Fatalf("NextTrigger(%q) error: %v", tt.expr, err)
			}
			if !next.After(tt.ref) {
				t.Fatalf("next = %v, want strictly after %v", next, tt.ref)
			}
			if !next.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", next, tt.want)
			}
			if wait != tt.want.Sub(tt.ref) {
				t.Fatalf("wait = %v, want %v", wait, tt.want.Sub(tt.ref))
			}
		})
	}
}

func TestNextTriggerUsesLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // 09:00 in Tokyo
	next, _, err := NextTrigger("0 12 * * *", loc, ref)
	if err != nil {
		t.Fatalf("NextTrigger error: %v", err)
	}
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if next.Location() != loc {
		t.Fatalf("next location = %v, want %v", next.Location(), loc)
	}
}

func TestCalculatorNextIsMonotonic(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 5, 8, 0, 0, 0, time.UTC)
	c, err := NewCalculator("*/5 * * * *", time.UTC, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}
	var prev time.Time
	for i := 0; i < 50; i++ {
		next, wait := c.Next()
		if wait < 0 {
			t.Fatalf("wait = %v, want >= 0", wait)
		}
		if !next.After(now) {
			t.Fatalf("next = %v, want after %v", next, now)
		}
		if !prev.IsZero() && !next.After(prev) {
			t.Fatalf("next = %v did not advance past %v", next, prev)
		}
		prev = next
		now = next
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := []string{"* * * * *", "*/1 * * * *", "0 0 1 1 *", "@daily", "  5 4 * * sun  ", "0 0 29 2 *"}
	for _, expr := range valid {
		if err := Validate(expr); err != nil {
			t.Fatalf("Validate(%q) error: %v", expr, err)
		}
	}
	invalid := []string{
		"",
		"invalid_cron_string",
		"* * * *",
		"0 * * * * *",
		"61 * * * *",
		"@every 10s",
		"TZ=UTC * * * * *",
		"CRON_TZ=UTC * * * * *",
		"0 0 30 2 *",
		"0 0 31 4 *",
	}
	for _, expr := range invalid {
		err := Validate(expr)
		if !errors.Is(err, domain.ErrInvalidSchedule) {
			t.Fatalf("Validate(%q) err=%v, want ErrInvalidSchedule", expr, err)
		}
		if !errors.Is(err, domain.ErrInvalidErrand) {
			t.Fatalf("Validate(%q) err=%v, want ErrInvalidErrand kind", expr, err)
		}
	}
}

func TestNeverFiringScheduleIsRejected(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"0 0 30 2 *", "0 0 31 4 *", "0 12 31 6 *"} {
		if _, err := NewCalculator(expr, time.UTC, nil); !errors.Is(err, domain.ErrInvalidSchedule) {
			t.Fatalf("NewCalculator(%q) err=%v, want ErrInvalidSchedule", expr, err)
		}
		if _, _, err := NextTrigger(expr, time.UTC, time.Now()); err == nil {
			t.Fatalf("NextTrigger(%q) accepted an expression that never fires", expr)
		}
	}
}

type neverSchedule struct{}

func (neverSchedule) Next(time.Time) time.Time { return time.Time{} }

func TestNextAfterReportsNoMatch(t *testing.T) {
	t.Parallel()
	c := &Calculator{expr: "never", sched: neverSchedule{}, loc: time.UTC, now: time.Now}
	next, wait := c.NextAfter(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if !next.IsZero() || wait != 0 {
		t.Fatalf("NextAfter = %v, %v; want zero time and zero wait", next, wait)
	}
}
