package errand

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"errands/internal/domain"
)

func noop(context.Context) error { return nil }

func other(context.Context) error { return nil }

func TestNewValidatesCategory(t *testing.T) {
	t.Parallel()
	for _, c := range []string{"SHORT", "medium", " Long "} {
		e, err := New(noop, c, "* * * * *")
		if err != nil {
			t.Fatalf("New(category=%q) error: %v", c, err)
		}
		want := domain.Category(strings.ToUpper(strings.TrimSpace(c)))
		if e.Category() != want {
			t.Fatalf("Category = %s, want %s", e.Category(), want)
		}
	}
	for _, c := range []string{"", "INVALID", "UNKNOWN", "SHORTER"} {
		_, err := New(noop, c, "* * * * *")
		if !errors.Is(err, domain.ErrUnknownCategory) {
			t.Fatalf("New(category=%q) err=%v, want ErrUnknownCategory", c, err)
		}
		if !errors.Is(err, domain.ErrInvalidErrand) {
			t.Fatalf("New(category=%q) err=%v, want ErrInvalidErrand kind", c, err)
		}
	}
}

func TestNewValidatesSchedule(t *testing.T) {
	t.Parallel()
	if _, err := New(noop, "SHORT", "* * * * *"); err != nil {
		t.Fatalf("New with minimal cron error: %v", err)
	}
	_, err := New(noop, "SHORT", "invalid_cron_string")
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("New err=%v, want ErrInvalidSchedule", err)
	}
}

func TestNewRejectsNilFunc(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, "SHORT", "* * * * *"); !errors.Is(err, domain.ErrNilFunc) {
		t.Fatalf("New(nil) err=%v, want ErrNilFunc", err)
	}
}

func TestNewComputesFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	e, err := New(noop, "MEDIUM", "*/1 * * * *", WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if want := time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC); !e.NextRun().Equal(want) {
		t.Fatalf("NextRun = %v, want %v", e.NextRun(), want)
	}
	if e.Wait() != 30*time.Second {
		t.Fatalf("Wait = %v, want 30s", e.Wait())
	}
}

func TestRefreshNextRunReadsClock(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e, err := New(noop, "LONG", "* * * * *", WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	first := e.NextRun()

	// Same instant: recomputing is side-effect free.
	if next, _ := e.RefreshNextRun(); !next.Equal(first) {
		t.Fatalf("RefreshNextRun = %v, want %v", next, first)
	}

	// An overrun of several minutes runs late instead of catching up.
	now = now.Add(5*time.Minute + 10*time.Second)
	next, wait := e.RefreshNextRun()
	if want := time.Date(2024, 6, 1, 12, 6, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("NextRun after overrun = %v, want %v", next, want)
	}
	if wait != 50*time.Second {
		t.Fatalf("Wait after overrun = %v, want 50s", wait)
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	a1, _ := New(noop, "SHORT", "* * * * *")
	a2, _ := New(noop, "SHORT", "*/5 * * * *")
	b, _ := New(other, "SHORT", "* * * * *")
	if a1.ID() != a2.ID() {
		t.Fatalf("same func produced different ids: %s vs %s", a1.ID(), a2.ID())
	}
	if a1.ID() == b.ID() {
		t.Fatal("different funcs produced the same id")
	}
	if len(a1.ID()) != 64 {
		t.Fatalf("id length = %d, want 64 hex chars", len(a1.ID()))
	}

	n1, _ := New(noop, "SHORT", "* * * * *", WithName("cleanup"))
	n2, _ := New(other, "SHORT", "* * * * *", WithName("cleanup"))
	if n1.ID() != n2.ID() {
		t.Fatal("same name produced different ids")
	}
	if n1.ID() == a1.ID() {
		t.Fatal("named errand shares id with unnamed one")
	}
	if n1.Name() != "cleanup" {
		t.Fatalf("Name = %q, want cleanup", n1.Name())
	}
	if !strings.HasSuffix(a1.Name(), ".noop") {
		t.Fatalf("Name = %q, want symbol ending in .noop", a1.Name())
	}
}

func TestCallReturnsRawError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	e, _ := New(func(context.Context) error { return boom }, "SHORT", "* * * * *")
	if err := e.Call(context.Background()); err != boom {
		t.Fatalf("Call err=%v, want raw boom", err)
	}
}

func TestExecuteWrapsFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	failing, _ := New(func(context.Context) error { return boom }, "SHORT", "* * * * *", WithName("failing"))
	err := failing.Execute(context.Background())
	var ee *domain.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("Execute err=%T, want *domain.ExecutionError", err)
	}
	if !errors.Is(err, boom) || ee.Errand != "failing" || ee.Category != domain.Short {
		t.Fatalf("unexpected execution error: %+v", ee)
	}

	panicking, _ := New(func(context.Context) error { panic("kaboom") }, "LONG", "* * * * *")
	err = panicking.Execute(context.Background())
	if !errors.As(err, &ee) {
		t.Fatalf("Execute err=%T, want *domain.ExecutionError", err)
	}
	if ee.Panic != "kaboom" || len(ee.Stack) == 0 {
		t.Fatalf("panic not captured: %+v", ee)
	}

	ok, _ := New(noop, "LONG", "* * * * *")
	if err := ok.Execute(context.Background()); err != nil {
		t.Fatalf("Execute err=%v, want nil", err)
	}
}

func TestString(t *testing.T) {
	t.Parallel()
	e, _ := New(noop, "SHORT", "* * * * *", WithName("report"), WithLocation(time.UTC))
	s := e.String()
	for _, want := range []string{"report", "SHORT", `cron="* * * * *"`, "tz=UTC", "next_run="} {
		if !strings.Contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}
