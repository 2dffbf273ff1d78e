package scrape

import (
	"errors"
	"testing"
	"time"
)

func TestNextFollowsTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  Status
		event Event
		want  Status
	}{
		{StatusQueued, EventDispatch, StatusRunning},
		{StatusRunning, EventPause, StatusPaused},
		{StatusPaused, EventResume, StatusRunning},
		{StatusRunning, EventFinish, StatusCompleted},
		{StatusRunning, EventFail, StatusError},
		{StatusRunning, EventRecover, StatusQueued},
		{StatusError, EventReset, StatusQueued},
		{StatusCompleted, EventReset, StatusQueued},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.event)
		if err != nil {
			t.Fatalf("Next(%s, %s) error = %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			t.Fatalf("Next(%s, %s) = %s, want %s", tc.from, tc.event, got, tc.want)
		}
	}
}

func TestNextRejectsGuardViolations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  Status
		event Event
	}{
		{StatusQueued, EventPause},
		{StatusQueued, EventResume},
		{StatusPaused, EventPause},
		{StatusPaused, EventReset},
		{StatusRunning, EventReset},
		{StatusRunning, EventResume},
		{StatusCompleted, EventDispatch},
		{StatusError, EventRecover},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Next(%s, %s) error = %v, want ErrInvalidTransition", tc.from, tc.event, err)
		}
		if got != tc.from {
			t.Fatalf("Next(%s, %s) changed status to %s", tc.from, tc.event, got)
		}
	}
}

func TestAllowedDerivesActionSet(t *testing.T) {
	t.Parallel()

	got := Allowed(StatusRunning)
	want := []Event{EventPause, EventFinish, EventFail, EventRecover}
	if len(got) != len(want) {
		t.Fatalf("Allowed(running) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allowed(running)[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if events := Allowed(Status("bogus")); events != nil {
		t.Fatalf("Allowed(bogus) = %v, want nil", events)
	}
}

func TestSourcesForReset(t *testing.T) {
	t.Parallel()

	got := Sources(EventReset)
	if len(got) != 2 || got[0] != StatusCompleted || got[1] != StatusError {
		t.Fatalf("Sources(reset) = %v", got)
	}
}

func TestProgressClamps(t *testing.T) {
	t.Parallel()

	if p := (Project{TotalUnits: 0, ProcessedUnits: 5}).Progress(); p != 0 {
		t.Fatalf("zero total progress = %d, want 0", p)
	}
	if p := (Project{TotalUnits: 200, ProcessedUnits: 50}).Progress(); p != 25 {
		t.Fatalf("progress = %d, want 25", p)
	}
	if p := (Project{TotalUnits: 10, ProcessedUnits: 25}).Progress(); p != 100 {
		t.Fatalf("overshoot progress = %d, want 100", p)
	}
}

func TestClaimTimeoutPerClass(t *testing.T) {
	t.Parallel()

	if d := ClaimTimeout(QueueOps); d != 5*time.Minute {
		t.Fatalf("ops claim timeout = %v", d)
	}
	if d := ClaimTimeout(QueueScrape); d != 24*time.Hour {
		t.Fatalf("scrape claim timeout = %v", d)
	}
	if d := ClaimTimeout(QueueScrapeHigh); d != 24*time.Hour {
		t.Fatalf("scrape_high claim timeout = %v", d)
	}
}
