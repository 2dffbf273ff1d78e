package scrape

// Event names a requested status transition.
type Event string

// Lifecycle events accepted by Registry.Transition.
const (
	EventDispatch Event = "dispatch" // queued  -> running
	EventPause    Event = "pause"    // running -> paused
	EventResume   Event = "resume"   // paused  -> running
	EventFinish   Event = "finish"   // running -> completed
	EventFail     Event = "fail"     // running -> error
	EventRecover  Event = "recover"  // running -> queued (sweeper)
	EventReset    Event = "reset"    // completed|error -> queued
)

// transitions is the authoritative table. Every consumer derives allowed
// actions from it; nothing re-derives the machine from status flags.
var transitions = map[Status]map[Event]Status{
	StatusQueued: {
		EventDispatch: StatusRunning,
	},
	StatusRunning: {
		EventPause:   StatusPaused,
		EventFinish:  StatusCompleted,
		EventFail:    StatusError,
		EventRecover: StatusQueued,
	},
	StatusPaused: {
		EventResume: StatusRunning,
	},
	StatusCompleted: {
		EventReset: StatusQueued,
	},
	StatusError: {
		EventReset: StatusQueued,
	},
}

// Next returns the target status for applying event in from, or
// ErrInvalidTransition when the guard rejects it.
func Next(from Status, event Event) (Status, error) {
	to, ok := transitions[from][event]
	if !ok {
		return from, ErrInvalidTransition
	}
	return to, nil
}

// Allowed returns the events valid from the given status, in table order of
// the event constants above.
func Allowed(from Status) []Event {
	row := transitions[from]
	if len(row) == 0 {
		return nil
	}
	out := make([]Event, 0, len(row))
	for _, evt := range []Event{EventDispatch, EventPause, EventResume, EventFinish, EventFail, EventRecover, EventReset} {
		if _, ok := row[evt]; ok {
			out = append(out, evt)
		}
	}
	return out
}

// Sources returns every status from which event is valid. The Postgres
// registry folds these into the conditional UPDATE guard.
func Sources(event Event) []Status {
	var out []Status
	for _, from := range []Status{StatusQueued, StatusRunning, StatusPaused, StatusCompleted, StatusError} {
		if _, ok := transitions[from][event]; ok {
			out = append(out, from)
		}
	}
	return out
}

// Terminal reports whether the status accepts no events other than reset.
func Terminal(status Status) bool {
	return status == StatusCompleted || status == StatusError
}
