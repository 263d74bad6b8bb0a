// Package session holds the per-run aggregate: the original instruction,
// the ordered transcript of calls and results, and the loop state. One
// session is owned by a single orchestrator run; sessions share nothing
// with each other.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the loop state of a session. Ended and Failed are terminal.
type State string

const (
	StateRunning    State = "running"
	StateContinuing State = "continuing"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// EntryKind classifies a transcript entry.
type EntryKind string

const (
	EntryCall    EntryKind = "call"    // replay of a call as sent
	EntryResult  EntryKind = "result"  // rendered execution result
	EntryControl EntryKind = "control" // continuation/termination marker
)

// Entry is one rendered unit of conversation history. Content is replayed
// verbatim into subsequent prompts; insertion order is significant.
type Entry struct {
	Kind    EntryKind `json:"kind"`
	Signal  string    `json:"signal,omitempty"` // control entries: "continue" or "end"
	Content string    `json:"content"`
}

// Transcript is the append-only call/result history. Appends come from the
// single orchestrator goroutine; reads may come from observers (e.g. a
// live event stream), hence the lock.
type Transcript struct {
	mu        sync.Mutex
	entries   []Entry
	observers []func(Entry)
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Observe registers a callback invoked synchronously on every append.
// Register before the session starts; there is no deregistration.
func (t *Transcript) Observe(fn func(Entry)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	observers := t.observers
	t.mu.Unlock()

	for _, fn := range observers {
		fn(e)
	}
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of all entries in insertion order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Replay returns the entries to feed back into the next prompt:
// everything in insertion order except continuation markers, which only
// steer the model and carry no information on replay.
func (t *Transcript) Replay() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Kind == EntryControl && e.Signal == SignalContinue {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Session is one end-to-end orchestration run.
type Session struct {
	ID         string
	Requester  string
	Input      string // original instruction; never changes across turns
	Transcript *Transcript
	Turns      int
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func New(requester, input string) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Requester:  requester,
		Input:      input,
		Transcript: NewTranscript(),
		State:      StateRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetState updates the loop state and the update timestamp.
func (s *Session) SetState(state State) {
	s.State = state
	s.UpdatedAt = time.Now()
}
