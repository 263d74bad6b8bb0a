package server

import (
	"sync"

	"github.com/openrelay/openrelay/internal/session"
)

// Hub tracks in-flight sessions and fans their transcript entries out to
// event stream subscribers. Registration attaches the observer before the
// loop starts, so subscribers never miss entries: Subscribe returns the
// backlog and the live channel atomically.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	log  []session.Entry
	subs []chan session.Entry
	done bool
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*liveSession)}
}

// Register starts tracking a session. Must be called before the session
// runs.
func (h *Hub) Register(sess *session.Session) {
	ls := &liveSession{}
	h.mu.Lock()
	h.sessions[sess.ID] = ls
	h.mu.Unlock()

	sess.Transcript.Observe(func(e session.Entry) {
		h.mu.Lock()
		defer h.mu.Unlock()
		ls.log = append(ls.log, e)
		for _, sub := range ls.subs {
			// A slow subscriber drops entries rather than stalling the
			// orchestrator.
			select {
			case sub <- e:
			default:
			}
		}
	})
}

// Finish closes all subscriber channels and stops tracking the session.
func (h *Hub) Finish(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.sessions[id]
	if !ok {
		return
	}
	ls.done = true
	for _, sub := range ls.subs {
		close(sub)
	}
	ls.subs = nil
	delete(h.sessions, id)
}

// Subscribe returns the entries seen so far and a channel of subsequent
// entries. The channel is closed when the session finishes. ok is false
// when the session is not in flight.
func (h *Hub) Subscribe(id string) (backlog []session.Entry, events <-chan session.Entry, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, found := h.sessions[id]
	if !found {
		return nil, nil, false
	}

	backlog = make([]session.Entry, len(ls.log))
	copy(backlog, ls.log)

	ch := make(chan session.Entry, 64)
	ls.subs = append(ls.subs, ch)
	return backlog, ch, true
}
