package server

import (
	"testing"

	"github.com/openrelay/openrelay/internal/session"
)

func TestSubscribeReceivesBacklogAndLive(t *testing.T) {
	hub := NewHub()
	sess := session.New("alice", "task")
	hub.Register(sess)

	sess.Transcript.Append(session.RenderCall("sheets", "read_sheet", nil))

	backlog, events, ok := hub.Subscribe(sess.ID)
	if !ok {
		t.Fatal("subscribe failed for in-flight session")
	}
	if len(backlog) != 1 {
		t.Fatalf("backlog = %d, want 1", len(backlog))
	}

	sess.Transcript.Append(session.RenderResult("sheets", "read_sheet", "data"))
	select {
	case e := <-events:
		if e.Kind != session.EntryResult {
			t.Errorf("entry kind = %s", e.Kind)
		}
	default:
		t.Fatal("live entry not delivered")
	}

	hub.Finish(sess.ID)
	if _, open := <-events; open {
		t.Error("events channel should be closed after finish")
	}
}

func TestSubscribeUnknownSession(t *testing.T) {
	hub := NewHub()
	if _, _, ok := hub.Subscribe("nope"); ok {
		t.Error("subscribe should fail for unknown session")
	}
}

func TestFinishedSessionNotSubscribable(t *testing.T) {
	hub := NewHub()
	sess := session.New("alice", "task")
	hub.Register(sess)
	hub.Finish(sess.ID)

	if _, _, ok := hub.Subscribe(sess.ID); ok {
		t.Error("finished session should not be subscribable")
	}
}
