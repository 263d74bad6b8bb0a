package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openrelay/openrelay/internal/config"
	"github.com/openrelay/openrelay/internal/orchestrator"
	"github.com/openrelay/openrelay/internal/session"
	"github.com/openrelay/openrelay/internal/store"
)

// fakeRunner completes sessions with a canned output after appending a
// transcript entry, or fails with err.
type fakeRunner struct {
	output   string
	err      error
	lastSess *session.Session
}

func (f *fakeRunner) Run(ctx context.Context, sess *session.Session) (*orchestrator.Result, error) {
	f.lastSess = sess
	if f.err != nil {
		sess.SetState(session.StateFailed)
		return &orchestrator.Result{State: session.StateFailed, Turns: 1}, f.err
	}
	sess.Transcript.Append(session.RenderCall("sheets", "read_sheet", nil))
	sess.Transcript.Append(session.RenderResult("sheets", "read_sheet", map[string]any{"A1": 1}))
	sess.Turns = 1
	sess.SetState(session.StateEnded)
	return &orchestrator.Result{Output: f.output, State: session.StateEnded, Turns: 1}, nil
}

func testStore(t *testing.T) *store.SessionStore {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.NewSessionStore(db)
}

func postMessage(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleMessage(t *testing.T) {
	runner := &fakeRunner{output: "The rent is due."}
	srv := New(runner, testStore(t))
	handler := srv.Handler()

	rec := postMessage(t, handler, `{"input":"read the budget","user":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Output != "The rent is due." {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.State != string(session.StateEnded) {
		t.Errorf("state = %s", resp.State)
	}
	if len(resp.CallResponses) != 2 {
		t.Errorf("call_responses = %d, want 2", len(resp.CallResponses))
	}
	if runner.lastSess.Requester != "alice" {
		t.Errorf("requester = %s", runner.lastSess.Requester)
	}
}

func TestHandleMessageMissingInput(t *testing.T) {
	srv := New(&fakeRunner{}, nil)
	rec := postMessage(t, srv.Handler(), `{"user":"alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "input") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleMessageRunnerError(t *testing.T) {
	srv := New(&fakeRunner{err: errors.New("completion failed")}, nil)
	rec := postMessage(t, srv.Handler(), `{"input":"x"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "completion failed") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleMessagePersistsSession(t *testing.T) {
	st := testStore(t)
	srv := New(&fakeRunner{output: "done"}, st)

	rec := postMessage(t, srv.Handler(), `{"input":"read the budget","user":"alice"}`)
	var resp messageResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	saved, err := st.Get(resp.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.Output != "done" || saved.Requester != "alice" {
		t.Errorf("record = %+v", saved)
	}
}

func TestHistoryPreamble(t *testing.T) {
	runner := &fakeRunner{output: "ok"}
	srv := New(runner, nil)

	body := `{"input":"and the totals?","user":"alice","conversation_history":[
		{"role":"user","content":"read the budget"},
		{"role":"assistant","content":"The rent is due."},
		{"role":"user","content":"and the totals?"}]}`
	postMessage(t, srv.Handler(), body)

	input := runner.lastSess.Input
	if !strings.HasPrefix(input, "Previous conversation:\n") {
		t.Fatalf("input = %q", input)
	}
	for _, want := range []string{"User: read the budget", "Assistant: The rent is due.", "Current request:\nand the totals?"} {
		if !strings.Contains(input, want) {
			t.Errorf("input missing %q", want)
		}
	}
	if strings.Count(input, "and the totals?") != 1 {
		t.Errorf("current request duplicated in history:\n%s", input)
	}
}

func TestHistoryPreambleSkippedForSingleMessage(t *testing.T) {
	runner := &fakeRunner{output: "ok"}
	srv := New(runner, nil)

	postMessage(t, srv.Handler(), `{"input":"hello","conversation_history":[{"role":"user","content":"hello"}]}`)
	if runner.lastSess.Input != "hello" {
		t.Errorf("input = %q", runner.lastSess.Input)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(&fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetSessionAudit(t *testing.T) {
	st := testStore(t)
	srv := New(&fakeRunner{output: "done"}, st)

	rec := postMessage(t, srv.Handler(), `{"input":"task","user":"bob"}`)
	var resp messageResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+resp.SessionID, nil)
	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("status = %d", getRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/sessions?requester=bob", nil)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(listRec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d", len(records))
	}
}

func TestEventsUnknownSession(t *testing.T) {
	srv := New(&fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/sessions/nope/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
