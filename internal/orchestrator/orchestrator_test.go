package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/dispatch"
	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/provider"
	"github.com/openrelay/openrelay/internal/session"
)

// scriptedClient replays canned responses in order, sticking on the last
// one when the script runs out.
type scriptedClient struct {
	responses []string
	requests  []*provider.CompletionRequest
	err       error
}

func (c *scriptedClient) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	i := len(c.requests) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return &provider.CompletionResponse{Content: c.responses[i]}, nil
}

// fakeDispatcher records executed calls and appends the standard pair of
// transcript entries without touching a registry.
type fakeDispatcher struct {
	executed  []extract.Call
	needsTurn func(extract.Call) bool
}

func (d *fakeDispatcher) Execute(ctx context.Context, call extract.Call, tr *session.Transcript) (dispatch.Result, bool) {
	d.executed = append(d.executed, call)
	tr.Append(session.RenderCall(call.Platform, call.Function, nil))
	tr.Append(session.RenderResult(call.Platform, call.Function, "ok"))
	return dispatch.Result{CallID: call.ID, Platform: call.Platform, Function: call.Function, Payload: "ok"},
		d.needsTurn != nil && d.needsTurn(call)
}

func testDoc(t *testing.T) *capability.Document {
	t.Helper()
	doc, err := capability.ParseDocument([]byte(`
platforms:
  - name: sheets
    functions:
      - name: read_sheet
        produces_output: true
      - name: write_cells
`))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func callXML(platform, function string) string {
	return "<function_call>\n  <platform>" + platform + "</platform>\n  <function>" + function + "</function>\n  <parameters></parameters>\n</function_call>"
}

func newTestOrchestrator(t *testing.T, client CompletionClient, d Dispatcher, opts Options) *Orchestrator {
	t.Helper()
	return New(client, d, testDoc(t), opts)
}

func TestRunPlainResponseEndsInOneTurn(t *testing.T) {
	client := &scriptedClient{responses: []string{"The budget sheet has 3 rows."}}
	o := newTestOrchestrator(t, client, &fakeDispatcher{}, Options{})
	sess := session.New("alice", "summarize the budget")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != session.StateEnded {
		t.Errorf("state = %s", result.State)
	}
	if result.Turns != 1 {
		t.Errorf("turns = %d, want 1", result.Turns)
	}
	if result.Output != "The budget sheet has 3 rows." {
		t.Errorf("output = %q", result.Output)
	}
	if len(result.Trace) != 0 {
		t.Errorf("trace = %v", result.Trace)
	}
}

func TestRunExplicitEndSignal(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"All done.\n" + callXML("io", "end"),
	}}
	o := newTestOrchestrator(t, client, &fakeDispatcher{}, Options{})
	sess := session.New("alice", "do nothing")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != session.StateEnded {
		t.Errorf("state = %s", result.State)
	}
	if result.Turns != 1 {
		t.Errorf("turns = %d, want 1", result.Turns)
	}
	if len(result.Trace) != 1 || result.Trace[0].Target() != "io.end" {
		t.Errorf("trace = %v", result.Trace)
	}
}

func TestRunOutputProducingCallForcesExtraTurn(t *testing.T) {
	client := &scriptedClient{responses: []string{
		callXML("sheets", "read_sheet"),
		"Column A sums to 40.\n" + callXML("io", "end"),
	}}
	d := &fakeDispatcher{needsTurn: func(c extract.Call) bool { return c.Function == "read_sheet" }}
	o := newTestOrchestrator(t, client, d, Options{})
	sess := session.New("alice", "sum column A")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Turns != 2 {
		t.Errorf("turns = %d, want 2", result.Turns)
	}
	if len(d.executed) != 1 {
		t.Fatalf("dispatched %d calls, want 1", len(d.executed))
	}
	if !strings.Contains(result.Output, "sums to 40") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestRunExplicitContinueWinsOverEnd(t *testing.T) {
	client := &scriptedClient{responses: []string{
		callXML("io", "continue") + "\n" + callXML("io", "end"),
		"Done.",
	}}
	o := newTestOrchestrator(t, client, &fakeDispatcher{}, Options{})
	sess := session.New("alice", "conflicting signals")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Turns != 2 {
		t.Errorf("turns = %d, want 2 (continue must win over end)", result.Turns)
	}
}

func TestRunAmbiguousTurnContinues(t *testing.T) {
	// A dispatched call with no output and no io signal: neither continue
	// nor end, so the loop re-prompts.
	client := &scriptedClient{responses: []string{
		callXML("sheets", "write_cells"),
		"Cells written.",
	}}
	d := &fakeDispatcher{}
	o := newTestOrchestrator(t, client, d, Options{})
	sess := session.New("alice", "write the cells")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Turns != 2 {
		t.Errorf("turns = %d, want 2", result.Turns)
	}
	if result.State != session.StateEnded {
		t.Errorf("state = %s", result.State)
	}
}

func TestRunControlSignalsNeverDispatched(t *testing.T) {
	client := &scriptedClient{responses: []string{
		callXML("io", "continue"),
		callXML("io", "end"),
	}}
	d := &fakeDispatcher{}
	o := newTestOrchestrator(t, client, d, Options{})
	sess := session.New("alice", "signals only")

	result, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.executed) != 0 {
		t.Errorf("io signals were dispatched: %v", d.executed)
	}
	if len(result.Trace) != 2 {
		t.Errorf("trace = %v, want both signals recorded", result.Trace)
	}

	entries := sess.Transcript.Entries()
	if len(entries) != 2 {
		t.Fatalf("transcript entries = %d, want 2 control markers", len(entries))
	}
	for _, e := range entries {
		if e.Kind != session.EntryControl {
			t.Errorf("entry kind = %s", e.Kind)
		}
	}
}

func TestRunSyntheticContinueAfterOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{
		callXML("sheets", "read_sheet"),
		"Done.",
	}}
	d := &fakeDispatcher{needsTurn: func(extract.Call) bool { return true }}
	o := newTestOrchestrator(t, client, d, Options{})
	sess := session.New("alice", "read it")

	if _, err := o.Run(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// call + result + synthetic continue marker
	entries := sess.Transcript.Entries()
	if len(entries) != 3 {
		t.Fatalf("transcript entries = %d, want 3", len(entries))
	}
	last := entries[2]
	if last.Kind != session.EntryControl || last.Signal != session.SignalContinue {
		t.Errorf("last entry = %+v, want continue marker", last)
	}
}

func TestRunTurnBudgetExhausted(t *testing.T) {
	client := &scriptedClient{responses: []string{callXML("io", "continue")}}
	o := newTestOrchestrator(t, client, &fakeDispatcher{}, Options{MaxTurns: 3})
	sess := session.New("alice", "loop forever")

	result, err := o.Run(context.Background(), sess)
	if !errors.Is(err, ErrTurnsExhausted) {
		t.Fatalf("err = %v, want ErrTurnsExhausted", err)
	}
	if result.State != session.StateFailed {
		t.Errorf("state = %s", result.State)
	}
	if result.Turns != 3 {
		t.Errorf("turns = %d, want 3", result.Turns)
	}
	if sess.State != session.StateFailed {
		t.Errorf("session state = %s", sess.State)
	}
}

func TestRunCompletionErrorFailsSession(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream 500")}
	o := newTestOrchestrator(t, client, &fakeDispatcher{}, Options{})
	sess := session.New("alice", "anything")

	result, err := o.Run(context.Background(), sess)
	if err == nil || !strings.Contains(err.Error(), "upstream 500") {
		t.Fatalf("err = %v", err)
	}
	if result.State != session.StateFailed {
		t.Errorf("state = %s", result.State)
	}
}

func TestRunReplayExcludesContinueMarkers(t *testing.T) {
	client := &scriptedClient{responses: []string{
		callXML("sheets", "read_sheet") + "\n" + callXML("io", "continue"),
		"Summary.",
	}}
	d := &fakeDispatcher{}
	o := newTestOrchestrator(t, client, d, Options{})
	sess := session.New("alice", "read and summarize")

	if _, err := o.Run(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second request replays call + result but not the continue marker.
	if len(client.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(client.requests))
	}
	second := client.requests[1]
	for _, m := range second.Messages {
		if m.Role == provider.RoleAssistant && strings.Contains(m.Content, "<function>continue</function>") {
			t.Errorf("continue marker leaked into replay: %s", m.Content)
		}
	}
	// system + user + call + result
	if len(second.Messages) != 4 {
		t.Errorf("second request has %d messages, want 4", len(second.Messages))
	}
}
