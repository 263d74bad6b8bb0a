// Package orchestrator drives the conversation loop: prompt the model,
// extract calls, dispatch them, and decide whether the session continues
// or terminates. The loop is an explicit iteration with a hard turn cap;
// a runaway model exhausts its budget instead of the stack.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/dispatch"
	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/metrics"
	"github.com/openrelay/openrelay/internal/provider"
	"github.com/openrelay/openrelay/internal/requester"
	"github.com/openrelay/openrelay/internal/session"
)

const DefaultMaxTurns = 20

// ErrTurnsExhausted reports a session that hit the turn cap before the
// model signalled completion.
var ErrTurnsExhausted = errors.New("turn budget exhausted")

type CompletionClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// Dispatcher executes one extracted call against the registry, appending
// the call and result entries to the transcript. The bool reports whether
// the call produced output that warrants another model turn.
type Dispatcher interface {
	Execute(ctx context.Context, call extract.Call, tr *session.Transcript) (dispatch.Result, bool)
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	MaxTurns    int
	Rules       []string
}

type Orchestrator struct {
	client      CompletionClient
	dispatcher  Dispatcher
	doc         *capability.Document
	rules       *RulesConfig
	model       string
	maxTokens   int
	temperature *float64
	maxTurns    int
	now         func() time.Time
}

func New(client CompletionClient, dispatcher Dispatcher, doc *capability.Document, opts Options) *Orchestrator {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Orchestrator{
		client:      client,
		dispatcher:  dispatcher,
		doc:         doc,
		rules:       NewRulesConfig(opts.Rules),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		maxTurns:    maxTurns,
		now:         time.Now,
	}
}

// Result is the outcome of one orchestration run. Output is the model's
// final response text; Trace records every extracted call in order,
// control signals included.
type Result struct {
	Output string
	State  session.State
	Turns  int
	Trace  []extract.Call
}

// Run executes the conversation loop for sess until the model terminates
// or the turn budget runs out. On completion error or budget exhaustion
// the session is marked failed and the partial result is returned with
// the error.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session) (*Result, error) {
	ctx = requester.WithID(ctx, sess.Requester)
	result := &Result{}

	for sess.Turns < o.maxTurns {
		sess.Turns++
		result.Turns = sess.Turns
		metrics.ModelTurns.Inc()

		resp, err := o.client.Complete(ctx, &provider.CompletionRequest{
			Model:       o.model,
			Messages:    o.buildMessages(sess),
			MaxTokens:   o.maxTokens,
			Temperature: o.temperature,
		})
		if err != nil {
			o.finish(sess, result, session.StateFailed)
			return result, fmt.Errorf("completion on turn %d: %w", sess.Turns, err)
		}
		result.Output = resp.Content

		calls := extract.Parse(resp.Content)
		shouldContinue, foundEnd := o.processCalls(ctx, sess, result, calls)

		// Continuation wins over termination: an explicit continue
		// signal or unseen capability output means the model still has
		// work to do, even if an end signal slipped into the same turn.
		switch {
		case shouldContinue:
			sess.SetState(session.StateContinuing)
		case foundEnd || len(calls) == 0:
			o.finish(sess, result, session.StateEnded)
			return result, nil
		default:
			// Calls happened but nothing signalled either way.
			// Re-prompt so the model can wrap up explicitly.
			sess.SetState(session.StateContinuing)
		}
	}

	o.finish(sess, result, session.StateFailed)
	return result, fmt.Errorf("%w after %d turns", ErrTurnsExhausted, sess.Turns)
}

// processCalls dispatches every call in the turn, in order, before any
// continuation decision is made. Control signals on the io platform are
// recorded but never dispatched.
func (o *Orchestrator) processCalls(ctx context.Context, sess *session.Session, result *Result, calls []extract.Call) (shouldContinue, foundEnd bool) {
	for _, call := range calls {
		result.Trace = append(result.Trace, call)

		if call.Platform == capability.PlatformIO {
			switch call.Function {
			case session.SignalContinue:
				shouldContinue = true
				sess.Transcript.Append(session.RenderControl(session.SignalContinue))
			case session.SignalEnd:
				foundEnd = true
				sess.Transcript.Append(session.RenderControl(session.SignalEnd))
			default:
				log.Printf("orchestrator: ignoring unknown io signal %q", call.Function)
			}
			continue
		}

		_, needsTurn := o.dispatcher.Execute(ctx, call, sess.Transcript)
		if needsTurn {
			shouldContinue = true
			sess.Transcript.Append(session.RenderControl(session.SignalContinue))
		}
	}
	return shouldContinue, foundEnd
}

func (o *Orchestrator) finish(sess *session.Session, result *Result, state session.State) {
	sess.SetState(state)
	result.State = state
	metrics.SessionsTotal.WithLabelValues(string(state)).Inc()
}
