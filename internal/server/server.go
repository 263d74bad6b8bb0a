// Package server exposes the HTTP surface: instruction submission, audit
// queries, health, metrics, and a live transcript event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/metrics"
	"github.com/openrelay/openrelay/internal/orchestrator"
	"github.com/openrelay/openrelay/internal/session"
	"github.com/openrelay/openrelay/internal/store"
)

// Runner executes one session to completion.
type Runner interface {
	Run(ctx context.Context, sess *session.Session) (*orchestrator.Result, error)
}

type Server struct {
	runner Runner
	hub    *Hub
	store  *store.SessionStore // nil disables audit endpoints
}

func New(runner Runner, st *store.SessionStore) *Server {
	return &Server{
		runner: runner,
		hub:    NewHub(),
		store:  st,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	return mux
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageRequest struct {
	Input               string           `json:"input"`
	User                string           `json:"user"`
	ConversationHistory []historyMessage `json:"conversation_history"`
}

type messageResponse struct {
	SessionID     string   `json:"session_id"`
	Output        string   `json:"output"`
	State         string   `json:"state"`
	Turns         int      `json:"turns"`
	CallResponses []string `json:"call_responses"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing 'input' in JSON body"))
		return
	}
	if req.User == "" {
		req.User = "default"
	}

	input := withHistoryPreamble(req.Input, req.ConversationHistory)

	sess := session.New(req.User, input)
	s.hub.Register(sess)
	result, err := s.runner.Run(r.Context(), sess)
	s.hub.Finish(sess.ID)

	if s.store != nil {
		var output string
		var trace []extract.Call
		if result != nil {
			output = result.Output
			trace = result.Trace
		}
		if saveErr := s.store.Save(sess, output, trace); saveErr != nil {
			log.Printf("server: saving session %s: %v", sess.ID, saveErr)
		}
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	entries := sess.Transcript.Entries()
	callResponses := make([]string, len(entries))
	for i, e := range entries {
		callResponses[i] = e.Content
	}

	writeJSON(w, http.StatusOK, messageResponse{
		SessionID:     sess.ID,
		Output:        result.Output,
		State:         string(result.State),
		Turns:         result.Turns,
		CallResponses: callResponses,
	})
}

// withHistoryPreamble prepends prior conversation turns to the input, the
// last history entry being the current request itself.
func withHistoryPreamble(input string, history []historyMessage) string {
	if len(history) <= 1 {
		return input
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, msg := range history[:len(history)-1] {
		role := "Assistant"
		if msg.Role == "user" {
			role = "User"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCurrent request:\n")
	sb.WriteString(input)
	return sb.String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("audit store disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.ListRecent(r.URL.Query().Get("requester"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("audit store disabled"))
		return
	}
	rec, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
