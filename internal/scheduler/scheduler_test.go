package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openrelay/openrelay/internal/config"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingRunner) RunInstruction(ctx context.Context, requesterID, instruction string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, requesterID+":"+instruction)
	return "done", nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestStartRegistersConfigJobs(t *testing.T) {
	s := New(&recordingRunner{}, "")
	s.Start([]config.JobConfig{
		{Name: "daily-summary", Schedule: "0 9 * * *", Instruction: "summarize the budget", Requester: "alice"},
		{Name: "bad-schedule", Schedule: "not a cron expr", Instruction: "x", Requester: "alice"},
	})
	defer s.Stop()

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 (invalid schedule skipped)", len(jobs))
	}
	if jobs[0].Name != "daily-summary" || jobs[0].Source != "config" {
		t.Errorf("job = %+v", jobs[0])
	}
}

func TestJobExecutesOnSchedule(t *testing.T) {
	runner := &recordingRunner{}
	s := New(runner, "")
	s.Start(nil)
	defer s.Stop()

	// @every fires on a fixed interval, which keeps the test fast.
	if err := s.AddJob(Job{Name: "tick", Schedule: "@every 10ms", Instruction: "ping", Requester: "alice"}); err != nil {
		t.Fatalf("adding job: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.runs[0] != "alice:ping" {
		t.Errorf("run = %s", runner.runs[0])
	}
}

func TestRemoveJobProtectsConfigJobs(t *testing.T) {
	s := New(&recordingRunner{}, "")
	s.Start([]config.JobConfig{
		{Name: "fixed", Schedule: "@daily", Instruction: "x", Requester: "alice"},
	})
	defer s.Stop()

	if err := s.RemoveJob("fixed"); err != ErrConfigProtected {
		t.Errorf("err = %v, want ErrConfigProtected", err)
	}
	if err := s.RemoveJob("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestDuplicateJobName(t *testing.T) {
	s := New(&recordingRunner{}, "")
	s.Start(nil)
	defer s.Stop()

	if err := s.AddJob(Job{Name: "once", Schedule: "@daily", Instruction: "x"}); err != nil {
		t.Fatalf("adding job: %v", err)
	}
	if err := s.AddJob(Job{Name: "once", Schedule: "@daily", Instruction: "y"}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestDynamicJobsPersistAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	s := New(&recordingRunner{}, dataDir)
	s.Start(nil)
	if err := s.AddJob(Job{Name: "weekly", Schedule: "@weekly", Instruction: "report", Requester: "bob"}); err != nil {
		t.Fatalf("adding job: %v", err)
	}
	s.Stop()

	if _, err := os.Stat(filepath.Join(dataDir, "scheduler", "jobs.yaml")); err != nil {
		t.Fatalf("jobs file not written: %v", err)
	}

	s2 := New(&recordingRunner{}, dataDir)
	s2.Start(nil)
	defer s2.Stop()

	jobs := s2.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "weekly" {
		t.Errorf("jobs after restart = %+v", jobs)
	}
}

func TestRemoveDynamicJob(t *testing.T) {
	s := New(&recordingRunner{}, t.TempDir())
	s.Start(nil)
	defer s.Stop()

	if err := s.AddJob(Job{Name: "temp", Schedule: "@hourly", Instruction: "x"}); err != nil {
		t.Fatalf("adding job: %v", err)
	}
	if err := s.RemoveJob("temp"); err != nil {
		t.Fatalf("removing job: %v", err)
	}
	if len(s.ListJobs()) != 0 {
		t.Errorf("jobs = %+v", s.ListJobs())
	}
}
