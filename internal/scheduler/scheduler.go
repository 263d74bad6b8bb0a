// Package scheduler runs standing instructions on cron schedules. Each job
// submits its instruction as a fresh session, so a scheduled run behaves
// exactly like the same instruction arriving over HTTP.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/openrelay/openrelay/internal/config"
)

// SessionRunner executes one instruction end to end and returns the final
// output.
type SessionRunner interface {
	RunInstruction(ctx context.Context, requesterID, instruction string) (string, error)
}

// Job is one standing instruction.
type Job struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"` // cron expression
	Instruction string `yaml:"instruction"`
	Requester   string `yaml:"requester"`
	Source      string `yaml:"source,omitempty"` // "config" or "dynamic"
}

var ErrConfigProtected = fmt.Errorf("config-defined jobs cannot be removed")

type runningJob struct {
	job   Job
	entry cron.EntryID
}

// Scheduler manages cron-scheduled standing instructions. Config-defined
// jobs are fixed for the process lifetime; dynamic jobs can be added and
// removed at runtime and are persisted to dataDir.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	jobs    map[string]*runningJob
	runner  SessionRunner
	dataDir string

	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner SessionRunner, dataDir string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		jobs:    make(map[string]*runningJob),
		runner:  runner,
		dataDir: dataDir,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers config jobs and persisted dynamic jobs, then starts the
// cron runner. Invalid jobs are logged and skipped, never fatal.
func (s *Scheduler) Start(configJobs []config.JobConfig) {
	for _, jc := range configJobs {
		job := Job{
			Name:        jc.Name,
			Schedule:    jc.Schedule,
			Instruction: jc.Instruction,
			Requester:   jc.Requester,
			Source:      "config",
		}
		if err := s.add(job); err != nil {
			log.Printf("scheduler: skipping config job %q: %v", job.Name, err)
		}
	}

	dynamic, err := s.loadDynamic()
	if err != nil {
		log.Printf("scheduler: loading dynamic jobs: %v", err)
	}
	for _, job := range dynamic {
		job.Source = "dynamic"
		if err := s.add(job); err != nil {
			log.Printf("scheduler: skipping dynamic job %q: %v", job.Name, err)
		}
	}

	s.cron.Start()
}

// Stop halts the cron runner and cancels in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}

// AddJob registers a dynamic job at runtime and persists it.
func (s *Scheduler) AddJob(job Job) error {
	job.Source = "dynamic"
	if err := s.add(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// RemoveJob unschedules a dynamic job. Config-defined jobs are protected.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if rj.job.Source == "config" {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.cron.Remove(rj.entry)
	delete(s.jobs, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

// ListJobs returns all registered jobs.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, rj := range s.jobs {
		out = append(out, rj.job)
	}
	return out
}

func (s *Scheduler) add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Instruction == "" {
		return fmt.Errorf("job %q has no instruction", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}

	j := job
	entry, err := s.cron.AddFunc(job.Schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule for job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = &runningJob{job: job, entry: entry}
	return nil
}

func (s *Scheduler) execute(job Job) {
	output, err := s.runner.RunInstruction(s.ctx, job.Requester, job.Instruction)
	if err != nil {
		log.Printf("scheduler: job %q: %v", job.Name, err)
		return
	}
	log.Printf("scheduler: job %q completed: %s", job.Name, firstLine(output))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	s.mu.RLock()
	var dynamic []Job
	for _, rj := range s.jobs {
		if rj.job.Source == "dynamic" {
			dynamic = append(dynamic, rj.job)
		}
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.persistPath()), 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}
	data, err := yaml.Marshal(dynamic)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}
	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Job, error) {
	if s.dataDir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}
