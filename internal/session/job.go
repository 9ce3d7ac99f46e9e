package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/timeutil"
)

// ErrUnknownJob is returned for operations naming a job id the manager has
// never issued.
var ErrUnknownJob = errors.New("unknown job")

// ErrJobFinished is returned when cancelling a job that already reached a
// terminal state.
var ErrJobFinished = errors.New("job already finished")

// JobState is the lifecycle state of a counting job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is a snapshot of one counting job's progress.
type Job struct {
	ID      string    `json:"id"`
	Context ContextID `json:"context"`
	State   JobState  `json:"state"`

	FramesTotal     int   `json:"frames_total"`
	FramesProcessed int   `json:"frames_processed"`
	FramesFailed    int   `json:"frames_failed"`
	Events          int64 `json:"events"`

	Error string `json:"error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// JobConfig tunes how one job consumes its frames.
type JobConfig struct {
	// BatchSize is the number of frames handed to the detector at once.
	BatchSize int

	// SkipFailedFrames makes a frame error count against FramesFailed and
	// continue, instead of failing the whole job.
	SkipFailedFrames bool

	// MinConfidence drops detections scoring below it before they reach
	// the tracker; zero disables the filter.
	MinConfidence float32
}

// EventSink receives every count event a job produces, in frame order.
type EventSink func(ev count.CountEvent)

type jobEntry struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Manager runs counting jobs through a bounded worker pool. Job goroutines
// acquire a pool slot before touching their context, so at most
// workerPoolSize jobs process frames at once.
type Manager struct {
	registry *Registry
	clock    timeutil.Clock
	sink     EventSink
	sem      chan struct{}

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	onFinish func(Job)
	wg       sync.WaitGroup
}

// NewManager creates a job manager over the given registry. sink may be nil.
func NewManager(registry *Registry, clock timeutil.Clock, workers int, sink EventSink) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		registry: registry,
		clock:    clock,
		sink:     sink,
		sem:      make(chan struct{}, workers),
		jobs:     make(map[string]*jobEntry),
	}
}

// SetFinishHook registers a callback invoked with each job's final
// snapshot. Set before the first Submit.
func (m *Manager) SetFinishHook(fn func(Job)) {
	m.onFinish = fn
}

// Submit enqueues a job that runs det over frames and feeds the named
// context. It returns the job id immediately; the job starts once a worker
// slot is free.
func (m *Manager) Submit(id ContextID, frames []Frame, det Detector, cfg JobConfig) (string, error) {
	if _, err := m.registry.get(id); err != nil {
		return "", err
	}
	if det == nil {
		return "", fmt.Errorf("job needs a detector")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{
		job: Job{
			ID:          fmt.Sprintf("job_%s", uuid.NewString()),
			Context:     id,
			State:       JobPending,
			FramesTotal: len(frames),
			EnqueuedAt:  m.clock.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[entry.job.ID] = entry
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, entry, frames, det, cfg)
	return entry.job.ID, nil
}

func (m *Manager) run(ctx context.Context, entry *jobEntry, frames []Frame, det Detector, cfg JobConfig) {
	defer m.wg.Done()
	defer close(entry.done)

	// Wait for a pool slot; a pending job can still be cancelled here.
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.finish(entry, JobCancelled, "")
		return
	}

	entry.mu.Lock()
	entry.job.State = JobRunning
	entry.job.StartedAt = m.clock.Now()
	entry.mu.Unlock()
	monitoring.Logf("job %s running: %d frames for %s",
		entry.job.ID, len(frames), entry.job.Context)

	for start := 0; start < len(frames); start += cfg.BatchSize {
		if ctx.Err() != nil {
			m.finish(entry, JobCancelled, "")
			return
		}

		end := start + cfg.BatchSize
		if end > len(frames) {
			end = len(frames)
		}
		batch := frames[start:end]

		dets, err := det.Detect(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(entry, JobCancelled, "")
				return
			}
			if cfg.SkipFailedFrames {
				entry.mu.Lock()
				entry.job.FramesFailed += len(batch)
				entry.mu.Unlock()
				continue
			}
			m.finish(entry, JobFailed, fmt.Sprintf("detect frames %d-%d: %v", start, end-1, err))
			return
		}
		if len(dets) != len(batch) {
			m.finish(entry, JobFailed,
				fmt.Sprintf("detector returned %d results for %d frames", len(dets), len(batch)))
			return
		}

		for i, f := range batch {
			// Cancellation is honoured at frame boundaries only, so a
			// frame's tracker and counter updates are never split.
			if ctx.Err() != nil {
				m.finish(entry, JobCancelled, "")
				return
			}

			events, err := m.registry.ProcessFrame(entry.job.Context,
				FilterDetections(dets[i], cfg.MinConfidence), f.Timestamp)
			if err != nil {
				if cfg.SkipFailedFrames {
					entry.mu.Lock()
					entry.job.FramesFailed++
					entry.mu.Unlock()
					continue
				}
				m.finish(entry, JobFailed, fmt.Sprintf("frame %d: %v", f.Index, err))
				return
			}

			if m.sink != nil {
				for _, ev := range events {
					m.sink(ev)
				}
			}

			entry.mu.Lock()
			entry.job.FramesProcessed++
			entry.job.Events += int64(len(events))
			entry.mu.Unlock()
		}
	}

	m.finish(entry, JobCompleted, "")
}

func (m *Manager) finish(entry *jobEntry, state JobState, errMsg string) {
	entry.mu.Lock()
	entry.job.State = state
	entry.job.Error = errMsg
	entry.job.FinishedAt = m.clock.Now()
	job := entry.job
	entry.mu.Unlock()

	if errMsg != "" {
		monitoring.Logf("job %s %s: %s", job.ID, state, errMsg)
	} else {
		monitoring.Logf("job %s %s: %d/%d frames, %d events",
			job.ID, state, job.FramesProcessed, job.FramesTotal, job.Events)
	}

	if m.onFinish != nil {
		m.onFinish(job)
	}
}

// Get returns a snapshot of the job with the given id.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	entry, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return entry.snapshot(), nil
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	entries := make([]*jobEntry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel requests cancellation of a pending or running job. The job stops
// at the next frame boundary; already-emitted events stand.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	entry, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	entry.mu.Lock()
	terminal := entry.job.State.Terminal()
	entry.mu.Unlock()
	if terminal {
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}

	entry.cancel()
	return nil
}

// Wait blocks until the job reaches a terminal state and returns its final
// snapshot.
func (m *Manager) Wait(id string) (Job, error) {
	m.mu.Lock()
	entry, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	<-entry.done
	return entry.snapshot(), nil
}

// Shutdown waits for all in-flight jobs to finish.
func (m *Manager) Shutdown() {
	m.wg.Wait()
}
