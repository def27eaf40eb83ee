package sim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/proctor/internal/agent"
	"github.com/raysh454/proctor/internal/detect"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/reporter"
	"github.com/raysh454/proctor/internal/session"
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For progress: the student's mirrored session
	SessionStatus model.Status `json:"session_status,omitempty"`
	Strikes       int          `json:"strikes,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// Job is one simulated student.
type Job struct {
	ID        string        `json:"id"`
	Scenario  string        `json:"scenario"`
	ExamID    string        `json:"exam_id"`
	StudentID string        `json:"student_id"`
	SessionID string        `json:"session_id,omitempty"`
	Status    JobStatus     `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Events    chan JobEvent `json:"-"`

	// Outcome as last mirrored from the server.
	FinalStatus model.Status `json:"final_status,omitempty"`
	Strikes     int          `json:"strikes"`
}

// Deps are shared by every simulated student.
type Deps struct {
	Transport interfaces.Transport
	// NewSubscriber returns a push subscriber per student; nil disables
	// pushes and the student relies on polling.
	NewSubscriber func() interfaces.Subscriber
	// QueueDir, when set, gives each student a SQLite offline queue.
	QueueDir string
}

type Orchestrator struct {
	cfg    agent.Config
	deps   Deps
	logger logging.Logger

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
	wg         sync.WaitGroup
}

// NewOrchestrator ties together client config, shared transport and logger.
func NewOrchestrator(cfg agent.Config, deps Deps, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(logging.Field{Key: "component", Value: "sim"}),
		jobs:       make(map[string]*Job),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) emitJobEvent(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) update(jobID string, fn func(j *Job)) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		fn(j)
	}
}

func (o *Orchestrator) setStatus(jobID string, status JobStatus, err error) {
	ev := JobEvent{JobID: jobID, Type: JobEventStatus, Status: status}
	o.update(jobID, func(j *Job) {
		j.Status = status
		if err != nil {
			j.Error = err.Error()
			ev.Error = j.Error
		}
		if status == JobDone {
			ev.Type = JobEventResult
			ev.SessionStatus = j.FinalStatus
			ev.Strikes = j.Strikes
		}
	})
	o.emitJobEvent(jobID, ev)
}

// StartStudentJob opens a session for studentID and plays sc in the
// background. The returned job's Events channel is closed when it ends.
func (o *Orchestrator) StartStudentJob(ctx context.Context, examID, studentID string, sc Scenario) (*Job, error) {
	if o.deps.Transport == nil {
		return nil, errors.New("sim: transport is required")
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Scenario:  sc.Name,
		ExamID:    examID,
		StudentID: studentID,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, 32),
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.jobsMu.Lock()
	o.jobs[jobID] = job
	o.jobCancels[jobID] = cancel
	o.jobsMu.Unlock()

	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.jobsMu.Lock()
			delete(o.jobCancels, jobID)
			j := o.jobs[jobID]
			if j != nil {
				j.EndedAt = time.Now().UTC()
			}
			o.jobsMu.Unlock()
			cancel()
			if j != nil && j.Events != nil {
				close(j.Events)
			}
		}()

		err := o.runStudent(jobCtx, jobID, examID, studentID, sc)
		switch {
		case err != nil && jobCtx.Err() != nil:
			o.setStatus(jobID, JobCanceled, jobCtx.Err())
		case err != nil:
			o.logger.Warn("simulated student failed",
				logging.Field{Key: "student", Value: studentID}, logging.Err(err))
			o.setStatus(jobID, JobFailed, err)
		default:
			o.setStatus(jobID, JobDone, nil)
		}
	}()

	return job, nil
}

func (o *Orchestrator) runStudent(ctx context.Context, jobID, examID, studentID string, sc Scenario) error {
	st, err := agent.StartSession(ctx, o.deps.Transport, examID, studentID)
	if err != nil {
		return err
	}
	o.update(jobID, func(j *Job) {
		j.SessionID = st.SessionID
		j.Status = JobRunning
	})
	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobRunning})

	cfg := o.cfg
	if o.deps.QueueDir != "" {
		cfg.QueuePath = filepath.Join(o.deps.QueueDir, st.SessionID+".db")
	}
	deps := agent.Deps{
		Transport: o.deps.Transport,
		IPSource:  detect.WhoAmI{Transport: o.deps.Transport},
	}
	if o.deps.NewSubscriber != nil {
		deps.Subscriber = o.deps.NewSubscriber()
	}
	if len(sc.Camera) > 0 {
		deps.Detector = NewScriptedCamera(sc.Camera)
	}

	a, err := agent.New(cfg, reporter.Identity{SessionID: st.SessionID, ExamID: st.ExamID}, deps, o.logger)
	if err != nil {
		return err
	}
	a.Mirror.OnChange(func(v session.View) {
		o.update(jobID, func(j *Job) {
			j.FinalStatus = v.Status
			j.Strikes = v.Strikes
		})
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventProgress, SessionStatus: v.Status, Strikes: v.Strikes})
	})
	o.update(jobID, func(j *Job) { j.FinalStatus = st.Status })

	runCtx, stop := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(runCtx) }()

	playErr := sc.Play(runCtx, a)
	settle(ctx, a.Mirror)
	stop()
	<-runErr
	closeErr := a.Close()

	if !a.Mirror.Locked() && ctx.Err() == nil {
		if err := agent.CloseSession(ctx, o.deps.Transport, st.SessionID); err != nil {
			o.logger.Warn("closing session failed", logging.Field{Key: "session", Value: st.SessionID}, logging.Err(err))
		}
	}

	v := a.Mirror.Snapshot()
	o.update(jobID, func(j *Job) {
		j.FinalStatus = v.Status
		j.Strikes = v.Strikes
	})
	o.logger.Info("simulated student finished",
		logging.Field{Key: "student", Value: studentID},
		logging.Field{Key: "session", Value: st.SessionID},
		logging.Field{Key: "status", Value: v.Status},
		logging.Field{Key: "strikes", Value: v.Strikes})

	if playErr != nil && !errors.Is(playErr, context.Canceled) {
		return fmt.Errorf("play %s: %w", sc.Name, playErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return closeErr
}

const (
	settleQuiet = 500 * time.Millisecond
	settleLimit = 10 * time.Second
)

// settle gives in-flight reports time to be answered before the student
// submits. It returns once the session locks, or after settleQuiet with no
// pending freeze, or at settleLimit.
func settle(ctx context.Context, m *session.Mirror) {
	limit := time.NewTimer(settleLimit)
	defer limit.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	start := time.Now()
	for {
		select {
		case <-m.Done():
			return
		case <-ctx.Done():
			return
		case <-limit.C:
			return
		case <-tick.C:
			if time.Since(start) >= settleQuiet && !m.Snapshot().PendingFreeze {
				return
			}
		}
	}
}

func (o *Orchestrator) CancelJob(jobID string) {
	o.jobsMu.Lock()
	cancel := o.jobCancels[jobID]
	o.jobsMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// GetJob returns a copy of the job.
func (o *Orchestrator) GetJob(jobID string) (Job, bool) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ListJobs returns copies of every job, oldest first.
func (o *Orchestrator) ListJobs() []Job {
	o.jobsMu.Lock()
	out := make([]Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, *j)
	}
	o.jobsMu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

// Wait blocks until every job has ended or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.jobsMu.Lock()
	for _, cancel := range o.jobCancels {
		cancel()
	}
	o.jobsMu.Unlock()
	return o.Wait(ctx)
}
