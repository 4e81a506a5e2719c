// Package orchestrator schedules the background scan jobs. A daily fan-out
// job enumerates users with outstanding SENT requests and launches one
// per-user response scan each. Both job types retry on a fixed schedule and
// record a terminal failure instead of raising when the schedule is
// exhausted.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/model"
	"optout-sentry-go/internal/scanner"
)

// Retry schedules. A job runs once, then once per entry; after the last
// entry fails the job is recorded as a terminal failure.
var (
	userScanRetrySchedule = []time.Duration{2 * time.Minute, 10 * time.Minute}
	fanOutRetrySchedule   = []time.Duration{15 * time.Minute, time.Hour, 4 * time.Hour}
)

// Config holds orchestrator settings.
type Config struct {
	// FanOutSchedule is a cron expression (with seconds) for the daily
	// response fan-out.
	FanOutSchedule string `mapstructure:"fanout_schedule"`
}

// Orchestrator owns the cron trigger and the retrying job runner.
type Orchestrator struct {
	db      *gorm.DB
	scanner *scanner.Scanner
	audit   *activity.Logger
	config  *Config

	cron    *cron.Cron
	entryID cron.EntryID

	// Injectable for tests.
	userScanSchedule []time.Duration
	fanOutSchedule   []time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// New creates an orchestrator.
func New(db *gorm.DB, sc *scanner.Scanner, audit *activity.Logger, config *Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		db:               db,
		scanner:          sc,
		audit:            audit,
		config:           config,
		cron:             cron.New(cron.WithSeconds()),
		userScanSchedule: userScanRetrySchedule,
		fanOutSchedule:   fanOutRetrySchedule,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start registers the fan-out cron job and starts the scheduler. A stopped
// orchestrator can be started again; jobs enqueued after the restart run on a
// fresh context.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return fmt.Errorf("orchestrator is already running")
	}

	schedule := o.config.FanOutSchedule
	if schedule == "" {
		schedule = "0 0 3 * * *" // 03:00 daily
	}

	entryID, err := o.cron.AddFunc(schedule, o.runFanOut)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.ctx = ctx
	o.cancel = cancel

	o.entryID = entryID
	o.cron.Start()
	o.isRunning = true

	logrus.Infof("Scan orchestrator started with fan-out schedule %q", schedule)
	return nil
}

// Stop cancels running jobs, deregisters the fan-out entry, and stops the
// scheduler. The drain happens outside the lock so status probes do not block
// on it.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return nil
	}

	o.cancel()
	o.cron.Remove(o.entryID)
	stopCtx := o.cron.Stop()
	o.isRunning = false
	o.mu.Unlock()

	select {
	case <-stopCtx.Done():
		logrus.Info("Scan orchestrator stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scan orchestrator stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning reports whether the cron trigger is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isRunning
}

// NextRun returns the time of the next scheduled fan-out.
func (o *Orchestrator) NextRun() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.isRunning {
		return time.Time{}
	}
	return o.cron.Entry(o.entryID).Next
}

// Wait blocks until all in-flight jobs finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// jobContext returns the context new jobs run under. Start replaces it, so
// reads go through the lock.
func (o *Orchestrator) jobContext() context.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ctx
}

// EnqueueUserScan launches a per-user response scan in the background with
// the per-user retry schedule.
func (o *Orchestrator) EnqueueUserScan(userID uuid.UUID) uuid.UUID {
	job := o.createJob(model.JobTypeResponseScan, &userID)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runWithRetry(o.jobContext(), job, o.userScanSchedule, func(ctx context.Context) error {
			_, err := o.scanner.ScanResponses(ctx, userID)
			return err
		})
	}()
	return job.ID
}

// RunFanOutOnce runs the daily fan-out synchronously, for manual triggering.
func (o *Orchestrator) RunFanOutOnce() error {
	return o.fanOut(o.jobContext())
}

// runFanOut is the cron entry point: the fan-out itself runs under its own
// retry schedule.
func (o *Orchestrator) runFanOut() {
	job := o.createJob(model.JobTypeDailyFanOut, nil)

	o.wg.Add(1)
	defer o.wg.Done()
	o.runWithRetry(o.jobContext(), job, o.fanOutSchedule, o.fanOut)
}

// fanOut enumerates users with at least one active SENT request and enqueues
// a response scan per user.
func (o *Orchestrator) fanOut(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var userIDs []uuid.UUID
	err := o.db.Model(&model.DeletionRequest{}).
		Where("status = ?", model.StatusSent).
		Distinct().
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return fmt.Errorf("failed to enumerate users with sent requests: %w", err)
	}

	for _, userID := range userIDs {
		o.EnqueueUserScan(userID)
	}

	logrus.Infof("Daily fan-out scheduled response scans for %d user(s)", len(userIDs))
	return nil
}

// runWithRetry executes fn, retrying on the given schedule. Every retry is
// logged with its attempt number and delay. When the schedule is exhausted
// the terminal failure is recorded on the job and in the audit log; it is
// never re-raised.
func (o *Orchestrator) runWithRetry(ctx context.Context, job *model.ScanJob, schedule []time.Duration, fn func(context.Context) error) {
	o.markRunning(job)

	var lastErr error
	for attempt := 0; attempt <= len(schedule); attempt++ {
		if attempt > 0 {
			delay := schedule[attempt-1]
			logrus.Warnf("Job %s (%s) attempt %d failed: %v; retrying in %s",
				job.ID, job.JobType, attempt, lastErr, delay)

			select {
			case <-ctx.Done():
				o.markFailed(job, attempt, fmt.Errorf("cancelled: %w", ctx.Err()))
				return
			case <-time.After(delay):
			}
		}

		job.Attempts = attempt + 1
		lastErr = fn(ctx)
		if lastErr == nil {
			o.markCompleted(job)
			return
		}
	}

	o.markFailed(job, job.Attempts, lastErr)
}

// createJob persists a queued job record.
func (o *Orchestrator) createJob(jobType string, userID *uuid.UUID) *model.ScanJob {
	job := &model.ScanJob{
		UserID:  userID,
		JobType: jobType,
		Status:  model.JobQueued,
	}
	if err := o.db.Create(job).Error; err != nil {
		logrus.Errorf("Failed to persist %s job record: %v", jobType, err)
	}
	return job
}

func (o *Orchestrator) markRunning(job *model.ScanJob) {
	now := time.Now()
	job.Status = model.JobRunning
	job.StartedAt = &now
	if err := o.db.Save(job).Error; err != nil {
		logrus.Warnf("Failed to update job %s: %v", job.ID, err)
	}
}

func (o *Orchestrator) markCompleted(job *model.ScanJob) {
	now := time.Now()
	job.Status = model.JobCompleted
	job.FinishedAt = &now
	if err := o.db.Save(job).Error; err != nil {
		logrus.Warnf("Failed to update job %s: %v", job.ID, err)
	}
}

// markFailed records a terminal job failure in the job row and audit log.
func (o *Orchestrator) markFailed(job *model.ScanJob, attempts int, err error) {
	now := time.Now()
	job.Status = model.JobFailed
	job.Attempts = attempts
	job.LastError = err.Error()
	job.FinishedAt = &now
	if saveErr := o.db.Save(job).Error; saveErr != nil {
		logrus.Warnf("Failed to update job %s: %v", job.ID, saveErr)
	}

	logrus.Errorf("Job %s (%s) failed terminally after %d attempt(s): %v",
		job.ID, job.JobType, attempts, err)

	if job.UserID != nil {
		o.audit.LogActivity(*job.UserID, model.ActivityError,
			fmt.Sprintf("Background %s failed after %d attempt(s)", job.JobType, attempts),
			err.Error(), activity.Related{})
	}
}
