package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"referral-fee-bot/internal/browser"
	"referral-fee-bot/internal/config"
	"referral-fee-bot/internal/models"
	"referral-fee-bot/internal/telemetry"
)

// jobStore is the queue surface the processor needs from Postgres.
type jobStore interface {
	ClaimNextPending(ctx context.Context) (models.Job, bool, error)
	MarkCompleted(ctx context.Context, id int64) error
	RequeueForRetry(ctx context.Context, id int64, attempts int, errMsg string) error
	MarkFailed(ctx context.Context, id int64, attempts int, errMsg string) error
	AppendLog(ctx context.Context, e models.LogEntry) error
	PendingCount(ctx context.Context) (int64, error)
}

// runner abstracts the browser side of job execution.
type runner interface {
	EnsureAuthenticated(ctx context.Context) error
	Apply(ctx context.Context, job models.Job) (alreadySet bool, err error)
	Relaunch(ctx context.Context) error
	Close()
}

const bookkeepingTimeout = 30 * time.Second

// Processor polls the queue at a fixed interval and executes at most one job
// per tick through the browser runner. Serial on purpose: there is one
// browser tab and one login, so concurrent execution against the same
// session is unsafe.
type Processor struct {
	cfg    config.Config
	store  jobStore
	runner runner
	log    *zap.Logger

	mu       sync.Mutex
	inFlight int
}

// NewProcessor wires the poll loop to its store and browser runner.
func NewProcessor(cfg config.Config, st jobStore, r runner, log *zap.Logger) *Processor {
	return &Processor{cfg: cfg, store: st, runner: r, log: log}
}

// Run polls until ctx is cancelled, then closes the browser. Ticks are
// synchronous, so cancellation takes effect between jobs: an in-flight job
// always runs to completion before shutdown tears the browser down.
func (p *Processor) Run(ctx context.Context) error {
	defer p.runner.Close()

	// Initial login. Failures here are not fatal: the per-job retry budget
	// covers a remote that is temporarily unreachable, and a fatal 2FA
	// misconfiguration will fail jobs deterministically where operators can
	// see it in the queue table.
	if err := p.runner.EnsureAuthenticated(ctx); err != nil {
		p.log.Error("initial login failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("processor stopping")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick claims and processes at most one job. Store errors skip the tick; the
// next interval retries. Nothing here may panic through or return an error:
// the loop must outlive every job failure.
func (p *Processor) tick(ctx context.Context) {
	if !p.acquire() {
		return
	}
	defer p.release()

	if n, err := p.store.PendingCount(ctx); err == nil {
		telemetry.PendingDepthGauge.Set(float64(n))
	}

	job, ok, err := p.store.ClaimNextPending(ctx)
	if err != nil {
		p.log.Warn("claim pending job", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	p.process(job)
}

// acquire takes an execution slot; false means the processor is already at
// its concurrency ceiling and this tick is skipped.
func (p *Processor) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight >= p.cfg.MaxConcurrentJobs {
		return false
	}
	p.inFlight++
	telemetry.InFlightGauge.Inc()
	return true
}

func (p *Processor) release() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	telemetry.InFlightGauge.Dec()
}

func (p *Processor) process(job models.Job) {
	log := p.log.With(
		zap.Int64("job_id", job.ID),
		zap.String("matter_id", job.MatterID),
		zap.Int("attempt", job.Attempts+1),
		zap.Int("max_attempts", job.MaxAttempts),
	)
	log.Info("processing job", zap.String("assignee", job.AssigneeName), zap.Float64("percentage", job.Percentage))

	// Execution is detached from the run context so shutdown waits for the
	// job instead of aborting a half-finished form save. The job timeout
	// bounds a wedged page interaction.
	execCtx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	alreadySet, err := p.execute(execCtx, job)
	cancel()

	bookCtx, bookCancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer bookCancel()

	if err == nil {
		p.succeed(bookCtx, job, alreadySet, log)
		return
	}

	if browser.IsBrowserGone(err) {
		log.Warn("browser session lost, relaunching", zap.Error(err))
		telemetry.BrowserRelaunches.Inc()
		if rerr := p.runner.Relaunch(bookCtx); rerr != nil {
			log.Error("browser relaunch failed", zap.Error(rerr))
		}
	}

	attempts := job.Attempts + 1
	if attempts < job.MaxAttempts {
		if serr := p.store.RequeueForRetry(bookCtx, job.ID, attempts, err.Error()); serr != nil {
			log.Error("requeue job", zap.Error(serr))
		}
		p.appendLog(bookCtx, models.LogEntry{
			JobID:       &job.ID,
			MatterID:    job.MatterID,
			Action:      models.ActionRetry,
			Status:      models.LogWarning,
			Message:     fmt.Sprintf("attempt %d of %d failed, will retry", attempts, job.MaxAttempts),
			ErrorDetail: strPtr(err.Error()),
			Origin:      models.OriginRetryEngine,
		})
		telemetry.JobsRetried.Inc()
		log.Warn("job attempt failed, requeued", zap.Error(err))
		return
	}

	if serr := p.store.MarkFailed(bookCtx, job.ID, attempts, err.Error()); serr != nil {
		log.Error("mark job failed", zap.Error(serr))
	}
	p.appendLog(bookCtx, models.LogEntry{
		JobID:       &job.ID,
		MatterID:    job.MatterID,
		Action:      models.ActionFailed,
		Status:      models.LogError,
		Message:     fmt.Sprintf("failed after %d attempts", attempts),
		ErrorDetail: strPtr(err.Error()),
		Origin:      models.OriginRetryEngine,
	})
	telemetry.JobsFailed.Inc()
	log.Error("job failed permanently", zap.Error(err))
}

func (p *Processor) execute(ctx context.Context, job models.Job) (bool, error) {
	if err := p.runner.EnsureAuthenticated(ctx); err != nil {
		return false, fmt.Errorf("authenticate: %w", err)
	}
	return p.runner.Apply(ctx, job)
}

func (p *Processor) succeed(ctx context.Context, job models.Job, alreadySet bool, log *zap.Logger) {
	if err := p.store.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("mark job completed", zap.Error(err))
	}
	action := models.ActionFeeSet
	msg := fmt.Sprintf("referral fee set to %.2f%% for %s", job.Percentage, job.AssigneeName)
	if alreadySet {
		action = models.ActionAlreadySet
		msg = fmt.Sprintf("referral fee flag was already enabled; updated to %.2f%% for %s", job.Percentage, job.AssigneeName)
	}
	p.appendLog(ctx, models.LogEntry{
		JobID:    &job.ID,
		MatterID: job.MatterID,
		Action:   action,
		Status:   models.LogSuccess,
		Message:  msg,
		Origin:   models.OriginRetryEngine,
	})
	telemetry.JobsCompleted.Inc()
	log.Info("job completed")
}

func (p *Processor) appendLog(ctx context.Context, e models.LogEntry) {
	if err := p.store.AppendLog(ctx, e); err != nil {
		p.log.Error("append audit log", zap.Error(err))
	}
}

func strPtr(s string) *string { return &s }
