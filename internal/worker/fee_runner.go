package worker

import (
	"context"

	"go.uber.org/zap"

	"referral-fee-bot/internal/browser"
	"referral-fee-bot/internal/models"
)

// FeeSelectors locate the three fee controls on the matter page.
type FeeSelectors struct {
	Checkbox   string
	Assignee   string
	Percentage string
}

// FeeRunner executes one fee-update job through the browser driver and its
// login session.
type FeeRunner struct {
	drv     *browser.Driver
	session *browser.Session
	sel     FeeSelectors
	log     *zap.Logger
}

// NewFeeRunner wires the driver and session to the fee form.
func NewFeeRunner(drv *browser.Driver, session *browser.Session, sel FeeSelectors, log *zap.Logger) *FeeRunner {
	return &FeeRunner{drv: drv, session: session, sel: sel, log: log}
}

// EnsureAuthenticated delegates to the session state machine.
func (r *FeeRunner) EnsureAuthenticated(ctx context.Context) error {
	return r.session.EnsureAuthenticated(ctx)
}

// Apply navigates to the job's matter and sets the referral fee fields:
// checkbox, assignee by exact label, percentage, then save. Screenshots
// bracket the mutation for diagnostics.
func (r *FeeRunner) Apply(ctx context.Context, job models.Job) (bool, error) {
	if err := r.drv.GotoMatter(ctx, job.MatterID); err != nil {
		return false, err
	}
	r.drv.Screenshot(ctx, "before", job.MatterID)

	alreadySet, err := r.drv.EnableFeeCheckbox(ctx, r.sel.Checkbox)
	if err != nil {
		return false, err
	}
	if err := r.drv.SelectAssignee(ctx, r.sel.Assignee, job.AssigneeName); err != nil {
		return false, err
	}
	if err := r.drv.EnterPercentage(ctx, r.sel.Percentage, job.Percentage); err != nil {
		return false, err
	}
	if err := r.drv.Save(ctx); err != nil {
		return false, err
	}

	r.drv.Screenshot(ctx, "after", job.MatterID)
	return alreadySet, nil
}

// Relaunch discards the crashed browser and starts a fresh one. The session
// is invalidated so the next job logs in again.
func (r *FeeRunner) Relaunch(ctx context.Context) error {
	r.drv.Close()
	// The browser must outlive the caller's bookkeeping deadline; Launch
	// owns the process lifetime, so it gets a background context.
	if err := r.drv.Launch(context.Background()); err != nil {
		return err
	}
	r.session.Invalidate()
	r.log.Info("browser relaunched")
	return nil
}

// Close tears down the browser. Safe to call more than once.
func (r *FeeRunner) Close() {
	r.drv.Close()
}
