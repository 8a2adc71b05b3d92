// Package browser owns the single Chrome session driven against the remote
// practice-management application: navigation, form interaction, screenshot
// capture, and the login session state machine built on top of it.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures the driver for one remote application.
type Options struct {
	BaseURL            string
	LoginPath          string
	MatterPathTemplate string // fmt template receiving the matter id
	Headless           bool
	NavTimeout         time.Duration
	ElementWait        time.Duration
	SettleDelay        time.Duration
	ScreenshotDir      string
}

// Driver owns one Chrome process and one tab against the remote application.
// It is not safe for concurrent use; the worker runs exactly one job at a
// time against it.
type Driver struct {
	opts  Options
	log   *zap.Logger
	runID string

	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu          sync.Mutex
	dialogArmed bool
}

// New builds an unlaunched driver. Call Launch before any other method.
func New(opts Options, log *zap.Logger) *Driver {
	if opts.NavTimeout == 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.ElementWait == 0 {
		opts.ElementWait = 5 * time.Second
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 3 * time.Second
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "./screenshots"
	}
	return &Driver{opts: opts, log: log}
}

// Launch starts the Chrome process and opens the automation tab. Launch
// failures are environmental; the caller owns the retry decision.
func (d *Driver) Launch(ctx context.Context) error {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1440, 1080),
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser eagerly so binary and
	// environment problems surface here, not on the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return &LaunchError{Err: err}
	}

	d.ctx = tabCtx
	d.tabCancel = tabCancel
	d.allocCancel = allocCancel
	d.runID = uuid.NewString()[:8]
	d.listenForDialogs()
	d.log.Info("browser launched", zap.Bool("headless", d.opts.Headless), zap.String("run_id", d.runID))
	return nil
}

// Close tears the browser down. Idempotent, safe to call when already closed.
func (d *Driver) Close() {
	if d.tabCancel != nil {
		d.tabCancel()
		d.tabCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
}

// run executes actions on the tab context, bounded by timeout and by the
// caller's context.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if d.ctx == nil {
		return ErrNotLaunched
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// GotoLogin navigates to the configured login page.
func (d *Driver) GotoLogin(ctx context.Context) error {
	return d.navigate(ctx, d.opts.BaseURL+d.opts.LoginPath)
}

// GotoMatter navigates to the record page for the given matter id using the
// configured path template.
func (d *Driver) GotoMatter(ctx context.Context, matterID string) error {
	return d.navigate(ctx, d.opts.BaseURL+fmt.Sprintf(d.opts.MatterPathTemplate, matterID))
}

func (d *Driver) navigate(ctx context.Context, url string) error {
	err := d.run(ctx, d.opts.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

// CurrentURL reads the tab's current location.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// IsOnAuthPage reports whether the current URL looks like a login or 2FA
// page. It never fails: read errors are logged and reported as false.
func (d *Driver) IsOnAuthPage(ctx context.Context) bool {
	url, err := d.CurrentURL(ctx)
	if err != nil {
		d.log.Warn("read current url", zap.Error(err))
		return false
	}
	return isAuthURL(url)
}

// FillCredentials locates the username and password fields and types the
// credentials, clearing any prefilled content first.
func (d *Driver) FillCredentials(ctx context.Context, username, password string) error {
	userSel, err := d.findFirst(ctx, "username field", usernameSelectors, "", nil)
	if err != nil {
		return err
	}
	passSel, err := d.findFirst(ctx, "password field", passwordSelectors, "", nil)
	if err != nil {
		return err
	}
	return d.run(ctx, d.opts.NavTimeout,
		chromedp.Clear(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, username, chromedp.ByQuery),
		chromedp.Clear(passSel, chromedp.ByQuery),
		chromedp.SendKeys(passSel, password, chromedp.ByQuery),
	)
}

// SubmitLoginForm clicks the login control and waits for the resulting page.
func (d *Driver) SubmitLoginForm(ctx context.Context) error {
	sel, err := d.findFirst(ctx, "login submit", loginSubmitSelectors, clickableTags, loginSubmitTexts)
	if err != nil {
		return err
	}
	return d.run(ctx, d.opts.NavTimeout,
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Detect2FAChallenge checks for a code-entry step after login submission: a
// known code input on the page, or an MFA-looking URL. Returns the input's
// selector and whether a challenge was detected at all; sel is empty when
// the URL says MFA but no known input matched.
func (d *Driver) Detect2FAChallenge(ctx context.Context) (sel string, challenged bool, err error) {
	for _, candidate := range challengeInputSelectors {
		ok, err := d.exists(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if ok {
			return candidate, true, nil
		}
	}
	url, err := d.CurrentURL(ctx)
	if err != nil {
		return "", false, err
	}
	if isMFAURL(url) {
		return "", true, nil
	}
	return "", false, nil
}

// EnterCode types the 2FA code into the challenge input.
func (d *Driver) EnterCode(ctx context.Context, inputSel, code string) error {
	return d.run(ctx, d.opts.ElementWait,
		chromedp.Clear(inputSel, chromedp.ByQuery),
		chromedp.SendKeys(inputSel, code, chromedp.ByQuery),
	)
}

// SubmitChallenge submits the 2FA form and waits until the browser has left
// the auth pages. When no submit control is found it falls back to pressing
// Enter in the code field.
func (d *Driver) SubmitChallenge(ctx context.Context, inputSel string) error {
	sel, err := d.findFirst(ctx, "challenge submit", challengeSubmitSelectors, clickableTags, challengeSubmitTexts)
	switch {
	case err == nil:
		if err := d.run(ctx, d.opts.ElementWait, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
			return err
		}
	default:
		var nf *ElementNotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		if err := d.run(ctx, d.opts.ElementWait, chromedp.SendKeys(inputSel, kb.Enter, chromedp.ByQuery)); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(d.opts.NavTimeout)
	for time.Now().Before(deadline) {
		url, err := d.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !isAuthURL(url) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return ErrChallengeFailed
}

// EnableFeeCheckbox ticks the referral-fee checkbox only if it is not
// already ticked. Returns true when the box was already set.
func (d *Driver) EnableFeeCheckbox(ctx context.Context, sel string) (bool, error) {
	if _, err := d.findFirst(ctx, "fee checkbox", []string{sel}, "", nil); err != nil {
		return false, err
	}
	var checked bool
	script := fmt.Sprintf(`document.querySelector(%q).checked === true`, sel)
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Evaluate(script, &checked)); err != nil {
		return false, err
	}
	if checked {
		return true, nil
	}
	return false, d.run(ctx, d.opts.ElementWait, chromedp.Click(sel, chromedp.ByQuery))
}

// SelectAssignee selects the dropdown option whose visible label is exactly
// name. Matching is against labels, not option values.
func (d *Driver) SelectAssignee(ctx context.Context, sel, name string) error {
	if _, err := d.findFirst(ctx, "assignee dropdown", []string{sel}, "", nil); err != nil {
		return err
	}
	var labels []string
	read := fmt.Sprintf(`Array.from(document.querySelector(%q).options).map(o => o.label || o.text)`, sel)
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Evaluate(read, &labels)); err != nil {
		return err
	}
	idx, err := matchOption(labels, name)
	if err != nil {
		return err
	}
	set := fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	el.selectedIndex = %d;
	el.dispatchEvent(new Event('change', { bubbles: true }));
})()`, sel, idx)
	return d.run(ctx, d.opts.ElementWait, chromedp.Evaluate(set, nil))
}

// EnterPercentage clears the fee field and types the percentage normalized
// to exactly two decimal places.
func (d *Driver) EnterPercentage(ctx context.Context, sel string, pct float64) error {
	if _, err := d.findFirst(ctx, "percentage field", []string{sel}, "", nil); err != nil {
		return err
	}
	return d.run(ctx, d.opts.ElementWait,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, formatPercent(pct), chromedp.ByQuery),
	)
}

// Save arms a one-shot accept for the confirmation dialog, clicks the save
// control, and waits the settle delay. The remote UI exposes no reliable
// saved signal, so the fixed wait stands in for one.
func (d *Driver) Save(ctx context.Context) error {
	sel, err := d.findFirst(ctx, "save control", saveSelectors, clickableTags, saveTexts)
	if err != nil {
		return err
	}
	d.armDialogAccept()
	defer d.disarmDialogAccept()
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.opts.SettleDelay):
	}
	return nil
}

// Screenshot captures a full-page image named by step and matter id into the
// run's screenshot directory. Best effort: failures are logged, never
// returned, because diagnostics must not fail a job.
func (d *Driver) Screenshot(ctx context.Context, step, matterID string) {
	if d.ctx == nil {
		return
	}
	var buf []byte
	if err := d.run(ctx, d.opts.ElementWait, chromedp.FullScreenshot(&buf, 80)); err != nil {
		d.log.Warn("capture screenshot", zap.String("step", step), zap.Error(err))
		return
	}
	dir := filepath.Join(d.opts.ScreenshotDir, d.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.log.Warn("create screenshot dir", zap.String("dir", dir), zap.Error(err))
		return
	}
	name := screenshotName(step, matterID)
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
		d.log.Warn("write screenshot", zap.String("file", name), zap.Error(err))
		return
	}
	d.log.Debug("screenshot saved", zap.String("file", filepath.Join(dir, name)))
}

func screenshotName(step, matterID string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	if matterID == "" {
		return fmt.Sprintf("%s-%s.png", ts, step)
	}
	return fmt.Sprintf("%s-%s-%s.png", ts, step, matterID)
}

// findFirst returns the first candidate selector matching an element on the
// page. When no candidate matches it scans elements of the broad tag class
// for a case-insensitive visible-text substring match, retrying until the
// bounded element wait elapses.
func (d *Driver) findFirst(ctx context.Context, what string, candidates []string, tags string, texts []string) (string, error) {
	deadline := time.Now().Add(d.opts.ElementWait)
	for {
		for _, sel := range candidates {
			ok, err := d.exists(ctx, sel)
			if err != nil {
				return "", err
			}
			if ok {
				return sel, nil
			}
		}
		if tags != "" && len(texts) > 0 {
			sel, ok, err := d.findByText(ctx, tags, texts)
			if err != nil {
				return "", err
			}
			if ok {
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", &ElementNotFoundError{What: what, Candidates: candidates}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (d *Driver) exists(ctx context.Context, sel string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// findByText tags the first element of the tag class whose visible text
// contains any of texts, and returns a selector for it.
func (d *Driver) findByText(ctx context.Context, tags string, texts []string) (string, bool, error) {
	wants, err := json.Marshal(lowered(texts))
	if err != nil {
		return "", false, err
	}
	script := fmt.Sprintf(`(() => {
	const wants = %s;
	document.querySelectorAll('[data-feebot-target]').forEach(el => el.removeAttribute('data-feebot-target'));
	const els = Array.from(document.querySelectorAll(%q));
	for (const el of els) {
		const text = ((el.innerText || el.value || '') + '').trim().toLowerCase();
		if (wants.some(w => text.includes(w))) {
			el.setAttribute('data-feebot-target', '1');
			return true;
		}
	}
	return false;
})()`, wants, tags)
	var found bool
	if err := d.run(ctx, d.opts.ElementWait, chromedp.Evaluate(script, &found)); err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return `[data-feebot-target="1"]`, true, nil
}

// listenForDialogs installs the native-dialog handler for the tab's
// lifetime. A dialog is accepted only while armed; the arm is consumed by
// the first dialog so a handler never leaks across unrelated saves.
func (d *Driver) listenForDialogs() {
	ctx := d.ctx
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
			return
		}
		d.mu.Lock()
		accept := d.dialogArmed
		d.dialogArmed = false
		d.mu.Unlock()
		// The handler runs on the event goroutine; dialog resolution must
		// happen off it.
		go func() {
			if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(accept)); err != nil {
				d.log.Warn("resolve dialog", zap.Bool("accept", accept), zap.Error(err))
			}
		}()
	})
}

func (d *Driver) armDialogAccept() {
	d.mu.Lock()
	d.dialogArmed = true
	d.mu.Unlock()
}

func (d *Driver) disarmDialogAccept() {
	d.mu.Lock()
	d.dialogArmed = false
	d.mu.Unlock()
}
