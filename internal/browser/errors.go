package browser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotLaunched means a driver method was called before Launch.
	ErrNotLaunched = errors.New("browser: driver not launched")

	// ErrLoginFailed means the login flow finished but the browser is still
	// on an auth page.
	ErrLoginFailed = errors.New("browser: login failed, still on an auth page")

	// ErrTwoFactorRequired means the remote application presented a 2FA
	// challenge but no TOTP secret is configured. Retrying cannot help.
	ErrTwoFactorRequired = errors.New("browser: two-factor challenge presented but no TOTP secret configured")

	// ErrChallengeFailed means the 2FA code was submitted but the browser
	// never left the auth pages (code rejected or expired).
	ErrChallengeFailed = errors.New("browser: two-factor code rejected")
)

// LaunchError wraps a browser startup failure: missing binary, sandbox
// problems, display issues. The caller decides whether to retry.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("browser: launch: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// NavigationError wraps a navigation timeout or failure.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("browser: navigate %s: %v", e.URL, e.Err)
}
func (e *NavigationError) Unwrap() error { return e.Err }

// ElementNotFoundError means none of the selector candidates matched within
// the bounded wait.
type ElementNotFoundError struct {
	What       string
	Candidates []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("browser: %s not found (tried %s)", e.What, strings.Join(e.Candidates, ", "))
}

// OptionNotFoundError means no dropdown option label matched exactly. It
// carries up to ten of the labels that were available, for diagnostics.
type OptionNotFoundError struct {
	Want      string
	Available []string
}

func (e *OptionNotFoundError) Error() string {
	return fmt.Sprintf("browser: no option labelled %q; available: %s", e.Want, strings.Join(e.Available, "; "))
}

// crashIndicators are substrings of errors that mean the Chrome process or
// its devtools session is gone, as opposed to an ordinary page-level failure.
var crashIndicators = []string{
	"session closed",
	"target closed",
	"target crashed",
	"browser has been closed",
	"websocket: close",
	"connection closed",
	"chrome failed to start",
}

// IsBrowserGone reports whether err indicates the browser process or session
// died. Such failures need a full driver relaunch, not a job retry alone.
func IsBrowserGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range crashIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}
