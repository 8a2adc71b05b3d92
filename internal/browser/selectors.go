package browser

import (
	"strconv"
	"strings"
)

// The remote application's markup is not ours and changes without notice.
// Every interactive lookup therefore tries an ordered candidate list, most
// specific first, then falls back to scanning a broad tag class by visible
// text. The lists and the pure matching helpers live here so the degradation
// policy is explicit and testable without a browser.

var (
	usernameSelectors = []string{
		`input[type="email"]`,
		`input[name="username"]`,
		`input[name="email"]`,
		`#username`,
		`#email`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`#password`,
	}
	loginSubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`#login-button`,
	}
	loginSubmitTexts = []string{"log in", "login", "sign in"}

	challengeInputSelectors = []string{
		`input[autocomplete="one-time-code"]`,
		`input[name="code"]`,
		`input[name="otp"]`,
		`input[name="token"]`,
		`#code`,
		`#otp`,
	}
	challengeSubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
	}
	challengeSubmitTexts = []string{"verify", "submit", "continue"}

	saveSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"][value="Save"]`,
		`#save`,
	}
	saveTexts = []string{"save"}
)

// clickableTags is the broad tag class scanned by the text fallback.
const clickableTags = "button, input[type=submit], a"

// authPathMarkers identify login and 2FA pages by URL substring.
var authPathMarkers = []string{
	"login",
	"sign-in",
	"signin",
	"mfa",
	"two-factor",
	"2fa",
	"authenticate",
	"verification",
}

// mfaPathMarkers is the subset that specifically indicates a 2FA step.
var mfaPathMarkers = []string{
	"mfa",
	"two-factor",
	"2fa",
	"authenticate",
	"verification",
	"otp",
}

// isAuthURL reports whether rawURL looks like a login or 2FA page.
func isAuthURL(rawURL string) bool {
	return containsAny(rawURL, authPathMarkers)
}

// isMFAURL reports whether rawURL looks specifically like a 2FA page.
func isMFAURL(rawURL string) bool {
	return containsAny(rawURL, mfaPathMarkers)
}

func containsAny(rawURL string, markers []string) bool {
	u := strings.ToLower(rawURL)
	for _, m := range markers {
		if strings.Contains(u, m) {
			return true
		}
	}
	return false
}

// formatPercent normalizes a fee percentage to exactly two decimal places,
// matching what the remote form expects.
func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

// maxListedOptions caps how many labels an OptionNotFoundError reports.
const maxListedOptions = 10

// matchOption returns the index of the option whose visible label equals
// want exactly (case-sensitive, surrounding whitespace ignored). A near
// match is never accepted.
func matchOption(labels []string, want string) (int, error) {
	for i, l := range labels {
		if strings.TrimSpace(l) == want {
			return i, nil
		}
	}
	listed := labels
	if len(listed) > maxListedOptions {
		listed = listed[:maxListedOptions]
	}
	return -1, &OptionNotFoundError{Want: want, Available: append([]string(nil), listed...)}
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
