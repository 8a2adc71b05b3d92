package browser

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormatPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{10, "10.00"},
		{7.5, "7.50"},
		{33.333, "33.33"},
		{100, "100.00"},
		{0.1, "0.10"},
	}
	for _, tc := range cases {
		if got := formatPercent(tc.in); got != tc.want {
			t.Fatalf("formatPercent(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatchOptionExact(t *testing.T) {
	labels := []string{"Doe, John (Staff)", "Smith, Jane (Staff)"}
	idx, err := matchOption(labels, "Smith, Jane (Staff)")
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if idx != 1 {
		t.Fatalf("matched index %d, want 1", idx)
	}
}

func TestMatchOptionTrimsLabelWhitespace(t *testing.T) {
	idx, err := matchOption([]string{"  Smith, Jane (Staff) "}, "Smith, Jane (Staff)")
	if err != nil || idx != 0 {
		t.Fatalf("expected index 0, got %d err=%v", idx, err)
	}
}

func TestMatchOptionNeverAcceptsNearMatch(t *testing.T) {
	labels := []string{"Smith, Jane (Staff)", "Doe, John (Staff)"}

	// Wrong name format must fail and report what was available.
	_, err := matchOption(labels, "Jane Smith")
	var nf *OptionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected OptionNotFoundError, got %v", err)
	}
	if len(nf.Available) != 2 || nf.Available[0] != "Smith, Jane (Staff)" || nf.Available[1] != "Doe, John (Staff)" {
		t.Fatalf("unexpected available labels: %v", nf.Available)
	}

	// Case differences are not a match either.
	if _, err := matchOption(labels, "smith, jane (staff)"); err == nil {
		t.Fatal("expected case-sensitive matching to reject lowercase input")
	}
}

func TestMatchOptionCapsReportedLabels(t *testing.T) {
	labels := make([]string, 15)
	for i := range labels {
		labels[i] = fmt.Sprintf("Person %d (Staff)", i)
	}
	_, err := matchOption(labels, "Nobody")
	var nf *OptionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected OptionNotFoundError, got %v", err)
	}
	if len(nf.Available) != maxListedOptions {
		t.Fatalf("reported %d labels, want %d", len(nf.Available), maxListedOptions)
	}
}

func TestIsAuthURL(t *testing.T) {
	authURLs := []string{
		"https://go.example.com/frontend/account/login",
		"https://go.example.com/sign-in",
		"https://go.example.com/signin?next=/",
		"https://id.example.com/mfa/challenge",
		"https://id.example.com/two-factor",
		"https://id.example.com/2fa",
		"https://id.example.com/authenticate",
		"https://id.example.com/verification/code",
	}
	for _, u := range authURLs {
		if !isAuthURL(u) {
			t.Fatalf("expected %q to be detected as an auth page", u)
		}
	}

	nonAuth := []string{
		"https://go.example.com/mym/asfw/workflow/action/overview/action_id/12345",
		"https://go.example.com/dashboard",
		"",
	}
	for _, u := range nonAuth {
		if isAuthURL(u) {
			t.Fatalf("expected %q not to be detected as an auth page", u)
		}
	}
}

func TestIsMFAURLIsSubsetOfAuth(t *testing.T) {
	if isMFAURL("https://go.example.com/frontend/account/login") {
		t.Fatal("plain login page should not read as an MFA page")
	}
	if !isMFAURL("https://id.example.com/mfa/challenge") {
		t.Fatal("mfa path should read as an MFA page")
	}
}
