package browser

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsBrowserGone(t *testing.T) {
	gone := []error{
		errors.New("websocket: close 1006 (abnormal closure): unexpected EOF"),
		errors.New("Target Closed"),
		fmt.Errorf("navigate: %w", errors.New("session closed")),
		errors.New("chrome failed to start: exit status 1"),
	}
	for _, err := range gone {
		if !IsBrowserGone(err) {
			t.Fatalf("expected %v to indicate a dead browser", err)
		}
	}

	alive := []error{
		nil,
		errors.New("element not found"),
		ErrLoginFailed,
		&NavigationError{URL: "https://x", Err: errors.New("timeout")},
	}
	for _, err := range alive {
		if IsBrowserGone(err) {
			t.Fatalf("expected %v not to indicate a dead browser", err)
		}
	}
}
