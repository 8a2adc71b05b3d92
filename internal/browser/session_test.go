package browser

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// fakeDriver scripts the observable behavior of the remote login flow.
type fakeDriver struct {
	challenged   bool
	challengeSel string
	onAuthPage   []bool // consumed per IsOnAuthPage call; empty means false
	submitErr    error

	logins      int
	codeEntered string
	challengeOK bool
}

func (f *fakeDriver) GotoLogin(ctx context.Context) error {
	f.logins++
	return nil
}

func (f *fakeDriver) IsOnAuthPage(ctx context.Context) bool {
	if len(f.onAuthPage) == 0 {
		return false
	}
	v := f.onAuthPage[0]
	f.onAuthPage = f.onAuthPage[1:]
	return v
}

func (f *fakeDriver) FillCredentials(ctx context.Context, username, password string) error { return nil }
func (f *fakeDriver) SubmitLoginForm(ctx context.Context) error                           { return nil }

func (f *fakeDriver) Detect2FAChallenge(ctx context.Context) (string, bool, error) {
	return f.challengeSel, f.challenged, nil
}

func (f *fakeDriver) EnterCode(ctx context.Context, sel, code string) error {
	f.codeEntered = code
	return nil
}

func (f *fakeDriver) SubmitChallenge(ctx context.Context, sel string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.challengeOK = true
	return nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, step, matterID string) {}

type fixedCode string

func (c fixedCode) Code() (string, error) { return string(c), nil }

func TestLoginWithoutChallenge(t *testing.T) {
	drv := &fakeDriver{}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, nil, zap.NewNop())

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", s.State())
	}
}

func TestLoginTwoFactorNotConfigured(t *testing.T) {
	drv := &fakeDriver{challenged: true, challengeSel: `input[name="code"]`}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, nil, zap.NewNop())

	err := s.Login(context.Background())
	if !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("expected ErrTwoFactorRequired, got %v", err)
	}
	if s.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want unauthenticated after failure", s.State())
	}
}

func TestLoginSolvesChallenge(t *testing.T) {
	drv := &fakeDriver{challenged: true, challengeSel: `input[name="code"]`}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, fixedCode("123456"), zap.NewNop())

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if drv.codeEntered != "123456" {
		t.Fatalf("entered code %q, want 123456", drv.codeEntered)
	}
	if !drv.challengeOK {
		t.Fatal("challenge was never submitted")
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", s.State())
	}
}

func TestLoginFailsWhenStillOnAuthPage(t *testing.T) {
	// Final check after the flow still sees an auth page.
	drv := &fakeDriver{onAuthPage: []bool{true}}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, nil, zap.NewNop())

	if err := s.Login(context.Background()); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if s.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want unauthenticated", s.State())
	}
}

func TestEnsureAuthenticatedNoOpWhenHealthy(t *testing.T) {
	drv := &fakeDriver{}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, nil, zap.NewNop())
	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if drv.logins != 1 {
		t.Fatalf("logins = %d, want 1 (no re-login while healthy)", drv.logins)
	}
}

func TestEnsureAuthenticatedReloginsOnExpiry(t *testing.T) {
	drv := &fakeDriver{}
	s := NewSession(drv, Credentials{Username: "u", Password: "p"}, nil, zap.NewNop())
	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	// The expiry check sees an auth page once; the post-login check does not.
	drv.onAuthPage = []bool{true}
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure after expiry: %v", err)
	}
	if drv.logins != 2 {
		t.Fatalf("logins = %d, want 2 (re-login after expiry)", drv.logins)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", s.State())
	}
}
