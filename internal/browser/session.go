package browser

import (
	"context"

	"go.uber.org/zap"

	"referral-fee-bot/internal/telemetry"
)

// State is the session's authentication state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

// Credentials for the remote application login.
type Credentials struct {
	Username string
	Password string
}

// CodeSource produces the current 2FA code. Nil when no secret is
// configured.
type CodeSource interface {
	Code() (string, error)
}

// sessionDriver is the subset of Driver the login state machine needs.
type sessionDriver interface {
	GotoLogin(ctx context.Context) error
	IsOnAuthPage(ctx context.Context) bool
	FillCredentials(ctx context.Context, username, password string) error
	SubmitLoginForm(ctx context.Context) error
	Detect2FAChallenge(ctx context.Context) (sel string, challenged bool, err error)
	EnterCode(ctx context.Context, inputSel, code string) error
	SubmitChallenge(ctx context.Context, inputSel string) error
	Screenshot(ctx context.Context, step, matterID string)
}

// Session tracks whether the driver's browser is logged in. The remote
// application never announces expiry; the only signal is landing back on an
// auth page, so the state is re-checked before every job. State is mutated
// only here, never from the execution path.
type Session struct {
	drv   sessionDriver
	creds Credentials
	codes CodeSource
	log   *zap.Logger
	state State
}

// NewSession wraps a driver with login state. codes may be nil when the
// account has no 2FA configured.
func NewSession(drv sessionDriver, creds Credentials, codes CodeSource, log *zap.Logger) *Session {
	return &Session{drv: drv, creds: creds, codes: codes, log: log}
}

// State returns the current authentication state.
func (s *Session) State() State { return s.state }

// Invalidate drops the session to unauthenticated, for example after the
// browser was relaunched.
func (s *Session) Invalidate() { s.state = StateUnauthenticated }

// Login drives the full credential flow: navigate to the login page, submit
// credentials, satisfy an optional 2FA challenge, and confirm the browser
// left the auth pages.
func (s *Session) Login(ctx context.Context) error {
	s.state = StateAuthenticating

	if err := s.drv.GotoLogin(ctx); err != nil {
		return s.fail(err)
	}
	s.drv.Screenshot(ctx, "login", "")
	if err := s.drv.FillCredentials(ctx, s.creds.Username, s.creds.Password); err != nil {
		return s.fail(err)
	}
	if err := s.drv.SubmitLoginForm(ctx); err != nil {
		return s.fail(err)
	}

	inputSel, challenged, err := s.drv.Detect2FAChallenge(ctx)
	if err != nil {
		return s.fail(err)
	}
	if challenged {
		if s.codes == nil {
			// Fatal configuration error: retrying cannot conjure a secret.
			s.drv.Screenshot(ctx, "2fa-unconfigured", "")
			return s.fail(ErrTwoFactorRequired)
		}
		if inputSel == "" {
			return s.fail(&ElementNotFoundError{What: "2fa code field", Candidates: challengeInputSelectors})
		}
		code, err := s.codes.Code()
		if err != nil {
			return s.fail(err)
		}
		if err := s.drv.EnterCode(ctx, inputSel, code); err != nil {
			return s.fail(err)
		}
		if err := s.drv.SubmitChallenge(ctx, inputSel); err != nil {
			return s.fail(err)
		}
	}

	if s.drv.IsOnAuthPage(ctx) {
		s.drv.Screenshot(ctx, "login-failed", "")
		return s.fail(ErrLoginFailed)
	}

	s.state = StateAuthenticated
	s.log.Info("logged in", zap.Bool("two_factor", challenged))
	return nil
}

// EnsureAuthenticated re-runs Login when the session has expired. Expiry is
// only detectable by observing the current page, so this must run before
// every job execution.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.state == StateAuthenticated && !s.drv.IsOnAuthPage(ctx) {
		return nil
	}
	if s.state == StateAuthenticated {
		s.log.Info("session expired, logging in again")
		telemetry.Relogins.Inc()
	}
	return s.Login(ctx)
}

func (s *Session) fail(err error) error {
	s.state = StateUnauthenticated
	return err
}
