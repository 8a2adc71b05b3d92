// Package totp generates the six-digit time-based one-time codes the remote
// application's 2FA login step asks for.
package totp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	gototp "github.com/pquerna/otp/totp"
)

// ErrInvalidSecret is returned when the shared secret is not valid Base32.
var ErrInvalidSecret = errors.New("totp: secret is not valid base32")

const (
	// Digits per code and seconds per bucket are fixed by the remote
	// application; they are not configurable.
	digits = otp.DigitsSix
	period = 30 * time.Second
)

// Generator produces codes from one shared secret. The time source is
// injectable so tests can pin a bucket.
type Generator struct {
	secret string
	now    func() time.Time
}

// New validates the Base32 secret and returns a generator using wall-clock
// time.
func New(secret string) (*Generator, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	padded := normalized
	if n := len(padded) % 8; n != 0 {
		padded += strings.Repeat("=", 8-n)
	}
	if _, err := base32.StdEncoding.DecodeString(padded); err != nil {
		return nil, ErrInvalidSecret
	}
	return &Generator{secret: normalized, now: time.Now}, nil
}

// WithClock replaces the time source and returns the generator for chaining.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Code returns the code for the current 30-second bucket. Deterministic for
// a given secret and bucket.
func (g *Generator) Code() (string, error) {
	code, err := gototp.GenerateCodeCustom(g.secret, g.now(), gototp.ValidateOpts{
		Period:    uint(period / time.Second),
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}
