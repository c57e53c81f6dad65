package stx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// Credentials are what the bot logs in with.
type Credentials struct {
	Email    string
	Password string
	// TwoFactorCode is used when the account asks for 2FA confirmation.
	TwoFactorCode string
}

// CodePrompt asks an operator for a 2FA code.
type CodePrompt func(ctx context.Context) (string, error)

// Authenticator performs the full login sequence, including 2FA when the
// exchange asks for it.
type Authenticator struct {
	client *Client
	creds  Credentials
	prompt CodePrompt
	logger *slog.Logger

	mu      sync.RWMutex
	session LoginResult
}

// NewAuthenticator creates an Authenticator. prompt may be nil; without it a
// 2FA challenge can only be answered from Credentials.TwoFactorCode.
func NewAuthenticator(client *Client, creds Credentials, prompt CodePrompt, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		client: client,
		creds:  creds,
		prompt: prompt,
		logger: logger.With(slog.String("component", "stx.auth")),
	}
}

// Authenticate logs in. Every failure wraps domain.ErrAuthenticationFailed.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	if a.creds.Email == "" || a.creds.Password == "" {
		return fmt.Errorf("stx: authenticate: %w: email and password are required", domain.ErrAuthenticationFailed)
	}

	a.logger.InfoContext(ctx, "logging in", slog.String("email", a.creds.Email))

	res, err := a.client.Login(ctx, a.creds.Email, a.creds.Password)
	if err != nil {
		return err
	}

	if res.TwoFactorRequired {
		a.logger.InfoContext(ctx, "two-factor confirmation required")

		code := a.creds.TwoFactorCode
		if code == "" && a.prompt != nil {
			if code, err = a.prompt(ctx); err != nil {
				return fmt.Errorf("stx: authenticate: %w: read 2fa code: %w", domain.ErrAuthenticationFailed, err)
			}
		}
		if code == "" {
			return fmt.Errorf("stx: authenticate: %w: 2fa code required but not configured", domain.ErrAuthenticationFailed)
		}

		if res, err = a.client.Confirm2FA(ctx, code); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.session = res
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "authenticated", slog.String("user_id", res.UserID))
	return nil
}

// UserID returns the account id of the last successful login.
func (a *Authenticator) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.UserID
}
