// Package auth resolves the completion-service credential at startup.
// Resolution order: explicit configured token, environment token, cached
// token, interactive device-authorization flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"relaybot/internal/config"
	"relaybot/internal/credstore"
)

// Kind classifies terminal authentication failures.
type Kind string

const (
	KindMissing Kind = "missing" // no credential and no way to obtain one
	KindDenied  Kind = "denied"  // the user refused the device authorization
	KindExpired Kind = "expired" // the device code expired before authorization
)

// Error is a terminal authentication failure. All kinds are fatal at
// startup.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// CredentialCache is the slice of the credential store the resolver needs.
type CredentialCache interface {
	Load(ctx context.Context) (*credstore.Credential, error)
	Save(ctx context.Context, token string) error
}

// Resolver resolves a credential once at startup.
type Resolver struct {
	cfg    config.AuthConfig
	cache  CredentialCache
	logger *slog.Logger
	out    io.Writer // device flow prompts, defaults to stdout
}

func NewResolver(cfg config.AuthConfig, cache CredentialCache, logger *slog.Logger) *Resolver {
	return &Resolver{cfg: cfg, cache: cache, logger: logger, out: os.Stdout}
}

// EnsureAuthenticated returns a credential, walking the priority chain
// and falling back to the interactive device flow as a last resort.
func (r *Resolver) EnsureAuthenticated(ctx context.Context) (string, error) {
	if r.cfg.Token != "" {
		r.logger.Debug("using configured token")
		return r.cfg.Token, nil
	}

	if r.cfg.TokenEnv != "" {
		if tok := os.Getenv(r.cfg.TokenEnv); tok != "" {
			r.logger.Debug("using token from environment", "var", r.cfg.TokenEnv)
			return tok, nil
		}
	}

	cred, err := r.cache.Load(ctx)
	switch {
	case err == nil:
		r.logger.Debug("using cached token", "obtained", cred.ObtainedAt)
		return cred.Token, nil
	case errors.Is(err, credstore.ErrNoCredential):
		// fall through to the device flow
	default:
		r.logger.Warn("credential cache unreadable", "err", err)
	}

	return r.Login(ctx)
}

// Login runs the device flow regardless of any cached credential and
// caches the result.
func (r *Resolver) Login(ctx context.Context) (string, error) {
	if r.cfg.ClientID == "" {
		return "", &Error{
			Kind: KindMissing,
			Err:  errors.New("no token configured and auth.clientId is unset"),
		}
	}

	token, err := r.deviceFlow(ctx)
	if err != nil {
		return "", err
	}

	if err := r.cache.Save(ctx, token); err != nil {
		r.logger.Warn("credential cache write failed", "err", err)
	}
	return token, nil
}
