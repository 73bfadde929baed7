// Package auth verifies merchant request signatures against the merchant
// directory and maintains the failed-attempt lockout counters.
package auth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/token"
)

// Authenticator resolves a request's teamSlug and checks its token.
type Authenticator struct {
	directory merchant.Directory
	now       func() time.Time
}

// NewAuthenticator builds an authenticator over the given directory.
func NewAuthenticator(directory merchant.Directory) *Authenticator {
	return &Authenticator{directory: directory, now: time.Now}
}

// Authenticate verifies the request token for teamSlug over the scalar request
// parameters. On success it returns the merchant record; on failure it returns
// a wire-coded error. Unknown slugs and bad tokens produce the same code so
// callers cannot probe which slugs exist.
func (a *Authenticator) Authenticate(ctx context.Context, teamSlug, requestToken string, params map[string]any) (merchant.Merchant, *errors.Error) {
	log := logger.FromContext(ctx)

	m, err := a.directory.Lookup(ctx, teamSlug)
	if err != nil {
		if stderrors.Is(err, merchant.ErrNotFound) {
			log.Warn().Str("team_slug", teamSlug).Msg("auth failed: unknown team")
			return merchant.Merchant{}, errors.New(errors.KindAuthentication, errors.CodeInvalidToken, "invalid token")
		}
		log.Error().Err(err).Str("team_slug", teamSlug).Msg("merchant lookup failed")
		return merchant.Merchant{}, errors.Internal(err)
	}

	now := a.now().UTC()
	if m.Locked(now) {
		log.Warn().
			Str("team_slug", teamSlug).
			Time("locked_until", m.LockedUntil).
			Msg("auth rejected: team locked out")
		return merchant.Merchant{}, errors.New(errors.KindAuthentication, errors.CodeTeamLocked, "team temporarily locked")
	}

	ok := token.Verify(params, requestToken, m.Secret)
	if recErr := a.directory.RecordAuthOutcome(ctx, teamSlug, ok); recErr != nil {
		// Counter bookkeeping must not mask the auth result itself.
		log.Error().Err(recErr).Str("team_slug", teamSlug).Msg("record auth outcome failed")
	}
	if !ok {
		log.Warn().Str("team_slug", teamSlug).Msg("auth failed: token mismatch")
		return merchant.Merchant{}, errors.New(errors.KindAuthentication, errors.CodeInvalidToken, "invalid token")
	}

	// Token is valid, but an inactive terminal may not transact.
	if !m.IsActive {
		log.Warn().Str("team_slug", teamSlug).Msg("auth rejected: terminal inactive")
		return merchant.Merchant{}, errors.New(errors.KindAuthentication, errors.CodeTerminalInactive, "terminal is not active")
	}

	log.Debug().Str("team_slug", teamSlug).Msg("merchant authenticated")
	return m, nil
}
