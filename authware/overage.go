package authware

import (
	"context"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/pkg/errors"
)

// Claims-overage marker fields. When a user belongs to more groups than
// the provider will embed in a token, the groups claim is replaced by
// these markers and the memberships must be fetched from the directory.
const (
	claimNamesKey   = "_claim_names"
	claimSourcesKey = "_claim_sources"
)

func hasOverageMarkers(claims map[string]any) bool {
	_, names := claims[claimNamesKey]
	_, sources := claims[claimSourcesKey]
	return names || sources
}

// resolveOverage substitutes a directory lookup for the omitted groups
// claim: acquire a directory-read token silently, list memberships, follow
// pagination to completion, then rebuild the account's claims with the
// full group set substituted in. Partial pages are never evaluated, and
// every failure propagates rather than defaulting to a decision.
func (m *Middleware) resolveOverage(ctx context.Context, session *sessions.Session) ([]string, error) {
	if m.directory == nil || m.cfg.DirectoryReadScope == "" {
		return nil, errors.Wrap(apperrors.ErrConfiguration, "[Middleware.resolveOverage] directory lookup not configured")
	}

	token, err := m.provider.AcquireSilent(ctx, provider.SilentRequest{
		Account: session.Account,
		Scopes:  []string{m.cfg.DirectoryReadScope},
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Middleware.resolveOverage] acquire directory token")
	}

	page, err := m.directory.ListMemberships(ctx, token.AccessToken)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Middleware.resolveOverage] list memberships")
	}

	groups := append([]string(nil), page.Items...)
	if page.NextLink != "" {
		rest, err := m.directory.FollowPagination(ctx, token.AccessToken, page.NextLink)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[Middleware.resolveOverage] follow pagination")
		}
		groups = append(groups, rest...)
	}

	claims := make(map[string]any, len(session.Account.IDTokenClaims))
	for k, v := range session.Account.IDTokenClaims {
		if k == claimNamesKey || k == claimSourcesKey {
			continue
		}
		claims[k] = v
	}
	claims["groups"] = groups

	// The account is replaced wholesale with the re-shaped claims.
	account := *session.Account
	account.IDTokenClaims = claims
	session.Account = &account

	if err := m.repo.Upsert(ctx, session); err != nil {
		return nil, apperrors.Wrapf(err, "[Middleware.resolveOverage] persist session")
	}

	return groups, nil
}
