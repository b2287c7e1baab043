package authware

import (
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/jrsteele09/go-webapp-auth/internal/utils"
)

// CredentialKind selects which identity-token claim an access rule is
// evaluated against.
type CredentialKind string

const (
	CredentialRoles  CredentialKind = "roles"
	CredentialGroups CredentialKind = "groups"
)

// AccessRule is the declarative authorization policy for a route. The kind
// is fixed when the rule is built from configuration, so no per-request
// inspection decides between role and group checking.
type AccessRule struct {
	Kind    CredentialKind
	Methods []string
	Allowed []string
}

// NewRoleRule builds a role-checked rule.
func NewRoleRule(methods, roles []string) AccessRule {
	return AccessRule{Kind: CredentialRoles, Methods: methods, Allowed: roles}
}

// NewGroupRule builds a group-checked rule.
func NewGroupRule(methods, groups []string) AccessRule {
	return AccessRule{Kind: CredentialGroups, Methods: methods, Allowed: groups}
}

// NewRule shapes a rule from raw configuration. A rule declaring both
// roles and groups is rejected outright rather than given a silent
// precedence, and a rule declaring neither is unusable.
func NewRule(methods, roles, groups []string) (AccessRule, error) {
	if len(methods) == 0 {
		return AccessRule{}, apperrors.Wrapf(apperrors.ErrConfiguration, "[authware.NewRule] rule has no methods")
	}
	switch {
	case len(roles) > 0 && len(groups) > 0:
		return AccessRule{}, apperrors.Wrapf(apperrors.ErrAmbiguousAccessRule, "[authware.NewRule]")
	case len(roles) > 0:
		return NewRoleRule(methods, roles), nil
	case len(groups) > 0:
		return NewGroupRule(methods, groups), nil
	default:
		return AccessRule{}, apperrors.Wrapf(apperrors.ErrConfiguration, "[authware.NewRule] rule declares neither roles nor groups")
	}
}

// Evaluate is the pure access decision: method must be listed on the rule
// and at least one caller credential must intersect the rule's allowed
// set. Membership is binary; a single match grants access.
func Evaluate(method string, rule AccessRule, credentials []string) error {
	methodAllowed := false
	for _, m := range rule.Methods {
		if m == method {
			methodAllowed = true
			break
		}
	}
	if !methodAllowed {
		return apperrors.ErrMethodNotAllowed
	}

	allowed := make(map[string]struct{}, len(rule.Allowed))
	for _, a := range rule.Allowed {
		allowed[a] = struct{}{}
	}
	for _, c := range credentials {
		if _, ok := allowed[c]; ok {
			return nil
		}
	}

	if rule.Kind == CredentialGroups {
		return apperrors.ErrUserNotInGroup
	}
	return apperrors.ErrUserNotInRole
}

// claimStrings extracts a string-list claim, tolerating both the JSON
// decoder's []any shape and the []string shape written back after overage
// resolution.
func claimStrings(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case []string:
		return v
	case []any:
		return utils.ToStringSlice(v)
	}
	return nil
}
