package config

import (
	"fmt"
	"os"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"gopkg.in/yaml.v3"
)

// AuthConfig exposes the identity-provider and access-control settings
// loaded from the YAML settings file.
type AuthConfig interface {
	GetAuthority() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectPath() string
	GetPostLogoutRedirectPath() string
	GetUnauthorizedPath() string
	GetErrorPath() string
	GetScopes() []string
	GetDirectoryBaseURL() string
	GetDirectoryReadScope() string
	GetCookieHashKey() string
	GetCookieBlockKey() string
	GetProtectedResources() map[string]ProtectedResource
	GetAPIAudiences() map[string]string
	GetAccessMatrix() map[string]RouteRule
}

// ProtectedResource describes a downstream API called on the user's
// behalf.
type ProtectedResource struct {
	Endpoint string   `yaml:"endpoint"`
	Scopes   []string `yaml:"scopes"`
}

// RouteRule is the raw declarative access rule for one route. Exactly one
// of Roles or Groups must be set; that choice is fixed at load time.
type RouteRule struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
	Roles   []string `yaml:"roles"`
	Groups  []string `yaml:"groups"`
}

// AuthSettings is the YAML settings file.
type AuthSettings struct {
	Authority              string                       `yaml:"authority"`
	ClientID               string                       `yaml:"client_id"`
	ClientSecret           string                       `yaml:"client_secret"`
	RedirectPath           string                       `yaml:"redirect_path"`
	PostLogoutRedirectPath string                       `yaml:"post_logout_redirect_path"`
	UnauthorizedPath       string                       `yaml:"unauthorized_path"`
	ErrorPath              string                       `yaml:"error_path"`
	Scopes                 []string                     `yaml:"scopes"`
	Directory              directorySettings            `yaml:"directory"`
	Cookie                 cookieSettings               `yaml:"cookie"`
	ProtectedResources     map[string]ProtectedResource `yaml:"protected_resources"`
	APIAudiences           map[string]string            `yaml:"api_audiences"`
	AccessMatrix           map[string]RouteRule         `yaml:"access_matrix"`
}

type directorySettings struct {
	BaseURL   string `yaml:"base_url"`
	ReadScope string `yaml:"read_scope"`
}

type cookieSettings struct {
	HashKey  string `yaml:"hash_key"`
	BlockKey string `yaml:"block_key"`
}

var _ AuthConfig = (*AuthSettings)(nil)

// LoadAuthSettings reads and validates the settings file.
func LoadAuthSettings(path string) (*AuthSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfiguration, "[LoadAuthSettings] read %q: %v", path, err)
	}

	var settings AuthSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfiguration, "[LoadAuthSettings] parse %q: %v", path, err)
	}

	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *AuthSettings) applyDefaults() {
	if s.RedirectPath == "" {
		s.RedirectPath = "/auth/redirect"
	}
	if s.PostLogoutRedirectPath == "" {
		s.PostLogoutRedirectPath = "/"
	}
	if s.UnauthorizedPath == "" {
		s.UnauthorizedPath = "/unauthorized"
	}
	if s.ErrorPath == "" {
		s.ErrorPath = "/error"
	}
	if len(s.Scopes) == 0 {
		s.Scopes = []string{"openid", "profile"}
	}
}

// Validate enforces the invariants the request path depends on. In
// particular, a route rule declaring both roles and groups is rejected
// here rather than resolved by a silent precedence at request time.
func (s *AuthSettings) Validate() error {
	if s.Authority == "" {
		return apperrors.Wrapf(apperrors.ErrConfiguration, "[AuthSettings.Validate] authority is required")
	}
	if s.ClientID == "" {
		return apperrors.Wrapf(apperrors.ErrConfiguration, "[AuthSettings.Validate] client_id is required")
	}

	for name, rule := range s.AccessMatrix {
		if rule.Path == "" {
			return apperrors.Wrapf(apperrors.ErrConfiguration, "[AuthSettings.Validate] access rule %q has no path", name)
		}
		if len(rule.Methods) == 0 {
			return apperrors.Wrapf(apperrors.ErrConfiguration, "[AuthSettings.Validate] access rule %q has no methods", name)
		}
		if len(rule.Roles) > 0 && len(rule.Groups) > 0 {
			return fmt.Errorf("[AuthSettings.Validate] access rule %q: %w", name, apperrors.ErrAmbiguousAccessRule)
		}
		if len(rule.Roles) == 0 && len(rule.Groups) == 0 {
			return apperrors.Wrapf(apperrors.ErrConfiguration, "[AuthSettings.Validate] access rule %q declares neither roles nor groups", name)
		}
	}
	return nil
}

func (s *AuthSettings) GetAuthority() string              { return s.Authority }
func (s *AuthSettings) GetClientID() string               { return s.ClientID }
func (s *AuthSettings) GetClientSecret() string           { return s.ClientSecret }
func (s *AuthSettings) GetRedirectPath() string           { return s.RedirectPath }
func (s *AuthSettings) GetPostLogoutRedirectPath() string { return s.PostLogoutRedirectPath }
func (s *AuthSettings) GetUnauthorizedPath() string       { return s.UnauthorizedPath }
func (s *AuthSettings) GetErrorPath() string              { return s.ErrorPath }
func (s *AuthSettings) GetScopes() []string               { return s.Scopes }
func (s *AuthSettings) GetDirectoryBaseURL() string       { return s.Directory.BaseURL }
func (s *AuthSettings) GetDirectoryReadScope() string     { return s.Directory.ReadScope }
func (s *AuthSettings) GetCookieHashKey() string          { return s.Cookie.HashKey }
func (s *AuthSettings) GetCookieBlockKey() string         { return s.Cookie.BlockKey }

func (s *AuthSettings) GetProtectedResources() map[string]ProtectedResource {
	return s.ProtectedResources
}

func (s *AuthSettings) GetAPIAudiences() map[string]string {
	return s.APIAudiences
}

func (s *AuthSettings) GetAccessMatrix() map[string]RouteRule {
	return s.AccessMatrix
}
