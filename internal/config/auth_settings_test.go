package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-webapp-auth/internal/config"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAuthSettings(t *testing.T) {
	path := writeSettings(t, `
authority: https://login.example.com/tenant/v2.0
client_id: client-id
client_secret: client-secret
directory:
  base_url: https://graph.example.com/v1.0
  read_scope: Directory.Read
protected_resources:
  graph:
    endpoint: https://graph.example.com/v1.0/me
    scopes: [User.Read]
api_audiences:
  /api/reports: api://reports
access_matrix:
  admin:
    path: /admin
    methods: [GET, POST]
    groups: [group-1]
`)

	settings, err := config.LoadAuthSettings(path)
	require.NoError(t, err)
	require.Equal(t, "https://login.example.com/tenant/v2.0", settings.GetAuthority())
	require.Equal(t, "/auth/redirect", settings.GetRedirectPath(), "defaults are applied")
	require.Equal(t, []string{"openid", "profile"}, settings.GetScopes())
	require.Equal(t, "Directory.Read", settings.GetDirectoryReadScope())
	require.Equal(t, []string{"User.Read"}, settings.GetProtectedResources()["graph"].Scopes)
	require.Equal(t, "api://reports", settings.GetAPIAudiences()["/api/reports"])
	require.Equal(t, []string{"group-1"}, settings.GetAccessMatrix()["admin"].Groups)
}

func TestLoadAuthSettingsValidation(t *testing.T) {
	t.Run("missing authority", func(t *testing.T) {
		path := writeSettings(t, "client_id: client-id\n")
		_, err := config.LoadAuthSettings(path)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("rule with both roles and groups", func(t *testing.T) {
		path := writeSettings(t, `
authority: https://login.example.com/tenant/v2.0
client_id: client-id
access_matrix:
  ambiguous:
    path: /admin
    methods: [GET]
    roles: [admin]
    groups: [group-1]
`)
		_, err := config.LoadAuthSettings(path)
		require.ErrorIs(t, err, apperrors.ErrAmbiguousAccessRule)
	})

	t.Run("rule without methods", func(t *testing.T) {
		path := writeSettings(t, `
authority: https://login.example.com/tenant/v2.0
client_id: client-id
access_matrix:
  nomethods:
    path: /admin
    roles: [admin]
`)
		_, err := config.LoadAuthSettings(path)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("rule with neither roles nor groups", func(t *testing.T) {
		path := writeSettings(t, `
authority: https://login.example.com/tenant/v2.0
client_id: client-id
access_matrix:
  empty:
    path: /admin
    methods: [GET]
`)
		_, err := config.LoadAuthSettings(path)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadAuthSettings(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeSettings(t, "authority: [unclosed\n")
		_, err := config.LoadAuthSettings(path)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})
}
