package directory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-webapp-auth/directory"
	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func membership(ids ...string) []map[string]string {
	out := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]string{"id": id, "displayName": "Group " + id})
	}
	return out
}

func TestListMembershipsAndPagination(t *testing.T) {
	ctx := context.Background()

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer directory-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/me/memberOf":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value":           membership("g1", "g2"),
				"@odata.nextLink": ts.URL + "/page2",
			})
		case "/page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value":           membership("g3"),
				"@odata.nextLink": ts.URL + "/page3",
			})
		case "/page3":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": membership("g4"),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c, err := directory.NewGraphClient(ts.URL)
	require.NoError(t, err)

	page, err := c.ListMemberships(ctx, "directory-token")
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, page.Items)
	require.NotEmpty(t, page.NextLink)

	rest, err := c.FollowPagination(ctx, "directory-token", page.NextLink)
	require.NoError(t, err)
	require.Equal(t, []string{"g3", "g4"}, rest)
}

func TestDirectoryFailuresPropagate(t *testing.T) {
	ctx := context.Background()

	t.Run("non-200 response", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
		}))
		defer ts.Close()

		c, err := directory.NewGraphClient(ts.URL)
		require.NoError(t, err)

		_, err = c.ListMemberships(ctx, "bad-token")
		require.ErrorIs(t, err, apperrors.ErrDirectoryLookup)
	})

	t.Run("failure mid-pagination returns nothing", func(t *testing.T) {
		var ts *httptest.Server
		ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/page2" {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value":           membership("g1"),
				"@odata.nextLink": ts.URL + "/page2",
			})
		}))
		defer ts.Close()

		c, err := directory.NewGraphClient(ts.URL)
		require.NoError(t, err)

		items, err := c.FollowPagination(ctx, "tok", ts.URL+"/")
		require.ErrorIs(t, err, apperrors.ErrDirectoryLookup)
		require.Nil(t, items)
	})

	t.Run("base url is required", func(t *testing.T) {
		_, err := directory.NewGraphClient("")
		require.Error(t, err)
	})
}
