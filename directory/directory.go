// Package directory fetches a user's group memberships from a Graph-style
// directory service. It exists for claims overage: when the identity token
// omits group claims above the provider's size threshold, the middleware
// substitutes a directory query, following pagination to completion before
// any access decision is made.
package directory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/pkg/errors"
)

// MembershipPage is one page of a membership listing. NextLink is empty on
// the final page.
type MembershipPage struct {
	Items    []string
	NextLink string
}

// Client lists the calling user's group memberships.
type Client interface {
	ListMemberships(ctx context.Context, accessToken string) (*MembershipPage, error)
	FollowPagination(ctx context.Context, accessToken, link string) ([]string, error)
}

// GraphClient implements Client against a Graph-style REST endpoint.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*GraphClient)(nil)

// GraphClientOption defines a function type to modify the GraphClient instance.
type GraphClientOption func(*GraphClient)

// WithHTTPClient sets the HTTP client used for directory calls.
func WithHTTPClient(hc *http.Client) GraphClientOption {
	return func(c *GraphClient) {
		c.httpClient = hc
	}
}

// NewGraphClient creates a directory client rooted at baseURL
// (e.g. "https://graph.microsoft.com/v1.0").
func NewGraphClient(baseURL string, options ...GraphClientOption) (*GraphClient, error) {
	if baseURL == "" {
		return nil, errors.New("[NewGraphClient] baseURL is required")
	}
	c := &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// ListMemberships fetches the first page of the calling user's group
// memberships.
func (c *GraphClient) ListMemberships(ctx context.Context, accessToken string) (*MembershipPage, error) {
	return c.fetchPage(ctx, accessToken, c.baseURL+"/me/memberOf")
}

// FollowPagination walks the next-page links from link to exhaustion and
// returns every item found. Partial results are never returned: any page
// failure fails the whole walk.
func (c *GraphClient) FollowPagination(ctx context.Context, accessToken, link string) ([]string, error) {
	var items []string
	for link != "" {
		page, err := c.fetchPage(ctx, accessToken, link)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		link = page.NextLink
	}
	return items, nil
}

func (c *GraphClient) fetchPage(ctx context.Context, accessToken, pageURL string) (*MembershipPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[GraphClient.fetchPage] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrDirectoryLookup, "[GraphClient.fetchPage] %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.Wrapf(apperrors.ErrDirectoryLookup, "[GraphClient.fetchPage] directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
		NextLink string `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrDirectoryLookup, "[GraphClient.fetchPage] decode response: %v", err)
	}

	page := &MembershipPage{NextLink: payload.NextLink}
	for _, v := range payload.Value {
		page.Items = append(page.Items, v.ID)
	}
	return page, nil
}
