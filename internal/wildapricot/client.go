// Package wildapricot is a stateless wrapper around the Wild Apricot REST
// API: token exchange on the auth host, Bearer-authenticated JSON resources
// on the API host. It holds no credential state; callers supply tokens.
package wildapricot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

const (
	tokenPath      = "/auth/token"
	apiVersionPath = "/v2.2"
	contactsTop    = 100
)

// Client performs outbound HTTP calls against Wild Apricot. The embedded
// limiter keeps privileged calls inside the remote rate contract; every
// request waits on it before going out.
type Client struct {
	httpClient   *http.Client
	authBaseURL  string
	apiBaseURL   string
	clientKey    string
	clientSecret string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// Options configures a Client.
type Options struct {
	AuthBaseURL  string
	APIBaseURL   string
	ClientKey    string
	ClientSecret string
	// RequestsPerSecond bounds outbound calls; zero disables throttling.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// NewClient constructs the default Wild Apricot client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		httpClient:   httpClient,
		authBaseURL:  strings.TrimRight(opts.AuthBaseURL, "/"),
		apiBaseURL:   strings.TrimRight(opts.APIBaseURL, "/"),
		clientKey:    opts.ClientKey,
		clientSecret: opts.ClientSecret,
		limiter:      limiter,
		logger:       logger,
	}
}

// ExchangeRefreshToken trades a refresh token for a new delegated access
// token. Exactly one attempt; the credential cache owns the retry policy.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.obtainToken(ctx, "wildapricot.ExchangeRefreshToken", form)
}

// ExchangeClientCredentials performs the initial authorization, requesting a
// durable refresh token alongside the access token.
func (c *Client) ExchangeClientCredentials(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "auto")
	form.Set("obtain_refresh_token", "true")
	return c.obtainToken(ctx, "wildapricot.ExchangeClientCredentials", form)
}

func (c *Client) obtainToken(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientKey + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, c.responseError(op, resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, domain.E(domain.KindConnection, op, fmt.Errorf("decode token response: %w", err))
	}
	if token.AccessToken == "" {
		return nil, domain.Ef(domain.KindConnection, op, "token response missing access_token")
	}
	return &token, nil
}

// GetAccount loads the account resource the token is scoped to.
func (c *Client) GetAccount(ctx context.Context, accessToken string, accountID int64) (*Account, error) {
	var account Account
	path := fmt.Sprintf("/accounts/%d", accountID)
	if err := c.getJSON(ctx, "wildapricot.GetAccount", accessToken, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListMembershipLevels returns every membership level on the account.
func (c *Client) ListMembershipLevels(ctx context.Context, accessToken string, accountID int64) ([]MembershipLevel, error) {
	var levels []MembershipLevel
	path := fmt.Sprintf("/accounts/%d/membershiplevels", accountID)
	if err := c.getJSON(ctx, "wildapricot.ListMembershipLevels", accessToken, path, nil, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// ListMemberGroups returns every member group on the account.
func (c *Client) ListMemberGroups(ctx context.Context, accessToken string, accountID int64) ([]MemberGroup, error) {
	var groups []MemberGroup
	path := fmt.Sprintf("/accounts/%d/membergroups", accountID)
	if err := c.getJSON(ctx, "wildapricot.ListMemberGroups", accessToken, path, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetContact loads a single contact record.
func (c *Client) GetContact(ctx context.Context, accessToken string, accountID, contactID int64) (*Contact, error) {
	var contact Contact
	path := fmt.Sprintf("/accounts/%d/contacts/%d", accountID, contactID)
	if err := c.getJSON(ctx, "wildapricot.GetContact", accessToken, path, nil, &contact); err != nil {
		return nil, err
	}
	contact.GroupIDs = extractGroupIDs(contact.FieldValues)
	return &contact, nil
}

// ListContacts walks the paginated contacts collection until the
// server-declared total count is reached.
func (c *Client) ListContacts(ctx context.Context, accessToken string, accountID int64) ([]Contact, error) {
	const op = "wildapricot.ListContacts"
	path := fmt.Sprintf("/accounts/%d/contacts", accountID)

	var all []Contact
	skip := 0
	for {
		query := url.Values{}
		query.Set("$async", "false")
		query.Set("$skip", strconv.Itoa(skip))
		query.Set("$top", strconv.Itoa(contactsTop))

		var page contactsPage
		if err := c.getJSON(ctx, op, accessToken, path, query, &page); err != nil {
			return nil, err
		}
		for i := range page.Contacts {
			page.Contacts[i].GroupIDs = extractGroupIDs(page.Contacts[i].FieldValues)
		}
		all = append(all, page.Contacts...)

		skip += len(page.Contacts)
		if len(page.Contacts) == 0 || skip >= page.Count {
			return all, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, op, accessToken, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.E(domain.KindConnection, op, err)
	}

	endpoint := c.apiBaseURL + apiVersionPath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.E(domain.KindConnection, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.E(domain.KindConnection, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return domain.E(domain.KindConnection, op, err)
	}
	if resp.StatusCode >= 300 {
		return c.responseError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.E(domain.KindConnection, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// responseError distinguishes a well-formed error payload (response kind,
// "not currently authorized") from transport garbage (connection kind).
func (c *Client) responseError(op string, status int, body []byte) error {
	var payload apiError
	if err := json.Unmarshal(body, &payload); err == nil && payload.message() != "" {
		c.logger.Warn("wild apricot error response",
			zap.String("op", op),
			zap.Int("status", status),
			zap.String("message", payload.message()),
		)
		return domain.Ef(domain.KindResponse, op, "status %d: %s", status, payload.message())
	}
	return domain.Ef(domain.KindConnection, op, "unexpected status %d", status)
}

// extractGroupIDs pulls group participation ids out of raw contact fields.
func extractGroupIDs(fields []FieldValue) []int64 {
	for _, field := range fields {
		if !strings.EqualFold(field.FieldName, "Group participation") {
			continue
		}
		entries, ok := field.Value.([]any)
		if !ok {
			return nil
		}
		ids := make([]int64, 0, len(entries))
		for _, entry := range entries {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := obj["Id"].(float64); ok {
				ids = append(ids, int64(id))
			}
		}
		return ids
	}
	return nil
}
