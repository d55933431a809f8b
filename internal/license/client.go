package license

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// Info is the licensing service response. Field names follow the remote
// payload verbatim, spaces included.
type Info struct {
	Products                []string `json:"Products"`
	SupportLevel            string   `json:"Support Level"`
	ExpirationDate          string   `json:"expiration date"`
	LicensedURLs            []string `json:"Licensed URLs"`
	LicensedWildApricotURLs []string `json:"Licensed Wild Apricot URLs"`
	LicensedAccountIDs      []int64  `json:"Licensed Wild Apricot Account IDs"`
	Error                   string   `json:"error"`
}

// Checker validates a key against the licensing service.
type Checker interface {
	Check(ctx context.Context, key string) (*Info, error)
}

// HTTPChecker is the default Checker: a single POST of {key, json:1}.
type HTTPChecker struct {
	endpoint   string
	httpClient *http.Client
}

var _ Checker = (*HTTPChecker)(nil)

// NewHTTPChecker constructs a checker against the given endpoint.
func NewHTTPChecker(endpoint string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPChecker{endpoint: endpoint, httpClient: client}
}

// Check posts the key and decodes the license payload. Transport failures are
// connection kind; a well-formed payload is returned as-is, error field and
// all, for the validator to interpret.
func (c *HTTPChecker) Check(ctx context.Context, key string) (*Info, error) {
	const op = "license.Check"

	form := url.Values{}
	form.Set("key", key)
	form.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}
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
		return nil, domain.Ef(domain.KindConnection, op, "unexpected status %d", resp.StatusCode)
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, domain.E(domain.KindConnection, op, err)
	}
	return &info, nil
}
