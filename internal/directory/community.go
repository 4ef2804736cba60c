package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/frontiertower/towerbot/internal/config"
)

// CommunityClient talks to the community membership service. It authenticates
// with a static API key when one is configured and otherwise logs in with
// email/password and caches the access token.
type CommunityClient struct {
	baseURL  string
	apiKey   string
	email    string
	password string
	http     *http.Client

	mu    sync.Mutex
	token string
}

// NewCommunityClient creates a client from the community settings.
func NewCommunityClient(cfg config.CommunityConfig, httpClient *http.Client) *CommunityClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &CommunityClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		email:    cfg.Email,
		password: cfg.Password,
		http:     httpClient,
	}
}

type memberStatus struct {
	UserID   string `json:"user_id"`
	IsActive *bool  `json:"is_active"`
}

// IsActiveCommunityMember reports whether userID is an active member. Only an
// explicit is_active=true counts; an unknown user is not a member. Transport
// failures, rate limits and 5xx responses are ErrUnavailable.
func (c *CommunityClient) IsActiveCommunityMember(ctx context.Context, userID string) (bool, error) {
	if c.baseURL == "" {
		return false, errors.New("community: base URL not configured")
	}
	endpoint := c.baseURL + "/members/" + url.PathEscape(userID) + "/"
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.clearToken()
		return false, fmt.Errorf("community membership: unauthorized")
	case isUnavailableStatus(resp.StatusCode):
		return false, Unavailable("community membership", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("community membership: unexpected status %d", resp.StatusCode)
	}

	var st memberStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return false, fmt.Errorf("community membership: decode: %w", err)
	}
	if st.IsActive == nil {
		return false, errors.New("community membership: response has no is_active field")
	}
	return *st.IsActive, nil
}

// Communities returns the raw community listing.
func (c *CommunityClient) Communities(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.get(ctx, c.baseURL+"/communities/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.clearToken()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("community communities: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("community communities: read: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (c *CommunityClient) get(ctx context.Context, endpoint string) (*http.Response, error) {
	auth, err := c.authorization(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("community: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Unavailable("community", err)
	}
	return resp, nil
}

func (c *CommunityClient) authorization(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return "Api-Key " + c.apiKey, nil
	}
	if c.email == "" {
		return "", nil
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return "Bearer " + token, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return "Bearer " + token, nil
}

func (c *CommunityClient) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("community login: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", Unavailable("community login", err)
	}
	defer resp.Body.Close()
	if isUnavailableStatus(resp.StatusCode) {
		return "", Unavailable("community login", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("community login: status %d", resp.StatusCode)
	}
	var out struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("community login: decode: %w", err)
	}
	if out.Access == "" {
		return "", errors.New("community login: no access token in response")
	}
	return out.Access, nil
}

func (c *CommunityClient) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func isUnavailableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}
