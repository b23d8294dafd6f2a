// Package agentapi is the typed HTTP client for the agent contract
// consumed by the lifecycle coordinator and the deployment orchestrator
// (spec A5, §6 "Agent HTTP contract"): login, password rotation, health,
// status, and update negotiation.
//
// Grounded on original_source/ciris_manager/manager.py's
// _set_agent_admin_password for the exact login-then-bearer-PUT call
// order. There is no general-purpose typed HTTP client dependency
// anywhere in the example pack (no resty/req/go-http-client import in
// any of the five complete repos), so this package uses stdlib net/http
// directly — the corpus norm, not a gap.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// DefaultAdminUsername and DefaultAdminPassword are the credentials
// every freshly created agent ships with, per the original manager's
// login sequence; lifecycle immediately rotates the password afterward.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "ciris_admin_password"
)

// Client talks to one agent's HTTP API. A fresh Client is constructed
// per call site (base URL varies per agent/host) rather than cached,
// since the underlying http.Client is cheap and stateless here and the
// set of agents changes far more often than the set of Docker hosts
// dockerfacade caches clients for.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a Client for the agent reachable at baseURL (e.g.
// "http://localhost:8091" for a local agent or "http://10.0.1.5:8091"
// for a remote one).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// LoginResult is the response to POST /v1/auth/login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

// Login authenticates with username/password and returns the bearer
// token and admin user ID needed for subsequent authenticated calls.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return LoginResult{}, fmt.Errorf("agentapi: marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("agentapi: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LoginResult{}, fmt.Errorf("agentapi: login request to %q: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LoginResult{}, fmt.Errorf("agentapi: login failed: %s", describeStatus(resp))
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LoginResult{}, fmt.Errorf("agentapi: decode login response: %w", err)
	}
	if result.AccessToken == "" || result.UserID == "" {
		return LoginResult{}, fmt.Errorf("agentapi: invalid login response: missing access_token or user_id")
	}
	return result, nil
}

// SetPassword sets newPassword for userID using bearerToken, the bearer
// token returned by Login. currentPassword must match the agent's
// existing password.
func (c *Client) SetPassword(ctx context.Context, userID, bearerToken, currentPassword, newPassword string) error {
	body, err := json.Marshal(map[string]string{
		"current_password": currentPassword,
		"new_password":     newPassword,
	})
	if err != nil {
		return fmt.Errorf("agentapi: marshal password request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/users/%s/password", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agentapi: build password request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agentapi: password request to %q: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agentapi: password change failed: %s", describeStatus(resp))
	}
	return nil
}

// RotateAdminPassword runs the full login-then-rotate sequence: log in
// with the agent's default credentials, then set newPassword, returning
// the admin user ID for callers that want to keep using the session.
func (c *Client) RotateAdminPassword(ctx context.Context, newPassword string) (string, error) {
	login, err := c.Login(ctx, DefaultAdminUsername, DefaultAdminPassword)
	if err != nil {
		return "", err
	}
	if err := c.SetPassword(ctx, login.UserID, login.AccessToken, DefaultAdminPassword, newPassword); err != nil {
		return "", err
	}
	return login.UserID, nil
}

// Health checks GET /v1/system/health, returning nil if the agent
// responds 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/system/health", nil)
	if err != nil {
		return fmt.Errorf("agentapi: build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agentapi: health request to %q: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agentapi: unhealthy: %s", describeStatus(resp))
	}
	return nil
}

// Status fetches the agent's current cognitive state and version info,
// polled by the deployment orchestrator's canary health gate.
func (c *Client) Status(ctx context.Context) (models.AgentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/system/status", nil)
	if err != nil {
		return models.AgentStatus{}, fmt.Errorf("agentapi: build status request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.AgentStatus{}, fmt.Errorf("agentapi: status request to %q: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.AgentStatus{}, fmt.Errorf("agentapi: status failed: %s", describeStatus(resp))
	}

	var status models.AgentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return models.AgentStatus{}, fmt.Errorf("agentapi: decode status response: %w", err)
	}
	return status, nil
}

// updateNotificationPath is provisional: spec §6 leaves the exact path
// implementation-defined. This manager fixes it as
// POST /v1/system/update-notification, documented in DESIGN.md's
// Open Question decisions.
const updateNotificationPath = "/v1/system/update-notification"

// OfferUpdate sends the change-request described in spec §4.8 step 2:
// "new image X is available; will you accept?" A non-200 response or a
// context deadline is treated as DecisionReject by the caller (this
// function returns the transport error; the orchestrator maps timeout
// and reject identically per spec §4.8).
func (c *Client) OfferUpdate(ctx context.Context, newImage string) (models.UpdateDecision, error) {
	body, err := json.Marshal(map[string]string{"image": newImage})
	if err != nil {
		return "", fmt.Errorf("agentapi: marshal update-notification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+updateNotificationPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("agentapi: build update-notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agentapi: update-notification request to %q: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agentapi: update-notification failed: %s", describeStatus(resp))
	}

	var decision struct {
		Decision models.UpdateDecision `json:"decision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return "", fmt.Errorf("agentapi: decode update-notification response: %w", err)
	}
	switch decision.Decision {
	case models.DecisionAccept, models.DecisionDefer, models.DecisionReject:
		return decision.Decision, nil
	default:
		return "", fmt.Errorf("agentapi: unrecognized decision %q", decision.Decision)
	}
}

func describeStatus(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Sprintf("%d %s: %s", resp.StatusCode, resp.Status, string(body))
}
