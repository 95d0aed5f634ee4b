// Package roblox is a minimal client for the Roblox group, user, and
// thumbnail APIs, covering only what the gateway needs.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rankgate/rankgate/internal/model"
	"github.com/rankgate/rankgate/internal/ranker"
)

type Client struct {
	HTTPClient *http.Client

	// Base URLs are fields so tests can point at a fake server.
	GroupsURL     string
	UsersURL      string
	ThumbnailsURL string

	GroupID int64

	cookie string

	mu   sync.Mutex
	csrf string
}

// AuthenticatedUser is the account the gateway operates as.
type AuthenticatedUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func New(cookie string, groupID int64) *Client {
	return &Client{
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		GroupsURL:     "https://groups.roblox.com",
		UsersURL:      "https://users.roblox.com",
		ThumbnailsURL: "https://thumbnails.roblox.com",
		GroupID:       groupID,
		cookie:        cookie,
	}
}

// Authenticate verifies the session cookie against the users API. The
// gateway cannot function without a valid session, so callers treat a
// failure here as fatal.
func (c *Client) Authenticate(ctx context.Context) (AuthenticatedUser, error) {
	var user AuthenticatedUser
	err := c.doJSON(ctx, http.MethodGet, c.UsersURL+"/v1/users/authenticated", nil, &user)
	if err != nil {
		return AuthenticatedUser{}, err
	}
	return user, nil
}

// Roles returns the group's roles in ascending rank order.
func (c *Client) Roles(ctx context.Context) ([]model.Role, error) {
	var resp struct {
		Roles []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Rank int    `json:"rank"`
		} `json:"roles"`
	}
	url := fmt.Sprintf("%s/v1/groups/%d/roles", c.GroupsURL, c.GroupID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	roles := make([]model.Role, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		roles = append(roles, model.Role{ID: r.ID, Rank: r.Rank, Name: r.Name})
	}
	return roles, nil
}

// GroupRole returns the user's role in the configured group. A user who is
// not a member gets the zero role (rank 0, "Guest").
func (c *Client) GroupRole(ctx context.Context, userID int64) (model.Role, error) {
	var resp struct {
		Data []struct {
			Group struct {
				ID int64 `json:"id"`
			} `json:"group"`
			Role struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
				Rank int    `json:"rank"`
			} `json:"role"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/v1/users/%d/groups/roles", c.GroupsURL, userID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return model.Role{}, err
	}
	for _, d := range resp.Data {
		if d.Group.ID == c.GroupID {
			return model.Role{ID: d.Role.ID, Rank: d.Role.Rank, Name: d.Role.Name}, nil
		}
	}
	return model.Role{Name: "Guest"}, nil
}

// SetRole moves the user to the given role in the group.
func (c *Client) SetRole(ctx context.Context, userID, roleID int64) error {
	url := fmt.Sprintf("%s/v1/groups/%d/users/%d", c.GroupsURL, c.GroupID, userID)
	body := map[string]int64{"roleId": roleID}
	return c.doJSON(ctx, http.MethodPatch, url, body, nil)
}

// IDFromUsername resolves a username to a user id.
func (c *Client) IDFromUsername(ctx context.Context, username string) (int64, error) {
	var resp struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	body := map[string]any{"usernames": []string{username}, "excludeBannedUsers": false}
	if err := c.doJSON(ctx, http.MethodPost, c.UsersURL+"/v1/usernames/users", body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("%w: no user named %q", ranker.ErrUnknownUser, username)
	}
	return resp.Data[0].ID, nil
}

// UsernameFromID resolves a user id to its current username.
func (c *Client) UsernameFromID(ctx context.Context, userID int64) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	url := fmt.Sprintf("%s/v1/users/%d", c.UsersURL, userID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// Headshot returns the user's avatar headshot URL, or "" when the
// thumbnail is not ready.
func (c *Client) Headshot(ctx context.Context, userID int64) (string, error) {
	var resp struct {
		Data []struct {
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/v1/users/avatar-headshot?userIds=%d&size=150x150&format=Png&isCircular=true", c.ThumbnailsURL, userID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ImageURL, nil
}

// doJSON performs a request with the session cookie, decoding a JSON
// response into out when out is non-nil. Mutating requests need an
// X-CSRF-TOKEN; Roblox hands the token back on a 403 challenge, so those
// are retried once with the fresh token.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.do(ctx, method, url, body, c.csrfToken())
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusForbidden {
		if token := resp.Header.Get("X-Csrf-Token"); token != "" {
			drain(resp)
			c.setCSRFToken(token)
			resp, err = c.do(ctx, method, url, body, token)
			if err != nil {
				return err
			}
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s failed (%d): %s", method, url, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", url, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body any, csrf string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
	}
	if csrf != "" {
		req.Header.Set("X-Csrf-Token", csrf)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) csrfToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

func (c *Client) setCSRFToken(token string) {
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
