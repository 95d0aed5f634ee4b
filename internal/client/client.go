// Package client provides a Go client for the rankgate API.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a rankgate API client. Key is sent as a bearer token on every
// request; for the machine-key GET endpoints use the *ByKey helpers.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Key        string
}

func New(baseURL, key string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Key:        key,
	}
}

// Status reports whether the gateway is up.
func (c *Client) Status() (bool, error) {
	var resp struct {
		Online bool `json:"online"`
	}
	if err := c.do(http.MethodGet, "/api/status", nil, &resp); err != nil {
		return false, err
	}
	return resp.Online, nil
}

// Probe classifies the client's key and returns the assigned tier.
func (c *Client) Probe() (string, error) {
	var resp struct {
		Type string `json:"type"`
	}
	err := c.do(http.MethodPost, "/api/auth", map[string]string{"key": c.Key}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Type, nil
}

// Role is one group rank entry.
type Role struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

func (c *Client) Roles() ([]Role, error) {
	var roles []Role
	if err := c.do(http.MethodGet, "/api/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Promote moves the user one rank up.
func (c *Client) Promote(userID string) (string, error) {
	return c.rankChange("promote", userID, nil)
}

// Demote moves the user one rank down.
func (c *Client) Demote(userID string) (string, error) {
	return c.rankChange("demote", userID, nil)
}

// SetRank moves the user to an explicit rank.
func (c *Client) SetRank(userID string, rank int) (string, error) {
	return c.rankChange("setrank", userID, &rank)
}

func (c *Client) rankChange(action, userID string, rank *int) (string, error) {
	body := map[string]any{"userid": userID}
	if rank != nil {
		body["rank"] = *rank
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(http.MethodPost, "/api/"+action, body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// RankChangeByKey drives a rank change through the machine-key GET surface.
func (c *Client) RankChangeByKey(action, userID string, rank *int) (string, error) {
	q := url.Values{}
	q.Set("key", c.Key)
	q.Set("userid", userID)
	if rank != nil {
		q.Set("rank", fmt.Sprint(*rank))
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(http.MethodGet, "/api/"+action+"?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// PendingApproval is one unresolved secondary-IP request.
type PendingApproval struct {
	IP          string    `json:"ip"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
}

func (c *Client) PendingApprovals() ([]PendingApproval, error) {
	var resp struct {
		Pending []PendingApproval `json:"pending"`
	}
	if err := c.do(http.MethodGet, "/api/pending-approvals", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

func (c *Client) Approve(ip string) error {
	return c.do(http.MethodPost, "/api/pending-approvals/approve", map[string]string{"ip": ip}, nil)
}

func (c *Client) Reject(ip string) error {
	return c.do(http.MethodPost, "/api/pending-approvals/reject", map[string]string{"ip": ip}, nil)
}

func (c *Client) Restart() error {
	return c.do(http.MethodPost, "/api/restart", nil, nil)
}

func (c *Client) do(method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.Key)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s failed (%d): %w", method, path, resp.StatusCode, errors.New(apiErr.Error))
		}
		return fmt.Errorf("%s %s failed (%d): %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
