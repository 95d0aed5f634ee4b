package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rankgate/rankgate/internal/ranker"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New("test-cookie", 777)
	c.GroupsURL = ts.URL
	c.UsersURL = ts.URL
	c.ThumbnailsURL = ts.URL
	return c, ts
}

func TestRoles(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/groups/777/roles" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"roles": []map[string]any{
				{"id": 1, "name": "Guest", "rank": 0},
				{"id": 2, "name": "Member", "rank": 10},
			},
		})
	}))

	roles, err := c.Roles(context.Background())
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != 2 || roles[1].Rank != 10 || roles[1].Name != "Member" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
}

func TestGroupRole(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"group": map[string]any{"id": 123},
					"role":  map[string]any{"id": 9, "name": "Elsewhere", "rank": 255},
				},
				{
					"group": map[string]any{"id": 777},
					"role":  map[string]any{"id": 3, "name": "Officer", "rank": 50},
				},
			},
		})
	}))

	role, err := c.GroupRole(context.Background(), 42)
	if err != nil {
		t.Fatalf("group role: %v", err)
	}
	if role.Rank != 50 || role.Name != "Officer" {
		t.Fatalf("unexpected role: %+v", role)
	}
}

func TestGroupRoleNonMember(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))

	role, err := c.GroupRole(context.Background(), 42)
	if err != nil {
		t.Fatalf("group role: %v", err)
	}
	if role.Rank != 0 || role.Name != "Guest" {
		t.Fatalf("expected guest role, got %+v", role)
	}
}

func TestSetRoleCSRFRetry(t *testing.T) {
	var attempts int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("X-Csrf-Token") == "" {
			w.Header().Set("X-Csrf-Token", "fresh-token")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		var body map[string]int64
		json.NewDecoder(r.Body).Decode(&body)
		if body["roleId"] != 3 {
			t.Errorf("unexpected roleId %d", body["roleId"])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))

	if err := c.SetRole(context.Background(), 42, 3); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected a csrf retry, got %d attempts", attempts)
	}

	// The token is cached for the next call.
	attempts = 0
	if err := c.SetRole(context.Background(), 42, 3); err != nil {
		t.Fatalf("second set role: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected cached token to be reused, got %d attempts", attempts)
	}
}

func TestIDFromUsername(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usernames/users" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Usernames []string `json:"usernames"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Usernames) != 1 || req.Usernames[0] != "builderman" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": 42}},
		})
	}))

	id, err := c.IDFromUsername(context.Background(), "builderman")
	if err != nil {
		t.Fatalf("id from username: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
}

func TestIDFromUnknownUsername(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))

	_, err := c.IDFromUsername(context.Background(), "nobody")
	if !errors.Is(err, ranker.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestAuthenticateSendsCookie(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(".ROBLOSECURITY")
		if err != nil || cookie.Value != "test-cookie" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":[{"message":"unauthorized"}]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "gatebot"})
	}))

	user, err := c.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.ID != 7 || user.Name != "gatebot" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUpstreamErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
	}))

	if _, err := c.Roles(context.Background()); err == nil {
		t.Fatal("expected error from 500 response")
	}
}
