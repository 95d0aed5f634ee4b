package ranker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rankgate/rankgate/internal/model"
)

// fakeAPI is an in-memory GroupAPI with call counters so tests can assert
// which external calls were (not) made.
type fakeAPI struct {
	roles    []model.Role
	ranks    map[int64]int
	names    map[int64]string
	ids      map[string]int64
	setCalls int
	calls    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		roles: []model.Role{
			{ID: 1, Rank: 0, Name: "Guest"},
			{ID: 2, Rank: 10, Name: "Member"},
			{ID: 3, Rank: 50, Name: "Officer"},
			{ID: 4, Rank: 100, Name: "Owner"},
		},
		ranks: map[int64]int{},
		names: map[int64]string{42: "builderman"},
		ids:   map[string]int64{"builderman": 42},
	}
}

func (f *fakeAPI) Roles(context.Context) ([]model.Role, error) {
	f.calls++
	return f.roles, nil
}

func (f *fakeAPI) GroupRole(_ context.Context, userID int64) (model.Role, error) {
	f.calls++
	rank := f.ranks[userID]
	for _, r := range f.roles {
		if r.Rank == rank {
			return r, nil
		}
	}
	return model.Role{}, fmt.Errorf("no role for rank %d", rank)
}

func (f *fakeAPI) SetRole(_ context.Context, userID, roleID int64) error {
	f.calls++
	f.setCalls++
	for _, r := range f.roles {
		if r.ID == roleID {
			f.ranks[userID] = r.Rank
			return nil
		}
	}
	return fmt.Errorf("unknown role %d", roleID)
}

func (f *fakeAPI) IDFromUsername(_ context.Context, username string) (int64, error) {
	f.calls++
	id, ok := f.ids[username]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, username)
	}
	return id, nil
}

func (f *fakeAPI) UsernameFromID(_ context.Context, userID int64) (string, error) {
	f.calls++
	return f.names[userID], nil
}

func (f *fakeAPI) Headshot(_ context.Context, userID int64) (string, error) {
	f.calls++
	return fmt.Sprintf("https://cdn.example/%d.png", userID), nil
}

func intPtr(n int) *int { return &n }

func TestPromoteDemoteBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		current  int
		action   string
		wantRank int
		wantErr  error
	}{
		{"promote from middle", 10, ActionPromote, 50, nil},
		{"demote from middle", 10, ActionDemote, 0, nil},
		{"promote at top", 100, ActionPromote, 0, ErrNoTransition},
		{"demote at bottom", 0, ActionDemote, 0, ErrNoTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.ranks[42] = tc.current
			svc := New(api, nil)

			result, err := svc.ChangeRank(context.Background(), Request{
				Tier:   model.TierMaintainer,
				Action: tc.action,
				Target: "42",
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("change rank: %v", err)
			}
			if result.NewRank != tc.wantRank {
				t.Fatalf("expected rank %d, got %d", tc.wantRank, result.NewRank)
			}
			if api.ranks[42] != tc.wantRank {
				t.Fatalf("rank not applied upstream: %d", api.ranks[42])
			}
		})
	}
}

func TestSetRank(t *testing.T) {
	api := newFakeAPI()
	api.ranks[42] = 10
	svc := New(api, nil)

	result, err := svc.ChangeRank(context.Background(), Request{
		Tier:         model.TierMaintainer,
		Action:       ActionSetRank,
		Target:       "42",
		ExplicitRank: intPtr(100),
	})
	if err != nil {
		t.Fatalf("setrank: %v", err)
	}
	if result.NewRank != 100 || result.RoleName != "Owner" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSetRankRequiresRank(t *testing.T) {
	api := newFakeAPI()
	svc := New(api, nil)

	_, err := svc.ChangeRank(context.Background(), Request{
		Tier:   model.TierMaintainer,
		Action: ActionSetRank,
		Target: "42",
	})
	if !errors.Is(err, ErrRankRequired) {
		t.Fatalf("expected ErrRankRequired, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("expected no external calls, got %d", api.calls)
	}
}

func TestSetRankUnknownRank(t *testing.T) {
	api := newFakeAPI()
	api.ranks[42] = 10
	svc := New(api, nil)

	_, err := svc.ChangeRank(context.Background(), Request{
		Tier:         model.TierMaintainer,
		Action:       ActionSetRank,
		Target:       "42",
		ExplicitRank: intPtr(77),
	})
	if !errors.Is(err, ErrNoTransition) {
		t.Fatalf("expected ErrNoTransition, got %v", err)
	}
}

func TestNoOpSkipsMutation(t *testing.T) {
	api := newFakeAPI()
	api.ranks[42] = 50
	svc := New(api, nil)

	result, err := svc.ChangeRank(context.Background(), Request{
		Tier:         model.TierMaintainer,
		Action:       ActionSetRank,
		Target:       "42",
		ExplicitRank: intPtr(50),
	})
	if err != nil {
		t.Fatalf("setrank: %v", err)
	}
	if !result.NoOp {
		t.Fatal("expected a no-op result")
	}
	if api.setCalls != 0 {
		t.Fatalf("no-op must not call SetRole, got %d calls", api.setCalls)
	}
}

func TestSpectatorCannotMutate(t *testing.T) {
	api := newFakeAPI()
	svc := New(api, nil)

	for _, action := range []string{ActionPromote, ActionDemote, ActionSetRank} {
		_, err := svc.ChangeRank(context.Background(), Request{
			Tier:         model.TierSpectator,
			Action:       action,
			Target:       "42",
			ExplicitRank: intPtr(10),
		})
		if !errors.Is(err, ErrReadOnlyTier) {
			t.Fatalf("%s: expected ErrReadOnlyTier, got %v", action, err)
		}
	}
	if api.calls != 0 {
		t.Fatalf("spectator rejection must precede external calls, got %d", api.calls)
	}
}

func TestResolveUserByName(t *testing.T) {
	api := newFakeAPI()
	api.ranks[42] = 10
	svc := New(api, nil)

	result, err := svc.ChangeRank(context.Background(), Request{
		Tier:   model.TierMaintainer,
		Action: ActionPromote,
		Target: "builderman",
	})
	if err != nil {
		t.Fatalf("promote by name: %v", err)
	}
	if result.UserID != 42 || result.Username != "builderman" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUnknownUsernameSurfacesSentinel(t *testing.T) {
	api := newFakeAPI()
	svc := New(api, nil)

	_, err := svc.ChangeRank(context.Background(), Request{
		Tier:   model.TierMaintainer,
		Action: ActionPromote,
		Target: "nobody",
	})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}

	if _, err := svc.UserInfo(context.Background(), "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser from user info, got %v", err)
	}
}

func TestUserInfo(t *testing.T) {
	api := newFakeAPI()
	api.ranks[42] = 50
	svc := New(api, nil)

	info, err := svc.UserInfo(context.Background(), "builderman")
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if info.UserID != 42 || info.Rank != "Officer" || info.HeadshotURL == "" {
		t.Fatalf("unexpected info: %+v", info)
	}
}
