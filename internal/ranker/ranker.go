package ranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rankgate/rankgate/internal/audit"
	"github.com/rankgate/rankgate/internal/model"

	"github.com/google/uuid"
)

const (
	ActionPromote = "promote"
	ActionDemote  = "demote"
	ActionSetRank = "setrank"
)

var (
	ErrReadOnlyTier = errors.New("tier cannot change ranks")
	ErrNoTransition = errors.New("no eligible rank transition")
	ErrRankRequired = errors.New("rank required")
	ErrUnknownUser  = errors.New("unknown user")
)

// GroupAPI is the external group service the orchestrator drives. The
// production implementation is roblox.Client. IDFromUsername returns an
// error wrapping ErrUnknownUser when no such username exists, so callers
// can tell a bad target from a broken upstream.
type GroupAPI interface {
	Roles(ctx context.Context) ([]model.Role, error)
	GroupRole(ctx context.Context, userID int64) (model.Role, error)
	SetRole(ctx context.Context, userID, roleID int64) error
	IDFromUsername(ctx context.Context, username string) (int64, error)
	UsernameFromID(ctx context.Context, userID int64) (string, error)
	Headshot(ctx context.Context, userID int64) (string, error)
}

type Service struct {
	api   GroupAPI
	audit audit.Sink
}

func New(api GroupAPI, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{api: api, audit: sink}
}

// Request describes one rank-change attempt.
type Request struct {
	Tier         model.Tier
	Action       string
	Target       string
	ExplicitRank *int
	CallerIP     string
}

type Result struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Action   string `json:"action"`
	OldRank  int    `json:"old_rank"`
	NewRank  int    `json:"new_rank"`
	RoleName string `json:"role_name"`
	NoOp     bool   `json:"no_op"`
}

// ChangeRank resolves the target user, picks the destination role for the
// action, and applies it through the group API.
//
// When the destination rank equals the user's current rank the mutation is
// skipped and the call reports success; this no-op short-circuit applies
// uniformly to all three actions.
func (s *Service) ChangeRank(ctx context.Context, req Request) (Result, error) {
	if !req.Tier.CanChangeRanks() {
		return Result{}, ErrReadOnlyTier
	}
	if req.Action == ActionSetRank && req.ExplicitRank == nil {
		return Result{}, ErrRankRequired
	}

	userID, err := s.ResolveUser(ctx, req.Target)
	if err != nil {
		return Result{}, err
	}

	current, err := s.api.GroupRole(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	roles, err := s.api.Roles(ctx)
	if err != nil {
		return Result{}, err
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Rank < roles[j].Rank })

	dest, err := destinationRole(req.Action, roles, current.Rank, req.ExplicitRank)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		UserID:   userID,
		Action:   req.Action,
		OldRank:  current.Rank,
		NewRank:  dest.Rank,
		RoleName: dest.Name,
		NoOp:     dest.Rank == current.Rank,
	}

	if !result.NoOp {
		if err := s.api.SetRole(ctx, userID, dest.ID); err != nil {
			return Result{}, err
		}
	}

	username, err := s.api.UsernameFromID(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	result.Username = username

	s.audit.Emit(model.AuditEvent{
		ID:       uuid.NewString(),
		Action:   req.Action,
		Tier:     req.Tier,
		CallerIP: req.CallerIP,
		UserID:   userID,
		Username: username,
		OldRank:  result.OldRank,
		NewRank:  result.NewRank,
		RoleName: result.RoleName,
		NoOp:     result.NoOp,
		At:       time.Now(),
	})

	return result, nil
}

// destinationRole picks the role the action moves the user to. roles must
// be sorted ascending by rank.
func destinationRole(action string, roles []model.Role, current int, explicitRank *int) (model.Role, error) {
	switch action {
	case ActionPromote:
		for _, r := range roles {
			if r.Rank > current {
				return r, nil
			}
		}
		return model.Role{}, ErrNoTransition
	case ActionDemote:
		for i := len(roles) - 1; i >= 0; i-- {
			if roles[i].Rank < current {
				return roles[i], nil
			}
		}
		return model.Role{}, ErrNoTransition
	case ActionSetRank:
		if explicitRank == nil {
			return model.Role{}, ErrRankRequired
		}
		for _, r := range roles {
			if r.Rank == *explicitRank {
				return r, nil
			}
		}
		return model.Role{}, ErrNoTransition
	default:
		return model.Role{}, fmt.Errorf("unknown action %q", action)
	}
}

// Roles returns the group's roles sorted ascending by rank.
func (s *Service) Roles(ctx context.Context) ([]model.Role, error) {
	roles, err := s.api.Roles(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Rank < roles[j].Rank })
	return roles, nil
}

// ResolveUser turns a numeric id string or a username into a user id.
func (s *Service) ResolveUser(ctx context.Context, target string) (int64, error) {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return id, nil
	}
	return s.api.IDFromUsername(ctx, target)
}

// UserInfo gathers the profile data the gateway exposes for a user.
func (s *Service) UserInfo(ctx context.Context, target string) (model.UserInfo, error) {
	userID, err := s.ResolveUser(ctx, target)
	if err != nil {
		return model.UserInfo{}, err
	}
	username, err := s.api.UsernameFromID(ctx, userID)
	if err != nil {
		return model.UserInfo{}, err
	}
	role, err := s.api.GroupRole(ctx, userID)
	if err != nil {
		return model.UserInfo{}, err
	}
	headshot, err := s.api.Headshot(ctx, userID)
	if err != nil {
		return model.UserInfo{}, err
	}
	return model.UserInfo{
		UserID:      userID,
		Username:    username,
		Rank:        role.Name,
		HeadshotURL: headshot,
	}, nil
}
