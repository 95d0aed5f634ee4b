package model

import "time"

// Tier is the authorization level assigned to a request after credential
// classification. Exactly one tier is assigned per request, or the request
// is rejected before reaching any rank-change logic.
type Tier string

const (
	TierMaintainer  Tier = "maintainer"
	TierSecondary   Tier = "secondary"
	TierSpectator   Tier = "spectator"
	TierExternalAPI Tier = "external_api"
)

// CanChangeRanks reports whether the tier may perform rank mutations.
func (t Tier) CanChangeRanks() bool {
	switch t {
	case TierMaintainer, TierSecondary, TierExternalAPI:
		return true
	}
	return false
}

// KindSecondaryLogin marks pending records created by an unapproved IP
// presenting a valid secondary credential.
const KindSecondaryLogin = "secondary_login"

type PendingApproval struct {
	ID          int64
	IP          string
	Kind        string
	RequestedAt time.Time
	Approved    bool
}

type Role struct {
	ID   int64
	Rank int
	Name string
}

type UserInfo struct {
	UserID      int64
	Username    string
	Rank        string
	HeadshotURL string
}

type AuditEvent struct {
	ID       string
	Action   string
	Tier     Tier
	CallerIP string
	UserID   int64
	Username string
	OldRank  int
	NewRank  int
	RoleName string
	NoOp     bool
	At       time.Time
}
