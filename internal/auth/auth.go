package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/rankgate/rankgate/internal/model"
	"github.com/rankgate/rankgate/internal/store"

	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidCredential = errors.New("invalid_credential")
	ErrIPNotApproved     = errors.New("ip_not_approved")
	ErrIPBlocked         = errors.New("ip_blocked")
)

// Secrets holds the shared secrets for every credential tier.
type Secrets struct {
	Maintainer string
	Secondary  string
	Spectator  string
	APIKey     string
}

// Gate classifies a request's presented credentials into a tier.
//
// Rules are an ordered table evaluated in a fixed priority: the blocked-IP
// check runs before any credential comparison, then maintainer, approved
// secondary, spectator, and the machine API key. The unapproved-secondary
// rejection is a last resort, taken only after every other credential
// comparison has failed. An empty configured secret never matches anything.
type Gate struct {
	store store.Store
	rules []rule
}

type rule struct {
	matches func(bearer, queryKey string) bool
	resolve func(ctx context.Context, ip string) (model.Tier, error)
}

// errNextRule signals that a matched rule declined the request and
// evaluation continues with the remaining rules.
var errNextRule = errors.New("next rule")

func NewGate(st store.Store, secrets Secrets) *Gate {
	maintainer := newSecret(secrets.Maintainer)
	secondary := newSecret(secrets.Secondary)
	spectator := newSecret(secrets.Spectator)
	apiKey := newSecret(secrets.APIKey)

	g := &Gate{store: st}
	g.rules = []rule{
		{
			matches: func(bearer, _ string) bool { return maintainer.matches(bearer) },
			resolve: func(context.Context, string) (model.Tier, error) {
				return model.TierMaintainer, nil
			},
		},
		{
			matches: func(bearer, _ string) bool { return secondary.matches(bearer) },
			resolve: g.resolveApprovedSecondary,
		},
		{
			matches: func(bearer, _ string) bool { return spectator.matches(bearer) },
			resolve: func(context.Context, string) (model.Tier, error) {
				return model.TierSpectator, nil
			},
		},
		{
			matches: func(_, queryKey string) bool { return apiKey.matches(queryKey) },
			resolve: func(context.Context, string) (model.Tier, error) {
				return model.TierExternalAPI, nil
			},
		},
		{
			matches: func(bearer, _ string) bool { return secondary.matches(bearer) },
			resolve: g.resolveUnapprovedSecondary,
		},
	}
	return g
}

// Classify assigns a tier to the presented credentials or returns one of
// ErrIPBlocked, ErrIPNotApproved, ErrInvalidCredential. Blocked status
// supersedes every credential. Public endpoints must be special-cased by
// the caller; Classify is never exempt.
func (g *Gate) Classify(ctx context.Context, bearer, queryKey, ip string) (model.Tier, error) {
	blocked, err := g.store.IsBlocked(ctx, ip)
	if err != nil {
		return "", err
	}
	if blocked {
		return "", ErrIPBlocked
	}

	for _, r := range g.rules {
		if !r.matches(bearer, queryKey) {
			continue
		}
		tier, err := r.resolve(ctx, ip)
		if errors.Is(err, errNextRule) {
			continue
		}
		return tier, err
	}
	return "", ErrInvalidCredential
}

// resolveApprovedSecondary grants the secondary tier only to approved IPs.
// An unapproved IP defers to the remaining rules so another presented
// credential can still classify the request.
func (g *Gate) resolveApprovedSecondary(ctx context.Context, ip string) (model.Tier, error) {
	approved, err := g.store.IsApproved(ctx, ip)
	if err != nil {
		return "", err
	}
	if !approved {
		return "", errNextRule
	}
	return model.TierSecondary, nil
}

// resolveUnapprovedSecondary is the last resort when the secondary secret
// matched and nothing else did: the IP gets registered in the pending queue
// so the maintainer can see it, and the caller gets a distinguishable
// rejection rather than a silent failure.
func (g *Gate) resolveUnapprovedSecondary(ctx context.Context, ip string) (model.Tier, error) {
	if err := g.store.Propose(ctx, ip); err != nil {
		return "", err
	}
	return "", ErrIPNotApproved
}

// secret is a sha3-256 digest of a configured secret. Comparing digests
// with subtle keeps the comparison constant-time and length-independent.
type secret struct {
	sum   [32]byte
	empty bool
}

func newSecret(value string) secret {
	if value == "" {
		return secret{empty: true}
	}
	return secret{sum: sha3.Sum256([]byte(value))}
}

func (s secret) matches(presented string) bool {
	if s.empty || presented == "" {
		return false
	}
	p := sha3.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(s.sum[:], p[:]) == 1
}
