package services

import (
	"context"

	"github.com/arkadian/voicelounge/internal/app"
	"github.com/arkadian/voicelounge/internal/platform"
)

// Tier is one resolved subscription level with its limits.
type Tier struct {
	Name       string
	Moderators int
	AutoKicks  int
}

// TierPolicy maps a member's subscription roles to moderator and autokick
// limits. The table is ordered highest tier first; the first role match
// wins, and members with no qualifying role get zero limits.
type TierPolicy struct {
	tiers []Tier
}

// NewTierPolicy builds a policy from the configured tier table, preserving
// its order.
func NewTierPolicy(tiers []app.TierConfig) *TierPolicy {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, Tier{Name: t.Name, Moderators: t.Moderators, AutoKicks: t.AutoKicks})
	}
	return &TierPolicy{tiers: out}
}

// Resolve returns the highest tier among the member's roles, or nil.
func (p *TierPolicy) Resolve(roles []string) *Tier {
	if p == nil {
		return nil
	}

	for _, tier := range p.tiers {
		for _, role := range roles {
			if role == tier.Name {
				t := tier
				return &t
			}
		}
	}
	return nil
}

// ModLimit returns the moderator cap for the member's roles; 0 without a
// qualifying tier.
func (p *TierPolicy) ModLimit(roles []string) int {
	if tier := p.Resolve(roles); tier != nil {
		return tier.Moderators
	}
	return 0
}

// AutoKickLimit returns the autokick cap for the member's roles; 0 without
// a qualifying tier.
func (p *TierPolicy) AutoKickLimit(roles []string) int {
	if tier := p.Resolve(roles); tier != nil {
		return tier.AutoKicks
	}
	return 0
}

// PremiumResolver answers "what tier does this member hold" for callers that
// only know a member id. The default implementation resolves roles through
// the platform; tests and the payment integration substitute their own.
type PremiumResolver interface {
	PremiumTier(ctx context.Context, memberID int64) (*Tier, error)
}

// RoleTierResolver resolves tiers by fetching the member's roles from the
// platform and scanning the policy table.
type RoleTierResolver struct {
	session platform.Session
	policy  *TierPolicy
}

// NewRoleTierResolver wires a PremiumResolver over the platform session.
func NewRoleTierResolver(session platform.Session, policy *TierPolicy) *RoleTierResolver {
	return &RoleTierResolver{session: session, policy: policy}
}

// PremiumTier implements PremiumResolver.
func (r *RoleTierResolver) PremiumTier(ctx context.Context, memberID int64) (*Tier, error) {
	member, err := r.session.Member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return r.policy.Resolve(member.Roles), nil
}
