// Package identity answers capability questions from the club's role table.
package identity

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/port"
)

// AnyCapability granted to a role grants every capability
const AnyCapability = "*"

// Member is one club member known to the gate
type Member struct {
	Roles      []string
	LarkOpenID string
}

// Gate implements port.PermissionGate and port.Directory from static configuration
type Gate struct {
	roles   map[string]map[string]bool
	members map[string]Member
	logger  *zap.Logger
}

// NewGate builds a gate from role → capabilities and actor → member tables.
// A member referencing an unknown role is a configuration error.
func NewGate(roles map[string][]string, members map[string]Member, logger *zap.Logger) (*Gate, error) {
	g := &Gate{
		roles:   make(map[string]map[string]bool, len(roles)),
		members: make(map[string]Member, len(members)),
		logger:  logger,
	}
	for role, caps := range roles {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		g.roles[role] = set
	}
	for actor, m := range members {
		for _, role := range m.Roles {
			if _, ok := g.roles[role]; !ok {
				return nil, fmt.Errorf("member %s has unknown role %s", actor, role)
			}
		}
		g.members[actor] = m
	}
	return g, nil
}

// HasCapability implements port.PermissionGate. Unknown actors hold nothing.
func (g *Gate) HasCapability(ctx context.Context, actor, capability string) (bool, error) {
	m, ok := g.members[actor]
	if !ok {
		g.logger.Debug("Unknown actor", zap.String("actor", actor), zap.String("capability", capability))
		return false, nil
	}
	for _, role := range m.Roles {
		caps := g.roles[role]
		if caps[capability] || caps[AnyCapability] {
			return true, nil
		}
	}
	return false, nil
}

// MembersWithCapability implements port.Directory
func (g *Gate) MembersWithCapability(ctx context.Context, capability string) ([]string, error) {
	var out []string
	for actor := range g.members {
		ok, err := g.HasCapability(ctx, actor, capability)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, actor)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LarkOpenID implements port.Directory
func (g *Gate) LarkOpenID(ctx context.Context, actor string) string {
	return g.members[actor].LarkOpenID
}

var (
	_ port.PermissionGate = (*Gate)(nil)
	_ port.Directory      = (*Gate)(nil)
)
