// Package registry maps role names to the agent ids allowed to act in that
// role and resolves routing policies to concrete target lists.
package registry

import (
	"sync"

	"go.uber.org/zap"
)

// PolicyKind selects how targets are chosen from a role's registered agents.
type PolicyKind string

const (
	// PolicyBroadcast delivers to every registered agent.
	PolicyBroadcast PolicyKind = "broadcast"
	// PolicyRoundRobin delivers to at most the first registered agent.
	// There is no rotating cursor; the observed single-target behavior is
	// deliberately preserved and pinned by test.
	PolicyRoundRobin PolicyKind = "round_robin"
	// PolicyQuorum delivers to the first N registered agents.
	PolicyQuorum PolicyKind = "quorum"
)

// Policy is a routing policy. N is only meaningful for PolicyQuorum.
type Policy struct {
	Kind PolicyKind
	N    int
}

// RoleRegistry holds the role -> agent id mapping.
type RoleRegistry struct {
	mu     sync.RWMutex
	roles  map[string][]string
	logger *zap.Logger
}

// NewRoleRegistry creates an empty registry.
func NewRoleRegistry(logger *zap.Logger) *RoleRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleRegistry{
		roles:  make(map[string][]string),
		logger: logger,
	}
}

// Register adds agentID to role. Re-registering the same pair is a no-op.
func (r *RoleRegistry) Register(role, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.roles[role] {
		if id == agentID {
			return
		}
	}
	r.roles[role] = append(r.roles[role], agentID)
	r.logger.Debug("registered agent",
		zap.String("role", role),
		zap.String("agent", agentID))
}

// Agents returns the registered ids for a role, or an empty slice.
func (r *RoleRegistry) Agents(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.roles[role]))
	copy(ids, r.roles[role])
	return ids
}

// Roles returns every role with at least one registered agent.
func (r *RoleRegistry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	return out
}

// SelectTargets applies a routing policy to a candidate id list. Unknown
// policy kinds fall back to broadcast.
func SelectTargets(ids []string, policy Policy) []string {
	switch policy.Kind {
	case PolicyRoundRobin:
		if len(ids) == 0 {
			return nil
		}
		return ids[:1]
	case PolicyQuorum:
		n := policy.N
		if n < 0 {
			n = 0
		}
		if n > len(ids) {
			n = len(ids)
		}
		return ids[:n]
	default:
		return ids
	}
}
