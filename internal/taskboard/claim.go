package taskboard

import (
	"strings"
	"time"
)

// roleAgents maps a required_role keyword to the set of agent ids allowed to
// claim it (spec §4.2.1). Keys are checked case-insensitively.
var roleAgents = map[string][]string{
	"planner":  {"leo", "planner"},
	"plan":     {"leo", "planner"},
	"implement": {"jerry", "executor", "coder", "developer", "builder"},
	"execute":  {"jerry", "executor", "coder", "developer", "builder"},
	"code":     {"jerry", "executor", "coder", "developer", "builder"},
	"memory":   {"jerry", "executor", "coder", "developer", "builder"},
	"review":   {"alic", "reviewer", "auditor"},
	"critique": {"alic", "reviewer", "auditor"},
}

// strictRoles never fall back to substring matching — an agent must match
// one of roleAgents' literal keys to claim them (spec §4.2.1).
var strictRoles = map[string]struct{}{
	"planner":  {},
	"plan":     {},
	"review":   {},
	"critique": {},
}

// agentRoleRestrictions lists agent ids that may ONLY claim tasks whose
// required_role resolves to one of their listed roles, even if roleAgents
// would otherwise admit them. Reviewer-type agents default to this
// restriction (spec §4.2.1): alic/reviewer/auditor may only claim
// review/critique work, never implementation or planning.
var agentRoleRestrictions = map[string][]string{
	"alic":     {"review", "critique"},
	"reviewer": {"review", "critique"},
	"auditor":  {"review", "critique"},
}

// canClaim implements the matching procedure from spec §4.2.1, mirroring
// original_source/core/task_board.py's _role_matches precedence:
//  1. If agentID is restricted, required_role must resolve to one of its
//     allowed roles, or the match fails outright.
//  2. An empty required_role matches any non-restricted agent.
//  3. Direct match: required_role equals agentID itself (a task can target
//     an agent by id directly, e.g. required_role="jerry").
//  4. Map-based match: required_role equals a role key whose agent set
//     includes agentID.
//  5. Strict roles stop here with no further fallback.
//  6. Loose fallback for non-strict roles: agentID contains required_role
//     as a substring (role-in-agent-id, not the reverse).
func canClaim(agentID, requiredRole string) bool {
	agentID = strings.ToLower(agentID)
	role := strings.ToLower(strings.TrimSpace(requiredRole))

	if allowed, restricted := agentRoleRestrictions[agentID]; restricted {
		if role == "" {
			return false
		}
		for _, a := range allowed {
			if role == a || strings.Contains(role, a) {
				return true
			}
		}
		return false
	}

	if role == "" {
		return true
	}

	if role == agentID {
		return true
	}

	for key, agents := range roleAgents {
		if role != key {
			continue
		}
		for _, a := range agents {
			if a == agentID {
				return true
			}
		}
	}

	if _, strict := strictRoles[role]; strict {
		return false
	}

	return strings.Contains(agentID, role)
}

// blockedByIncomplete reports whether any id in blockedBy names a task that
// is not yet completed (spec §4.2, "blocked_by"). Unknown ids are treated as
// still-blocking — a dangling reference should never silently unblock work.
func (b *Board) blockedByIncomplete(blockedBy []string) bool {
	for _, id := range blockedBy {
		dep, ok := b.doc.Tasks[id]
		if !ok || dep.Status != StatusCompleted {
			return true
		}
	}
	return false
}

// ClaimNext scans pending tasks in creation order and claims the first one
// agentID is permitted to claim whose blocked_by dependencies are all
// completed and whose min_reputation does not exceed agentReputation (spec
// §4.2, "claim_next"). Returns nil if nothing is claimable.
func (b *Board) ClaimNext(agentID string, agentReputation float64) *Task {
	var claimed *Task
	_ = b.mutate(func() error {
		for _, id := range b.doc.Order {
			t := b.doc.Tasks[id]
			if t == nil || t.Status != StatusPending {
				continue
			}
			if t.MinReputation > agentReputation {
				continue
			}
			if b.blockedByIncomplete(t.BlockedBy) {
				continue
			}
			if !canClaim(agentID, t.RequiredRole) {
				continue
			}
			t.Status = StatusClaimed
			t.AgentID = agentID
			now := time.Now().UTC()
			t.ClaimedAt = &now
			claimed = t.clone()
			return nil
		}
		return nil
	})
	return claimed
}

// ClaimCritique scans tasks in status critique and claims the first one
// agentID is permitted to review (spec §4.2, "claim_critique"). A critique
// task is re-assigned to the new reviewer; its required_role is always a
// review/critique role so the same canClaim gate applies.
func (b *Board) ClaimCritique(agentID string) *Task {
	var claimed *Task
	_ = b.mutate(func() error {
		for _, id := range b.doc.Order {
			t := b.doc.Tasks[id]
			if t == nil || t.Status != StatusCritique {
				continue
			}
			role := t.RequiredRole
			if role == "" {
				role = "review"
			}
			if !canClaim(agentID, role) {
				continue
			}
			t.AgentID = agentID
			now := time.Now().UTC()
			t.ClaimedAt = &now
			claimed = t.clone()
			return nil
		}
		return nil
	})
	return claimed
}
