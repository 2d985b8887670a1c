package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/havenlab/haven"
)

// defaultMatrix maps (resource kind, permission) to the minimum team role
// that holds the permission when no explicit grant decides.
var defaultMatrix = map[haven.ResourceKind]map[string]haven.Role{
	haven.ResourceWorkflow: {
		"view":   haven.RoleMember,
		"edit":   haven.RoleAdmin,
		"delete": haven.RoleSuperAdmin,
		"assign": haven.RoleAdmin,
	},
	haven.ResourceQueue: {
		"view":   haven.RoleMember,
		"manage": haven.RoleAdmin,
		"assign": haven.RoleAdmin,
	},
	haven.ResourceVault: {
		"read":  haven.RoleMember,
		"write": haven.RoleAdmin,
		"admin": haven.RoleAdmin,
	},
}

// Can evaluates the per-resource permission cascade and audits the
// decision. Grants are checked in strict priority order with first hit
// winning: founder rights, explicit user grant, job-role grant, team-role
// grant. When grants exist for the permission and none match, the answer
// is deny; with no grants at all the default matrix decides.
func (f *Fabric) Can(ctx context.Context, teamID, userID string, kind haven.ResourceKind, resourceID, permission string) (Decision, error) {
	start := time.Now()
	d := f.evaluate(ctx, teamID, userID, kind, resourceID, permission)
	if err := f.record(ctx, userID, "permission_check", string(kind), resourceID, "", d); err != nil {
		return Decision{}, err
	}
	f.logger.Debug("authz: cascade evaluated", "kind", kind, "resource_id", resourceID, "permission", permission, "allow", d.Allow, "duration", time.Since(start))
	return d, nil
}

func (f *Fabric) evaluate(ctx context.Context, teamID, userID string, kind haven.ResourceKind, resourceID, permission string) Decision {
	if f.founders[userID] {
		return Decision{Allow: true, Reason: "Founder rights"}
	}

	m, err := f.teams.GetMember(ctx, teamID, userID)
	if err != nil {
		return Decision{Reason: "Not a team member"}
	}

	grants, err := f.teams.GrantsForResource(ctx, kind, resourceID, teamID)
	if err != nil {
		f.logger.Error("authz: grant lookup failed", "kind", kind, "resource_id", resourceID, "error", err)
		return Decision{Reason: "Grant lookup failed"}
	}

	scoped := grants[:0:0]
	for _, g := range grants {
		if g.Permission == permission {
			scoped = append(scoped, g)
		}
	}

	for _, g := range scoped {
		switch {
		case g.Type == haven.GrantUser && g.Value == userID:
			return Decision{Allow: true, Reason: "Explicit user grant"}
		case g.Type == haven.GrantJobRole && m.JobRole != "" && g.Value == m.JobRole:
			return Decision{Allow: true, Reason: fmt.Sprintf("Job role grant (%s)", m.JobRole)}
		case g.Type == haven.GrantRole && g.Value == string(m.Role):
			return Decision{Allow: true, Reason: fmt.Sprintf("Team role grant (%s)", m.Role)}
		}
	}
	if len(scoped) > 0 {
		return Decision{Reason: fmt.Sprintf("Explicit grants exist for %s, none match", permission)}
	}

	min, ok := defaultMatrix[kind][permission]
	if !ok {
		return Decision{Reason: fmt.Sprintf("Unknown permission %q for %s", permission, kind)}
	}
	if !m.Role.AtLeast(min) {
		return Decision{Reason: fmt.Sprintf("Default: only %ss and above can %s", min, permission)}
	}
	return Decision{Allow: true, Reason: fmt.Sprintf("Default: %s holds %s", m.Role, permission)}
}
