// Package authz implements the authorization policy of §4.3: a pure
// function over a Snapshot, a bearer claim, and a requested capability,
// evaluating role-grant and user-grant edges closed over catalog-name
// prefixes.
package authz

import (
	"fmt"
	"sort"

	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/snapshot"
)

// Capability is the access level being requested against a catalog name.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
	CapabilityAdmin Capability = "admin"
)

// rank orders capabilities so a higher one satisfies a lower request,
// mirroring the admin ⊇ write ⊇ read lattice implied by §4.5 step 3
// ("require ... admin ... and read ...").
func (c Capability) rank() int {
	switch c {
	case CapabilityAdmin:
		return 3
	case CapabilityWrite:
		return 2
	case CapabilityRead:
		return 1
	default:
		return 0
	}
}

// satisfies reports whether having been granted `have` authorizes a
// request for `want`.
func (have Capability) satisfies(want Capability) bool { return have.rank() >= want.rank() }

// Claim is the bearer JWT's relevant fields (§6 "Bearer auth").
type Claim struct {
	Subject string // sub (uuid)
}

// Policy evaluates whether claim authorizes capability on catalogName,
// given snap's grant edges. It is a pure function: no I/O, no mutation,
// suitable for direct use inside snapshot.Evaluate.
func Policy(snap *snapshot.Snapshot, claim Claim, catalogName names.Catalog, capability Capability) error {
	// Direct user grants take precedence and need no prefix-closure walk:
	// a user_grants row grants a capability on an object-role prefix.
	for _, g := range snap.UserGrants {
		if g.UserID != claim.Subject {
			continue
		}
		if names.Prefix(g.ObjectRole).IsPrefixOf(catalogName) && Capability(g.Capability).satisfies(capability) {
			return nil
		}
	}

	// Role grants: subject_role -> object_role, transitively closed by
	// the snapshot builder (§4.3 "deduplicated, closed form"). A user
	// is implicitly granted every role_grants edge whose subject_role
	// prefixes a role they hold via a user_grant (§8 scenario 2: a role
	// grant "dogs/ -> cats/:read" authorizes a member of dogs/ to read
	// cats/).
	var heldRoles = userRoles(snap, claim.Subject)
	for _, role := range heldRoles {
		for _, g := range snap.RoleGrants {
			if names.Prefix(g.SubjectRole).IsPrefixOf(names.Catalog(role)) &&
				names.Prefix(g.ObjectRole).IsPrefixOf(catalogName) &&
				Capability(g.Capability).satisfies(capability) {
				return nil
			}
		}
	}

	return fmt.Errorf("missing %s grant on %q", capability, catalogName)
}

// userRoles returns the set of role prefixes a user directly holds via
// user_grants (their own object_role is itself a role they belong to,
// per the "a user grant alone is insufficient [without a role grant]"
// semantics of §8 scenario 2 -- a user_grant only grants the capability
// on its object_role, never membership in it for the purpose of further
// role_grants unless that object_role also appears as a subject_role).
func userRoles(snap *snapshot.Snapshot, userID string) []string {
	var seen = map[string]bool{}
	var roles []string
	for _, g := range snap.UserGrants {
		if g.UserID == userID && !seen[g.ObjectRole] {
			seen[g.ObjectRole] = true
			roles = append(roles, g.ObjectRole)
		}
	}
	sort.Strings(roles)
	return roles
}
