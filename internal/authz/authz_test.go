package authz

import (
	"testing"
	"time"

	"github.com/estuary/agent/internal/snapshot"
	"github.com/stretchr/testify/require"
)

// TestCrossTenantAuthorization reproduces §8 scenario 2: with no grant,
// tenant dogs cannot materialize cats/noms; a user grant alone (on their
// own tenant) is insufficient; a role grant from dogs/ to cats/:read
// then succeeds.
func TestCrossTenantAuthorization(t *testing.T) {
	var claim = Claim{Subject: "dogs-user"}

	// No grants at all.
	var snap = snapshot.New(time.Now(), nil, nil, nil, nil)
	require.Error(t, Policy(snap, claim, "cats/noms", CapabilityRead))

	// User grant on their own tenant only -- still insufficient.
	snap = snapshot.New(time.Now(), nil, nil, nil, []snapshot.UserGrant{
		{UserID: "dogs-user", ObjectRole: "dogs/", Capability: "admin"},
	})
	require.Error(t, Policy(snap, claim, "cats/noms", CapabilityRead))

	// Adding the bridging role grant succeeds.
	snap = snapshot.New(time.Now(),
		nil, nil,
		[]snapshot.RoleGrant{{SubjectRole: "dogs/", ObjectRole: "cats/", Capability: "read"}},
		[]snapshot.UserGrant{{UserID: "dogs-user", ObjectRole: "dogs/", Capability: "admin"}},
	)
	require.NoError(t, Policy(snap, claim, "cats/noms", CapabilityRead))

	// But it does not authorize write.
	require.Error(t, Policy(snap, claim, "cats/noms", CapabilityWrite))
}

func TestDirectUserGrant(t *testing.T) {
	var claim = Claim{Subject: "u1"}
	var snap = snapshot.New(time.Now(), nil, nil, nil, []snapshot.UserGrant{
		{UserID: "u1", ObjectRole: "acmeCo/", Capability: "admin"},
	})
	require.NoError(t, Policy(snap, claim, "acmeCo/orders", CapabilityAdmin))
	require.NoError(t, Policy(snap, claim, "acmeCo/orders", CapabilityRead))
}
