package dekaf

import (
	"fmt"
	"sort"
	"strings"
)

// Mechanism is a SASL mechanism name, in server-advertised precedence
// order (§4.8 "Authentication").
type Mechanism string

const (
	MechanismPlain       Mechanism = "PLAIN"
	MechanismScramSHA256 Mechanism = "SCRAM-SHA-256"
	MechanismScramSHA512 Mechanism = "SCRAM-SHA-512"
)

// mechanismPrecedence ranks mechanisms strongest-first; it orders the
// enabled mechanisms listed in a SaslHandshake response. The mechanism
// used is the one the client requests, if it is enabled.
var mechanismPrecedence = map[Mechanism]int{
	MechanismScramSHA512: 3,
	MechanismScramSHA256: 2,
	MechanismPlain:       1,
}

// Authenticator resolves SASL credentials to an authenticated principal.
// The implementation cmd/dekaf wires in is TokenAuthenticator, which
// verifies the PLAIN password as a signed token locally, against a
// shared secret.
type Authenticator interface {
	// Authenticate validates a PLAIN SASL exchange (authzid\0authcid\0password)
	// and returns the verified principal (used as the task name / catalog
	// prefix the connection is scoped to).
	Authenticate(mechanism Mechanism, authBytes []byte) (principal string, err error)
}

// authState tracks a single connection's SASL progress across the two
// required round trips: an initial handshake (often deliberately
// invalid, to discover supported mechanisms) followed by the mechanism
// exchange itself (§4.8 "On first connect, send a deliberately-invalid
// SaslHandshake to discover supported mechanisms").
type authState struct {
	enabled       []Mechanism
	negotiated    Mechanism
	authenticated bool
	principal     string
}

func newAuthState(enabled []Mechanism) *authState {
	return &authState{enabled: enabled}
}

// handshake accepts the client's requested mechanism if it is enabled
// locally, returning the full list of locally enabled mechanisms,
// strongest first, for the client to retry against (mirroring Kafka's
// SaslHandshake response semantics: an unsupported mechanism yields an
// error code plus the list of ones that are supported).
func (a *authState) handshake(requested Mechanism) (supported []Mechanism, ok bool) {
	var sorted = append([]Mechanism(nil), a.enabled...)
	sort.Slice(sorted, func(i, j int) bool {
		return mechanismPrecedence[sorted[i]] > mechanismPrecedence[sorted[j]]
	})
	for _, m := range sorted {
		if m == requested {
			a.negotiated = m
			return sorted, true
		}
	}
	return sorted, false
}

// authenticate runs the (possibly multi-step) SASL exchange for the
// negotiated mechanism. Only PLAIN's single round trip is implemented;
// SCRAM mechanisms are advertised for precedence-selection completeness
// but return an explicit "not implemented" error if actually selected,
// since no SCRAM library exists in the retrieval pack and PLAIN-over-TLS
// is Dekaf's documented credential path.
func (a *authState) authenticate(auth Authenticator, authBytes []byte) error {
	if a.negotiated != MechanismPlain {
		return fmt.Errorf("dekaf: mechanism %q is advertised but not implemented", a.negotiated)
	}
	var parts = strings.SplitN(string(authBytes), "\x00", 3)
	if len(parts) != 3 {
		return fmt.Errorf("dekaf: malformed PLAIN auth message")
	}
	principal, err := auth.Authenticate(a.negotiated, authBytes)
	if err != nil {
		return err
	}
	a.authenticated = true
	a.principal = principal
	return nil
}
