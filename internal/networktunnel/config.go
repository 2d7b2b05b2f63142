// Package networktunnel implements an in-process SSH forwarding tunnel, so
// a connector can reach a database or API sitting behind a bastion host
// without shelling out to a separate subprocess (§4.9 "SSH forwarding
// tunnel"). It generalizes crates/network-proxy/sshforwarding's
// SshForwardingConfig and replaces the legacy go/network-tunnel exec-a-
// subprocess approach with a direct golang.org/x/crypto/ssh client.
package networktunnel

import (
	"encoding/base64"
	"fmt"
)

// Config describes one SSH-forwarded connection: dial SshEndpoint as
// SshUser, authenticate with PrivateKey, then forward local connections
// accepted on LocalPort to RemoteHost:RemotePort via the SSH session.
type Config struct {
	SshEndpoint string `json:"sshEndpoint"`
	SshUser     string `json:"sshUser,omitempty"`

	// PrivateKey is a PEM or OpenSSH-formatted private key, optionally
	// base64-encoded (matching the teacher's sshPrivateKeyBase64 field
	// as well as a plain inline PEM block).
	PrivateKey string `json:"privateKey"`

	RemoteHost string `json:"remoteHost"`
	RemotePort uint16 `json:"remotePort,omitempty"`
	LocalPort  uint16 `json:"localPort"`
}

const DefaultSshPort = 22
const DefaultRemotePort = 5432

func (c Config) Validate() error {
	if c.SshEndpoint == "" {
		return fmt.Errorf("networktunnel: missing sshEndpoint")
	}
	if c.RemoteHost == "" {
		return fmt.Errorf("networktunnel: missing remoteHost")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("networktunnel: missing privateKey")
	}
	if c.LocalPort == 0 {
		return fmt.Errorf("networktunnel: missing localPort")
	}
	return nil
}

// decodedPrivateKey returns c.PrivateKey's raw PEM/OpenSSH bytes, decoding
// it from base64 first if it doesn't already look like a PEM block.
func (c Config) decodedPrivateKey() []byte {
	if isPEM(c.PrivateKey) {
		return []byte(c.PrivateKey)
	}
	if decoded, err := base64.StdEncoding.DecodeString(c.PrivateKey); err == nil {
		return decoded
	}
	return []byte(c.PrivateKey)
}

func isPEM(s string) bool {
	return len(s) > 10 && s[:10] == "-----BEGIN"
}
