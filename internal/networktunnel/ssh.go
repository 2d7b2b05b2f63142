package networktunnel

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// parsePrivateKey mirrors sshforwarding.rs's authenticate: try parsing key
// as a raw RSA PEM first, and only fall back to the general OpenSSH key
// decode (which also accepts PEM-wrapped keys of other types) if that
// fails. ECDSA/Ed25519-only keys go through the fallback path.
func parsePrivateKey(raw []byte) (ssh.Signer, error) {
	if block, _ := pem.Decode(raw); block != nil {
		if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			signer, err := ssh.NewSignerFromKey(rsaKey)
			if err == nil {
				return signer, nil
			}
		}
	}

	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("networktunnel: parsing private key: %w", err)
	}
	return signer, nil
}

// sshEndpointAddr resolves a config's ssh://host[:port] endpoint to a
// dialable host:port address, applying DefaultSshPort when unspecified.
func sshEndpointAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("networktunnel: invalid sshEndpoint %q: %w", endpoint, err)
	}
	var host = u.Hostname()
	if host == "" {
		host = u.Host // endpoint with no scheme, e.g. "host:port" or "host"
	}
	if host == "" {
		return "", fmt.Errorf("networktunnel: sshEndpoint %q has no host", endpoint)
	}

	var port = u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultSshPort)
	}
	return net.JoinHostPort(host, port), nil
}

// dialSSH opens and authenticates an SSH client connection for cfg. The
// host key is not verified against a known_hosts file: the bastion is
// addressed by operator-supplied endpoint and the tunnel's trust model is
// the private key, not host key pinning (mirrors ClientHandler's
// check_server_key, which unconditionally accepts).
func dialSSH(cfg Config) (*ssh.Client, error) {
	addr, err := sshEndpointAddr(cfg.SshEndpoint)
	if err != nil {
		return nil, err
	}

	signer, err := parsePrivateKey(cfg.decodedPrivateKey())
	if err != nil {
		return nil, err
	}

	var user = cfg.SshUser
	if user == "" {
		user = "root"
	}

	var clientConfig = &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("networktunnel: dialing ssh endpoint %q: %w", addr, err)
	}
	return client, nil
}

func remoteAddr(cfg Config) string {
	var port = cfg.RemotePort
	if port == 0 {
		port = DefaultRemotePort
	}
	return net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(int(port)))
}
