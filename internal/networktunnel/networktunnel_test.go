package networktunnel

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type testLogger struct{}

func (testLogger) Log(level log.Level, fields log.Fields, message string) error { return nil }
func (testLogger) LogForwarded(ts time.Time, level log.Level, fields map[string]interface{}, message string) error {
	return nil
}
func (testLogger) Level() log.Level { return log.InfoLevel }

func TestConfigValidate(t *testing.T) {
	var cfg = Config{}
	require.Error(t, cfg.Validate())

	cfg = Config{SshEndpoint: "ssh://bastion", RemoteHost: "db", PrivateKey: "key", LocalPort: 5432}
	require.NoError(t, cfg.Validate())
}

func TestSshEndpointAddrAppliesDefaultPort(t *testing.T) {
	addr, err := sshEndpointAddr("ssh://bastion.example.com")
	require.NoError(t, err)
	require.Equal(t, "bastion.example.com:22", addr)

	addr, err = sshEndpointAddr("ssh://bastion.example.com:2222")
	require.NoError(t, err)
	require.Equal(t, "bastion.example.com:2222", addr)
}

func TestRemoteAddrAppliesDefaultPort(t *testing.T) {
	require.Equal(t, "db.internal:5432", remoteAddr(Config{RemoteHost: "db.internal"}))
	require.Equal(t, "db.internal:6543", remoteAddr(Config{RemoteHost: "db.internal", RemotePort: 6543}))
}

// TestTunnelForwardsThroughSshServer reproduces §8's SSH forwarding
// scenario end to end: a local "echo" TCP server stands in for the
// destination database, an in-process SSH server stands in for the
// bastion host, and the Tunnel pumps a connection accepted on its local
// port through the SSH session to the echo server and back.
func TestTunnelForwardsThroughSshServer(t *testing.T) {
	var echoListener = startEchoServer(t)
	defer echoListener.Close()

	var hostKey = generateRSAKey(t)
	var clientKey = generateRSAKey(t)
	clientSigner, err := ssh.NewSignerFromKey(clientKey)
	require.NoError(t, err)

	var sshListener net.Listener
	sshListener, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sshListener.Close()

	go serveSSH(t, sshListener, hostKey, clientSigner.PublicKey(), echoListener.Addr().String())

	var cfg = Config{
		SshEndpoint: "ssh://" + sshListener.Addr().String(),
		SshUser:     "tunnel",
		PrivateKey:  string(marshalPrivateKeyPEM(clientKey)),
		RemoteHost:  "echo", // resolved by the fake SSH server, not actually dialed by it
		RemotePort:  1,
		LocalPort:   pickFreePort(t),
	}

	var tunnel = New(cfg, testLogger{})
	require.NoError(t, tunnel.Prepare())
	defer tunnel.Close()

	go tunnel.Serve()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(cfg.LocalPort))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello tunnel"))
	require.NoError(t, err)

	var buf = make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello tunnel", string(buf[:n]))
}

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func marshalPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go io.Copy(conn, conn)
		}
	}()
	return l
}

func serveSSH(t *testing.T, listener net.Listener, hostKey *rsa.PrivateKey, authorizedKey ssh.PublicKey, echoAddr string) {
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	var config = &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostSigner)

	for {
		nc, err := listener.Accept()
		if err != nil {
			return
		}
		go func() {
			conn, chans, reqs, err := ssh.NewServerConn(nc, config)
			if err != nil {
				return
			}
			go ssh.DiscardRequests(reqs)

			for newChannel := range chans {
				if newChannel.ChannelType() != "direct-tcpip" {
					newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
					continue
				}
				channel, requests, err := newChannel.Accept()
				if err != nil {
					continue
				}
				go ssh.DiscardRequests(requests)

				dest, err := net.Dial("tcp", echoAddr)
				if err != nil {
					channel.Close()
					continue
				}
				go func() {
					io.Copy(dest, channel)
					dest.(*net.TCPConn).CloseWrite()
				}()
				go func() {
					io.Copy(channel, dest)
					channel.CloseWrite()
				}()
			}
			conn.Close()
		}()
	}
}

func pickFreePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}
