package networktunnel

import (
	"fmt"
	"io"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/estuary/agent/internal/ops"
)

// bufferSize matches tunnel_streaming's 128KiB forward-stream buffer.
const bufferSize = 128 * 1024

// Tunnel forwards TCP connections accepted on a local port to a remote
// host:port, through an authenticated SSH session on a bastion host.
type Tunnel struct {
	cfg    Config
	logger ops.Logger

	client   *ssh.Client
	listener net.Listener
}

func New(cfg Config, logger ops.Logger) *Tunnel {
	return &Tunnel{cfg: cfg, logger: logger}
}

// Prepare dials and authenticates the SSH client and binds the local
// listener, without yet accepting connections.
func (t *Tunnel) Prepare() error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}

	client, err := dialSSH(t.cfg)
	if err != nil {
		return err
	}
	t.client = client

	var localAddr = fmt.Sprintf("127.0.0.1:%d", t.cfg.LocalPort)
	listener, err := net.Listen("tcp", localAddr)
	if err != nil {
		t.client.Close()
		return fmt.Errorf("networktunnel: binding local listener %q: %w", localAddr, err)
	}
	t.listener = listener

	return nil
}

// Serve accepts local connections and forwards each through its own SSH
// direct-tcpip channel until the listener is closed. A per-connection pump
// failure is fatal to the whole process: the tunnel has no way to signal
// a half-broken forward back to its caller, and an exec supervisor is
// expected to restart the process on a non-zero exit (mirroring
// start_serve's std::process::exit(1) on a failed tunnel_streaming).
func (t *Tunnel) Serve() error {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return fmt.Errorf("networktunnel: accept: %w", err)
		}

		channel, requests, err := t.client.OpenChannel("direct-tcpip", directTCPIPPayload(t.cfg, conn))
		if err != nil {
			conn.Close()
			return fmt.Errorf("networktunnel: opening direct-tcpip channel: %w", err)
		}
		go ssh.DiscardRequests(requests)

		go func() {
			if err := t.pump(conn, channel); err != nil {
				t.logger.Log(log.ErrorLevel, log.Fields{"error": err.Error()}, "tunnel pump failed")
				os.Exit(1)
			}
		}()
	}
}

// Close tears down the listener and SSH client.
func (t *Tunnel) Close() error {
	var errs []error
	if t.listener != nil {
		errs = append(errs, t.listener.Close())
	}
	if t.client != nil {
		errs = append(errs, t.client.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// pump copies bytes in both directions between a local connection and its
// SSH channel, mirroring tunnel_streaming's two concurrent pumps: local
// read EOF propagates as a channel EOF, and channel EOF flushes and ends
// the local write side.
func (t *Tunnel) pump(local net.Conn, channel ssh.Channel) error {
	defer local.Close()
	defer channel.Close()

	var errs = make(chan error, 2)

	go func() {
		_, err := io.Copy(channel, local)
		channel.CloseWrite()
		errs <- err
	}()
	go func() {
		_, err := io.Copy(local, channel)
		if tcp, ok := local.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		errs <- err
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// directTCPIPPayload builds an SSH direct-tcpip channel-open request
// payload forwarding to cfg's remote host:port, originating from the
// local connection's address.
func directTCPIPPayload(cfg Config, local net.Conn) []byte {
	var originHost = "127.0.0.1"
	var originPort uint32
	if addr, ok := local.RemoteAddr().(*net.TCPAddr); ok {
		originHost = addr.IP.String()
		originPort = uint32(addr.Port)
	}

	var destPort = cfg.RemotePort
	if destPort == 0 {
		destPort = DefaultRemotePort
	}

	var payload = struct {
		DestAddr   string
		DestPort   uint32
		OriginAddr string
		OriginPort uint32
	}{
		DestAddr:   cfg.RemoteHost,
		DestPort:   uint32(destPort),
		OriginAddr: originHost,
		OriginPort: originPort,
	}
	return ssh.Marshal(payload)
}
