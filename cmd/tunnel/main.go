// Command tunnel is the network-tunnel-service subprocess: it reads a
// NetworkTunnelConfig as JSON from stdin, prepares the tunnel described by
// it, writes the READY\n sentinel expected by
// go/network-tunnel/networktunnel.go's readyWriter, and then serves until
// killed. Connectors (or the agent, on a connector's behalf) exec this
// binary exactly as the teacher's NetworkTunnelConfig.Start did.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/estuary/agent/internal/networktunnel"
	"github.com/estuary/agent/internal/ops"
)

var supportedTunnelTypes = []string{"sshForwarding"}

// networkTunnelConfig mirrors go/network-tunnel/networktunnel.go's wire
// shape exactly, so existing connector images that spawn this program and
// pipe it JSON on stdin keep working unchanged.
type networkTunnelConfig struct {
	TunnelType          string               `json:"tunnelType"`
	SshForwardingConfig sshForwardingWireCfg `json:"sshForwarding"`
}

// sshForwardingWireCfg matches the teacher's camelCase field names, which
// predate this package's Config type.
type sshForwardingWireCfg struct {
	SshEndpoint         string `json:"sshEndpoint"`
	SshPrivateKeyBase64 string `json:"sshPrivateKeyBase64"`
	SshUser             string `json:"sshUser,omitempty"`
	RemoteHost          string `json:"remoteHost"`
	RemotePort          uint16 `json:"remotePort,omitempty"`
	LocalPort           uint16 `json:"localPort"`
}

func (c networkTunnelConfig) validate() error {
	var supported bool
	for _, t := range supportedTunnelTypes {
		if t == c.TunnelType {
			supported = true
		}
	}
	if !supported {
		return fmt.Errorf("unsupported tunnel type %q", c.TunnelType)
	}
	return nil
}

func (c networkTunnelConfig) toNetworkTunnelConfig() networktunnel.Config {
	var w = c.SshForwardingConfig
	return networktunnel.Config{
		SshEndpoint: w.SshEndpoint,
		SshUser:     w.SshUser,
		PrivateKey:  w.SshPrivateKeyBase64,
		RemoteHost:  w.RemoteHost,
		RemotePort:  w.RemotePort,
		LocalPort:   w.LocalPort,
	}
}

type args struct {
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var opts args
	var parser = flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	mbp.InitLog(opts.Log)

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.WithField("error", err).Fatal("reading stdin")
	}

	var wireCfg networkTunnelConfig
	if err := json.Unmarshal(input, &wireCfg); err != nil {
		log.WithField("error", err).Fatal("parsing NetworkTunnelConfig")
	}
	if err := wireCfg.validate(); err != nil {
		log.WithField("error", err).Fatal("invalid NetworkTunnelConfig")
	}

	var tunnel = networktunnel.New(wireCfg.toNetworkTunnelConfig(), ops.StdLogger())
	if err := tunnel.Prepare(); err != nil {
		log.WithField("error", err).Fatal("preparing tunnel")
	}
	defer tunnel.Close()

	if _, err := os.Stdout.Write([]byte("READY\n")); err != nil {
		log.WithField("error", err).Fatal("writing ready sentinel")
	}

	if err := tunnel.Serve(); err != nil {
		log.WithField("error", err).Fatal("serving tunnel")
	}
}
