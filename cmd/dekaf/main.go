package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/estuary/agent/internal/dekaf"
	"github.com/estuary/agent/internal/ops"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"
)

type listen struct {
	Port uint16 `long:"port" optional:"true" default:"9092" description:"Port to serve the Kafka wire protocol on"`
}

type brokerConfig struct {
	NodeID int32  `long:"node-id" default:"1"`
	Host   string `long:"host" required:"true" description:"Advertised broker host, returned in Metadata responses"`
}

type args struct {
	Listen      listen                `group:"Listen" namespace:"listen" env-namespace:"LISTEN"`
	Broker      brokerConfig          `group:"Broker" namespace:"broker" env-namespace:"BROKER"`
	Config      string                `long:"config" required:"true" description:"Path to a dekaf.TaskConfig JSON document"`
	TokenSecret string                `long:"token-secret" required:"true" env:"TOKEN_SECRET" description:"HS256 secret validating PLAIN-mechanism bearer tokens"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var opts args
	var parser = flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	defer mbp.InitDiagnosticsAndRecover(opts.Diagnostics)()
	mbp.InitLog(opts.Log)

	raw, err := os.ReadFile(opts.Config)
	mbp.Must(err, "reading task config")

	var cfg dekaf.TaskConfig
	mbp.Must(json.Unmarshal(raw, &cfg), "parsing task config")

	var client = dekaf.NewAPIClient(cfg.ControlPlaneURL, cfg.AuthToken)
	var mb = dekaf.MetadataBuilder{
		Broker:   dekaf.Broker{NodeID: opts.Broker.NodeID, Host: opts.Broker.Host, Port: int32(opts.Listen.Port)},
		Journals: dekaf.NewAPIJournalLister(client),
	}
	var records = dekaf.NewAPIRecordSource(client, dekaf.NoopJournalReader{}, cfg)
	var auth = dekaf.TokenAuthenticator{Secret: []byte(opts.TokenSecret)}
	var mechs = []dekaf.Mechanism{dekaf.MechanismPlain}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Listen.Port))
	mbp.Must(err, "binding listener")

	var tasks = task.NewGroup(context.Background())
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			listener.Close()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	tasks.Queue("accept loop", func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-tasks.Context().Done():
					return nil
				default:
				}
				return fmt.Errorf("accepting connection: %w", err)
			}

			var session = dekaf.NewSession(conn, auth, mechs, cfg, mb, records, ops.StdLogger())
			go func() {
				if err := session.Serve(tasks.Context()); err != nil {
					log.WithField("error", err).WithField("remote", conn.RemoteAddr()).
						Info("dekaf session ended")
				}
			}()
		}
	})

	tasks.GoRun()
	mbp.Must(tasks.Wait(), "dekaf task failed")
	log.Info("goodbye")
}
