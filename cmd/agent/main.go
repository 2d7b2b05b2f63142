package main

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/estuary/agent/internal/alerts"
	"github.com/estuary/agent/internal/api"
	"github.com/estuary/agent/internal/connector"
	"github.com/estuary/agent/internal/controller"
	"github.com/estuary/agent/internal/ops"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/store"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file's shape, for settings that
// don't fit naturally as CLI flags (the alert dashboard link and
// recipient list), following authn/main.go's top-level Config/yaml.v3
// pattern.
type fileConfig struct {
	DashboardURL string   `yaml:"dashboardURL"`
	Recipients   []string `yaml:"recipients"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg = fileConfig{DashboardURL: "https://dashboard.estuary.example"}
	if path == "" {
		return cfg, nil
	}
	in, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer in.Close()

	var dec = yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

type listen struct {
	Port uint16 `long:"port" optional:"true" default:"8080" description:"Port to serve the HTTP API on"`
}

type database struct {
	Path string `long:"path" required:"true" description:"Path to the sqlite catalog database"`
}

type buildsConfig struct {
	Root string `long:"root" default:"./builds" description:"Directory built-catalog blobs are persisted under, keyed by publication id"`
}

type smtpConfig struct {
	Addr     string `long:"addr" description:"SMTP relay address (host:port); alerts are logged instead of sent if unset"`
	From     string `long:"from" default:"alerts@estuary.example"`
	Username string `long:"username"`
	Password string `long:"password"`
}

type args struct {
	Listen      listen                `group:"Listen" namespace:"listen" env-namespace:"LISTEN"`
	Database    database              `group:"Database" namespace:"db" env-namespace:"DB"`
	Builds      buildsConfig          `group:"Builds" namespace:"builds" env-namespace:"BUILDS"`
	SMTP        smtpConfig            `group:"SMTP" namespace:"smtp" env-namespace:"SMTP"`
	TokenSecret string                `long:"token-secret" required:"true" env:"TOKEN_SECRET" description:"HS256 secret used to verify API bearer tokens"`
	Config      string                `long:"config" description:"Optional YAML file of settings not covered by flags (dashboard URL, alert recipients)"`
	Recipients  string                `long:"alert-recipients" description:"Comma-separated default recipient list for alert notifications, overriding the config file's"`
	OwnerID     string                `long:"owner-id" default:"" description:"Identifies this process's claimed controller/notifier rows; defaults to hostname"`
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

	fileCfg, err := loadFileConfig(opts.Config)
	mbp.Must(err, "loading config file")

	var ownerID = opts.OwnerID
	if ownerID == "" {
		ownerID, _ = os.Hostname()
	}

	var ctx = context.Background()
	st, err := store.Open(ctx, opts.Database.Path)
	mbp.Must(err, "opening catalog database")
	defer st.Close()

	initial, err := st.LoadSnapshot(ctx)
	mbp.Must(err, "loading initial authorization snapshot")
	var snaps = snapshot.NewCache(initial)

	var publish = publication.NewEngine(st, snaps, connector.Drivers())
	publish.Builds = publication.FileBuildsStore{Root: opts.Builds.Root}

	var engine = &controller.Engine{
		Store:      st,
		Publish:    publish,
		OwnerID:    ownerID,
		Discovery:  connector.DiscoverySource(),
		Inferences: connector.InferredSchemaSource(),
	}

	var sender alerts.EmailSender
	if opts.SMTP.Addr == "" {
		sender = alerts.DisabledSender{Logger: ops.StdLogger()}
	} else {
		var auth smtp.Auth
		if opts.SMTP.Username != "" {
			var host = opts.SMTP.Addr
			if idx := strings.IndexByte(host, ':'); idx >= 0 {
				host = host[:idx]
			}
			auth = smtp.PlainAuth("", opts.SMTP.Username, opts.SMTP.Password, host)
		}
		sender = alerts.SMTPSender{Addr: opts.SMTP.Addr, From: opts.SMTP.From, Auth: auth}
	}

	var defaultRecipients = fileCfg.Recipients
	if opts.Recipients != "" {
		defaultRecipients = strings.Split(opts.Recipients, ",")
	}

	var notifier = &alerts.Notifier{
		Store:      st,
		Renderer:   alerts.NewRenderer(fileCfg.DashboardURL),
		Sender:     sender,
		Recipients: func(string) []string { return defaultRecipients },
	}

	var handler = &api.Handler{
		Store:       st,
		Publish:     publish,
		Snaps:       snaps,
		TokenSecret: []byte(opts.TokenSecret),
		Logger:      ops.StdLogger(),
	}
	var httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Listen.Port),
		Handler: handler.Mux(),
	}

	var tasks = task.NewGroup(ctx)
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			_ = httpServer.Close()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	tasks.Queue("http.ListenAndServe", func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving http api: %w", err)
		}
		return nil
	})

	tasks.Queue("controller loop", func() error {
		return pollLoop(tasks.Context(), "controller", func(ctx context.Context) (bool, error) {
			return engine.Tick(ctx)
		})
	})

	tasks.Queue("notifier loop", func() error {
		return pollLoop(tasks.Context(), "notifier", func(ctx context.Context) (bool, error) {
			return notifier.Tick(ctx, ownerID)
		})
	})

	tasks.Queue("snapshot refresh loop", func() error {
		var ticker = time.NewTicker(snapshot.MinInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tasks.Context().Done():
				return nil
			case <-ticker.C:
			case <-snaps.Current().RefreshRequested():
			}
			next, err := st.LoadSnapshot(tasks.Context())
			if err != nil {
				log.WithField("error", err).Error("refreshing authorization snapshot")
				continue
			}
			snaps.Replace(next)
		}
	})

	tasks.GoRun()
	mbp.Must(tasks.Wait(), "agent task failed")
	log.Info("goodbye")
}

// pollLoop repeatedly calls tick until it reports no work was runnable,
// then sleeps briefly before trying again; shared by the controller and
// notifier engines, both of which claim at most one row per call (§4.6,
// §4.7).
func pollLoop(ctx context.Context, name string, tick func(context.Context) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ran, err := tick(ctx)
		if err != nil {
			log.WithField("error", err).WithField("loop", name).Error("tick failed")
		}
		if !ran {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}
