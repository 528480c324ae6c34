package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/store"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (RELAY_* environment variables override it)")
	listen := flag.String("listen", "", "WebSocket bind address")
	metrics := flag.String("metrics", "", "HTTP bind address for /metrics and /healthz (empty to disable)")
	advertise := flag.String("advertise", "", "host:port printed in the connect key")
	auditDB := flag.String("audit-db", "", "SQLite audit journal path (empty for in-memory)")
	timeout := flag.Duration("registration-timeout", 0, "Time a connection has to register")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	exportEvents := flag.Bool("export-events", false, "Export the audit journal as YAML and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	logger, err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	// explicitly set flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listen
		case "metrics":
			cfg.MetricsAddr = *metrics
		case "advertise":
			cfg.AdvertiseAddr = *advertise
		case "audit-db":
			cfg.AuditDB = *auditDB
		case "registration-timeout":
			cfg.RegistrationTimeout = *timeout
		}
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if *printConfig {
		data, err := cfg.YAML()
		if err != nil {
			slog.Error("print config", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	if *exportEvents {
		if err := exportJournal(cfg.AuditDB); err != nil {
			slog.Error("export events", "err", err)
			os.Exit(1)
		}
		return
	}

	var journal store.Journal
	if cfg.AuditDB != "" {
		j, err := datastore.NewJournal(cfg.AuditDB)
		if err != nil {
			slog.Error("open audit journal", "path", cfg.AuditDB, "err", err)
			os.Exit(1)
		}
		journal = j
	}

	fmt.Printf("Connect key: %s\n", protocol.ConnectKey(connectAddr(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.Dependencies{Journal: journal, Logger: logger})
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// connectAddr returns the address clients should dial.
func connectAddr(cfg server.Config) string {
	if cfg.AdvertiseAddr != "" {
		return cfg.AdvertiseAddr
	}
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return cfg.ListenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

type journalExport struct {
	Counts map[model.EventKind]int `yaml:"counts"`
	Events []model.Event           `yaml:"events"`
}

func exportJournal(path string) error {
	if path == "" {
		return fmt.Errorf("no audit_db configured")
	}
	j, err := datastore.NewJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	counts, err := j.Counts(ctx)
	if err != nil {
		return err
	}
	events, err := j.List(ctx, model.EventFilters{})
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(journalExport{Counts: counts, Events: events})
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
