// Copyright 2024-2026 Aiku AI

// Command federation-bridge links a local chat platform to the Matrix
// federation. It runs the appservice that receives federation events, the
// local event bus the chat platform publishes to, and an admin API for
// settings, identifier verification and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"
	"maunium.net/go/mautrix/appservice"

	"github.com/aiku/federation-bridge/pkg/bridge"
	"github.com/aiku/federation-bridge/pkg/localbus"
	"github.com/aiku/federation-bridge/pkg/matrixtransport"
	"github.com/aiku/federation-bridge/pkg/media"
	"github.com/aiku/federation-bridge/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var writeExampleConfig = flag.MakeFull("g", "generate-config", "Save the example config to the config path and quit.", "false").Bool()
var dontSaveConfig = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var version = flag.MakeFull("v", "version", "View bridge version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		"federation-bridge - A local chat to Matrix federation bridge",
		"federation-bridge [-hgvn] [-c <path>]")
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("federation-bridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *writeExampleConfig {
		if _, err = os.Stat(*configPath); !errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintln(os.Stderr, *configPath, "already exists, please remove it if you want to generate a new example")
			os.Exit(1)
		}
		if err = os.WriteFile(*configPath, []byte(bridge.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := bridge.LoadConfig(*configPath, !*dontSaveConfig)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	exzerolog.SetupDefaults(log)

	os.Exit(run(cfg, *log))
}

func run(cfg *bridge.Config, log zerolog.Logger) int {
	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	defer cancel()

	db, err := dbutil.NewFromConfig("federation-bridge", cfg.Database, dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger()))
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize database connection")
		return 14
	}
	st := store.New(db)
	defer st.Close()
	if err = st.Upgrade(ctx); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to upgrade database")
		return 15
	}

	files, err := media.NewFileStore(cfg.Media.Directory, cfg.Media.MaxSize)
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to prepare media storage")
		return 16
	}

	as, err := newAppService(cfg, log)
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize appservice")
		return 17
	}

	opts := bridge.Options{
		Log:               log,
		Store:             st,
		Metrics:           bridge.NewMetrics(prometheus.DefaultRegisterer),
		Settings:          cfg.Bridge.Settings(),
		VerifyConcurrency: cfg.Bridge.VerifyConcurrency,
	}
	var transport *matrixtransport.Transport
	if as != nil {
		transport = matrixtransport.New(as, time.Duration(cfg.Bridge.TypingTimeout)*time.Second, log)
		opts.Transport = transport
		opts.Media = media.NewRelay(files, transport, log)
	} else {
		log.Warn().Msg("Homeserver address or appservice registration not configured, federation is disabled")
	}

	bus := localbus.New(log)
	opts.Broadcaster = bus
	br := bridge.New(opts)
	br.RegisterLocalHandlers(bus)

	var ep *appservice.EventProcessor
	if as != nil {
		source := matrixtransport.NewEventSource(func() string { return br.Settings().ServerName }, log)
		br.Start(source)
		ep = appservice.NewEventProcessor(as)
		source.Attach(ep)
		ep.Start(ctx)
		go as.Start()
	}

	admin := br.NewAdminServer(cfg.Bridge.AdminAPIAddr, prometheus.DefaultGatherer)
	go func() {
		log.Info().Str("address", admin.Addr).Msg("Starting admin API")
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin API listener failed")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("Interrupt signal received from OS, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = admin.Shutdown(shutdownCtx)
	br.UnregisterLocalHandlers(bus)
	if as != nil {
		as.Stop()
		ep.Stop()
	}
	return 0
}

// newAppService returns nil without an error when the federation side is
// not configured yet.
func newAppService(cfg *bridge.Config, log zerolog.Logger) (*appservice.AppService, error) {
	if cfg.Homeserver.Address == "" || cfg.AppService.Registration == "" {
		return nil, nil
	}
	reg, err := appservice.LoadRegistration(cfg.AppService.Registration)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     reg,
		HomeserverDomain: cfg.Homeserver.Domain,
		HomeserverURL:    cfg.Homeserver.Address,
		HostConfig: appservice.HostConfig{
			Hostname: cfg.AppService.Hostname,
			Port:     cfg.AppService.Port,
		},
	})
	if err != nil {
		return nil, err
	}
	as.Log = log.With().Str("component", "appservice").Logger()
	return as, nil
}
