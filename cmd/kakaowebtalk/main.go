// KakaoWebTalk — browser gateway for the LOCO chat protocol.
//
// The process serves a small web app plus a WebSocket channel per browser,
// and relays each authenticated browser session over its own TLS connection
// to the messaging backend.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/theman001/KakaoWebTalk/internal/config"
	"github.com/theman001/KakaoWebTalk/internal/gateway"
	"github.com/theman001/KakaoWebTalk/internal/identity"
	"github.com/theman001/KakaoWebTalk/internal/metrics"
	"github.com/theman001/KakaoWebTalk/internal/store"
	"github.com/theman001/KakaoWebTalk/internal/util"
	"github.com/theman001/KakaoWebTalk/internal/web"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	listenFlag := flag.String("listen", "", "Override the web server listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("KakaoWebTalk — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Server.Listen = *listenFlag
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("gateway shut down cleanly")
}

// run wires the collaborators together and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	// Session store: durable when a path is configured, in-memory otherwise.
	var sessions gateway.Store
	if cfg.Store.Path != "" {
		bolt, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer bolt.Close()
		sessions = bolt
		util.LogInfo("session store: %s", cfg.Store.Path)
	} else {
		sessions = store.NewMemory()
		util.LogWarning("no store path configured, sessions will not survive a restart")
	}

	idc := identity.New(identity.Config{
		AuthURL:    cfg.Auth.URL,
		DeviceUUID: cfg.Auth.DeviceUUID,
	})

	m := metrics.New()

	var tlsCfg *tls.Config
	if cfg.Backend.InsecureSkipVerify {
		util.LogWarning("backend certificate verification is DISABLED")
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}

	gw := gateway.New(ctx, gateway.Options{
		BackendAddr: cfg.Backend.Addr(),
		TLSConfig:   tlsCfg,
		Client: gateway.ClientProfile{
			AppVersion: cfg.Client.AppVersion,
			OS:         cfg.Client.OS,
			Language:   cfg.Client.Language,
			CountryISO: cfg.Client.CountryISO,
			NetType:    cfg.Client.NetType,
		},
		Store:    sessions,
		Identity: idc,
		Metrics:  m,
	})

	util.StartStatsReporter(ctx)

	srv := web.NewServer(ctx, gw, cfg.Server.PublicDir, m.Handler())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gCtx, cfg.Server.Listen)
	})

	return g.Wait()
}
