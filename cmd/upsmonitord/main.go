package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voltwatch/upsmonitor/internal/config"
	"github.com/voltwatch/upsmonitor/internal/devicecrypto"
	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/httpapi"
	"github.com/voltwatch/upsmonitor/internal/nut"
	"github.com/voltwatch/upsmonitor/internal/poller"
	"github.com/voltwatch/upsmonitor/internal/relay"
	"github.com/voltwatch/upsmonitor/internal/repository"
	"github.com/voltwatch/upsmonitor/internal/telemetry"
	"github.com/voltwatch/upsmonitor/internal/updatechecker"
)

const (
	serverVersion   = "1.0.0"
	protocolVersion = "1.1"
)

func main() {
	configPath := flag.String("config", "/etc/upsmonitord/config.toml", "path to config file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath, "./config.toml")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	log.Printf("upsmonitord starting (NUT: %s:%d, UPS: %s, degraded: %v)",
		cfg.NUT.Host, cfg.NUT.Port, cfg.NUT.UPS, cfg.Degraded())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseDSN(cfg.Database))
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool)
	bus := eventbus.New()
	defer bus.Close()

	relayClient, relayBaseURL := buildRelayClient(cfg)

	var crypto *devicecrypto.Box
	if cfg.DeviceTokenKey != "" {
		crypto, err = devicecrypto.NewBox(cfg.DeviceTokenKey)
		if err != nil {
			log.Fatalf("invalid DEVICE_TOKEN_KEY: %v", err)
		}
	} else {
		log.Printf("warning: DEVICE_TOKEN_KEY not set, device tokens will be stored unencrypted")
	}

	metrics := telemetry.New()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	p := &poller.Poller{
		NewSource: func() nut.Source {
			return nut.NewClient(cfg.NUT.Host, cfg.NUT.Port, cfg.NUT.Username, cfg.NUT.Password)
		},
		UPSNames:     cfg.NUT.UPSList(),
		Repo:         repo,
		Bus:          bus,
		PollInterval: cfg.NUT.PollInterval.Duration,
	}
	if relayClient != nil {
		p.Relay = relayClient
	}
	go p.Run(ctx)

	var checker *updatechecker.Checker
	if relayClient != nil {
		checker = updatechecker.New(relayBaseURL, serverVersion, protocolVersion)
		go checker.Start(ctx)
	}

	deps := httpapi.Deps{
		Repo:          repo,
		Devices:       repo,
		Bus:           bus,
		RelayBaseURL:  relayBaseURL,
		RelayServerID: cfg.Relay.ServerID,
		Crypto:        crypto,
		Checker:       checker,
		Metrics:       metrics,
		APIToken:      cfg.APITOKEN,
		Degraded:      cfg.Degraded(),
		Environment:   cfg.Environment(),
		Version:       serverVersion,
	}
	if relayClient != nil {
		deps.Relay = relayClient
	}

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: httpapi.NewRouter(deps),
	}

	go func() {
		log.Printf("HTTP server listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down…")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("shutdown complete, exiting")
}

func databaseDSN(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Name, db.TLSMode)
}

// buildRelayClient constructs a relay.Client when every Relay env var is
// present; a misconfigured Relay is a warn-and-continue condition, not
// fatal, per §7.
func buildRelayClient(cfg *config.Config) (*relay.Client, string) {
	if cfg.Relay.TenantID == "" || cfg.Relay.Secret == "" || cfg.Relay.ServerID == "" {
		log.Printf("warning: Relay not fully configured, push notifications disabled")
		return nil, ""
	}

	relayCfg, err := relay.NewConfig(cfg.Relay.TenantID, cfg.Relay.Secret, cfg.Relay.ServerID, cfg.Relay.Deployment)
	if err != nil {
		log.Printf("warning: invalid Relay configuration, push notifications disabled: %v", err)
		return nil, ""
	}
	return relay.NewClient(relayCfg), relayCfg.BaseURL
}
