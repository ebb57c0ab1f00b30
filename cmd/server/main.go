// Command server is the composition root: it wires the store, the
// provider registry, the sync service, the durable event bus and its
// queue dispatcher, the achievement engine, the webhook deliverer, the
// notification relayer, the MCP server, and the HTTP API, then serves
// traffic until signaled to stop. Grounded on the teacher's
// cmd/tarsy/main.go startup shape (flag/env config, ordered
// initialization, graceful shutdown), generalized from gin+ent to
// echo+pgx.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/tampadevs/communityevents/internal/achievements"
	"github.com/tampadevs/communityevents/internal/api"
	"github.com/tampadevs/communityevents/internal/authn"
	"github.com/tampadevs/communityevents/internal/config"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/mcpserver"
	"github.com/tampadevs/communityevents/internal/notify"
	"github.com/tampadevs/communityevents/internal/provider/eventbriterest"
	"github.com/tampadevs/communityevents/internal/provider/icalendar"
	"github.com/tampadevs/communityevents/internal/provider/meetupgql"
	"github.com/tampadevs/communityevents/internal/queue"
	"github.com/tampadevs/communityevents/internal/services"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/sync"
	"github.com/tampadevs/communityevents/internal/tokencrypt"
	"github.com/tampadevs/communityevents/internal/webhook"

	"github.com/tampadevs/communityevents/internal/provider"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, continuing with process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	dbCfg, err := config.LoadDatabaseConfigFromEnv()
	if err != nil {
		return err
	}
	httpCfg := config.DefaultHTTPConfig()
	syncCfg := config.DefaultSyncConfig()
	queueCfg := config.DefaultQueueConfig()
	providerCfg := config.LoadProviderConfig()

	st, err := store.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("connected to database", "host", dbCfg.Host, "database", dbCfg.Database)

	registry := provider.NewRegistry()
	registry.Register(meetupgql.New(httpCfg.ProviderTimeout))
	registry.Register(eventbriterest.New(httpCfg.ProviderTimeout))
	registry.Register(icalendar.New(httpCfg.ProviderTimeout))

	bus := eventbus.New(st.Pool())
	syncSvc := sync.New(st, registry, bus, config.OSEnv{}, syncCfg)

	box, err := tokencrypt.New(providerCfg.TokenEncryptionKey)
	if err != nil {
		return err
	}

	dispatcher := queue.New(st.Pool(), queueCfg)

	engine := achievements.New(st, bus)
	dispatcher.OnBatchStart(engine.Reset)
	dispatcher.Register(queue.Wildcard, engine.Handle)

	deliverer := webhook.New(st, httpCfg.WebhookTimeout, box)
	dispatcher.Register(queue.Wildcard, deliverer.Handle)

	hub := notify.NewHub()
	relayer := notify.New(hub, st)
	dispatcher.Register(queue.Wildcard, relayer.Handle)

	var wg stdsync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	sched := cron.New()
	if _, err := sched.AddFunc(syncCfg.Schedule, func() {
		slog.Info("starting scheduled sync of all groups")
		result := syncSvc.SyncAllGroups(ctx, sync.Options{})
		slog.Info("scheduled sync complete", "total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed)
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	mcpRegistry := mcpserver.NewRegistry()
	mcpserver.RegisterDomainTools(mcpRegistry, st, syncSvc)
	mcp := mcpserver.New(mcpRegistry, mcpserver.ServerInfo{Name: "communityevents", Version: "1.0.0"})

	verifier := authn.NewVerifier(os.Getenv("SESSION_SIGNING_SECRET"))

	srv := api.NewServer(
		st, bus, syncSvc,
		services.NewRSVPService(st),
		services.NewFavoritesService(st),
		services.NewClaimService(st),
		services.NewCheckInService(st),
		mcp, hub, verifier, box,
	)

	addr := ":" + getEnvOrDefault("HTTP_PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	dispatcher.Stop()
	wg.Wait()
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
