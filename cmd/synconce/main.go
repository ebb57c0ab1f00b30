// Command synconce runs a single sync pass against one group or every
// connected group, then exits — useful for cron-driven deployments that
// prefer an external scheduler over the server's built-in robfig/cron
// loop, and for manual backfills. Grounded on the teacher's thin
// single-purpose cmd/ binaries (cmd/tarsy is the only one that exists
// in the teacher, but the one-binary-per-operational-concern shape
// matches its deploy/ layout).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/tampadevs/communityevents/internal/config"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/provider"
	"github.com/tampadevs/communityevents/internal/provider/eventbriterest"
	"github.com/tampadevs/communityevents/internal/provider/icalendar"
	"github.com/tampadevs/communityevents/internal/provider/meetupgql"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/sync"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	groupSlug := flag.String("group", "", "sync only this group, by slug (default: all connected groups)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, continuing with process environment")
	}

	if err := run(context.Background(), *groupSlug); err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, groupSlug string) error {
	dbCfg, err := config.LoadDatabaseConfigFromEnv()
	if err != nil {
		return err
	}
	httpCfg := config.DefaultHTTPConfig()
	syncCfg := config.DefaultSyncConfig()

	st, err := store.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := provider.NewRegistry()
	registry.Register(meetupgql.New(httpCfg.ProviderTimeout))
	registry.Register(eventbriterest.New(httpCfg.ProviderTimeout))
	registry.Register(icalendar.New(httpCfg.ProviderTimeout))

	bus := eventbus.New(st.Pool())
	syncSvc := sync.New(st, registry, bus, config.OSEnv{}, syncCfg)

	if groupSlug != "" {
		result, err := syncSvc.SyncGroupByUrlname(ctx, groupSlug)
		if err != nil {
			return err
		}
		slog.Info("sync complete", "group", groupSlug, "created", result.EventsCreated,
			"updated", result.EventsUpdated, "deleted", result.EventsDeleted, "success", result.Success)
		return nil
	}

	all := syncSvc.SyncAllGroups(ctx, sync.Options{})
	slog.Info("sync complete", "total", all.Total, "succeeded", all.Succeeded, "failed", all.Failed)
	return nil
}
