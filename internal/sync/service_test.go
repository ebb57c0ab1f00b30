package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tampadevs/communityevents/internal/canonical"
	"github.com/tampadevs/communityevents/internal/config"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/provider"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/storetest"
)

// fakeAdapter returns a fixed, externally-mutable event set so tests can
// change what the "upstream" reports between sync runs.
type fakeAdapter struct {
	platform canonical.Platform
	events   []canonical.Event
}

func (f *fakeAdapter) Platform() canonical.Platform                           { return f.platform }
func (f *fakeAdapter) Name() string                                           { return "fake" }
func (f *fakeAdapter) IsConfigured(env provider.Env) bool                     { return true }
func (f *fakeAdapter) Initialize(ctx context.Context, env provider.Env) error { return nil }
func (f *fakeAdapter) FetchGroup(ctx context.Context, id string) (*canonical.Group, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchEvents(ctx context.Context, platformIdentifier string, opts canonical.FetchOptions) canonical.FetchResult {
	return canonical.FetchResult{Events: f.events}
}

func seedGroupWithConnection(t *testing.T, st *store.Store, platform canonical.Platform) (groupID, platformID string) {
	t.Helper()
	ctx := context.Background()
	err := st.Pool().QueryRow(ctx,
		`INSERT INTO groups (slug, name) VALUES ($1, $2) RETURNING id`,
		"tampadevs-"+t.Name(), "Tampa Devs").Scan(&groupID)
	require.NoError(t, err)

	platformID = "org-" + t.Name()
	_, err = st.Pool().Exec(ctx,
		`INSERT INTO platform_connections (group_id, platform, platform_id) VALUES ($1, $2, $3)`,
		groupID, string(platform), platformID)
	require.NoError(t, err)
	return groupID, platformID
}

func canonicalEvent(platform canonical.Platform, platformID, title string) canonical.Event {
	return canonical.Event{
		PlatformID: platformID,
		Platform:   platform,
		Title:      title,
		StartTime:  time.Now().Add(24 * time.Hour),
		Status:     canonical.EventStatusActive,
		EventType:  canonical.EventTypePhysical,
	}
}

func TestSyncCreatesNewEventsAndInfersDeletions(t *testing.T) {
	st := storetest.NewTestStore(t)
	bus := eventbus.New(st.Pool())
	const platform = canonical.Platform("fake_platform")
	groupID, platformID := seedGroupWithConnection(t, st, platform)

	adapter := &fakeAdapter{platform: platform, events: []canonical.Event{
		canonicalEvent(platform, "evt-1", "Go Night"),
		canonicalEvent(platform, "evt-2", "Rust Night"),
	}}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	svc := New(st, registry, bus, config.OSEnv{}, config.DefaultSyncConfig())
	ctx := context.Background()

	result := svc.SyncGroup(ctx, groupID)
	require.True(t, result.Success)
	require.Equal(t, 2, result.EventsCreated)
	require.Equal(t, 0, result.EventsDeleted)

	// Upstream stops reporting evt-2 on the next sync: it must be
	// inferred deleted (cancelled), while evt-1 is merely updated.
	adapter.events = []canonical.Event{canonicalEvent(platform, "evt-1", "Go Night (room change)")}

	result = svc.SyncGroup(ctx, groupID)
	require.True(t, result.Success)
	require.Equal(t, 0, result.EventsCreated)
	require.Equal(t, 1, result.EventsUpdated)
	require.Equal(t, 1, result.EventsDeleted)

	future, err := st.ListFutureActiveEventsByGroup(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, future, 1)
	require.Equal(t, "evt-1", future[0].PlatformID)
	_ = platformID
}

func TestSyncDeletionInferenceNeverTouchesOtherPlatforms(t *testing.T) {
	st := storetest.NewTestStore(t)
	bus := eventbus.New(st.Pool())
	const platformA = canonical.Platform("fake_platform_a")
	const platformB = canonical.Platform("fake_platform_b")
	groupID, _ := seedGroupWithConnection(t, st, platformA)

	_, err := st.Pool().Exec(context.Background(),
		`INSERT INTO platform_connections (group_id, platform, platform_id) VALUES ($1, $2, $3)`,
		groupID, string(platformB), "org-b")
	require.NoError(t, err)

	adapterA := &fakeAdapter{platform: platformA, events: []canonical.Event{canonicalEvent(platformA, "a-1", "A event")}}
	adapterB := &fakeAdapter{platform: platformB, events: []canonical.Event{canonicalEvent(platformB, "b-1", "B event")}}
	registry := provider.NewRegistry()
	registry.Register(adapterA)
	registry.Register(adapterB)

	svc := New(st, registry, bus, config.OSEnv{}, config.DefaultSyncConfig())
	ctx := context.Background()

	result := svc.SyncGroup(ctx, groupID)
	require.True(t, result.Success)

	// Platform A's next fetch reports nothing — only A's event is
	// cancelled, B's is untouched even though both belong to the group.
	adapterA.events = nil
	result = svc.SyncGroup(ctx, groupID)
	require.True(t, result.Success)

	future, err := st.ListFutureActiveEventsByGroup(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, future, 1)
	require.Equal(t, "b-1", future[0].PlatformID)
}
