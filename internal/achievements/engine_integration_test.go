package achievements

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/storetest"
)

func seedUser(t *testing.T, st *store.Store, username string) string {
	t.Helper()
	var userID string
	err := st.Pool().QueryRow(context.Background(),
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&userID)
	require.NoError(t, err)
	return userID
}

func seedAchievement(t *testing.T, st *store.Store, key, eventType, progressMode string, target float64, gaugeField, badgeSlug *string) {
	t.Helper()
	_, err := st.Pool().Exec(context.Background(), `
INSERT INTO achievements (key, name, target_value, event_type, progress_mode, gauge_field, badge_slug)
VALUES ($1, $1, $2, $3, $4, $5, $6)`, key, target, eventType, progressMode, gaugeField, badgeSlug)
	require.NoError(t, err)
}

func TestEngineCounterProgressUnlocksOnThirdEvent(t *testing.T) {
	st := storetest.NewTestStore(t)
	bus := eventbus.New(st.Pool())
	engine := New(st, bus)
	ctx := context.Background()

	badgeSlug := "three-peat"
	seedAchievement(t, st, "checkin-streak", "event.checkin", "counter", 3, nil, &badgeSlug)
	userID := seedUser(t, st, "alice")

	for i := 0; i < 2; i++ {
		err := engine.Handle(ctx, eventbus.New("event.checkin", map[string]any{"userId": userID}, eventbus.Metadata{UserID: &userID}))
		require.NoError(t, err)
	}
	progress, err := st.GetAchievementProgress(ctx, userID, "checkin-streak")
	require.NoError(t, err)
	require.Equal(t, 2.0, progress.CurrentValue)
	require.Nil(t, progress.CompletedAt)

	err = engine.Handle(ctx, eventbus.New("event.checkin", map[string]any{"userId": userID}, eventbus.Metadata{UserID: &userID}))
	require.NoError(t, err)

	progress, err = st.GetAchievementProgress(ctx, userID, "checkin-streak")
	require.NoError(t, err)
	require.NotNil(t, progress.CompletedAt)

	has, err := st.HasBadge(ctx, userID, mustBadgeID(t, st, badgeSlug))
	require.NoError(t, err)
	require.True(t, has)
}

func TestEngineGaugeProgressTracksLatestSnapshotNotSum(t *testing.T) {
	st := storetest.NewTestStore(t)
	bus := eventbus.New(st.Pool())
	engine := New(st, bus)
	ctx := context.Background()

	gaugeField := "totalRsvps"
	seedAchievement(t, st, "rsvp-veteran", "user.score_changed", "gauge", 10, &gaugeField, nil)
	userID := seedUser(t, st, "bob")

	err := engine.Handle(ctx, eventbus.New("user.score_changed",
		map[string]any{"userId": userID, "totalRsvps": 4.0}, eventbus.Metadata{UserID: &userID}))
	require.NoError(t, err)
	progress, err := st.GetAchievementProgress(ctx, userID, "rsvp-veteran")
	require.NoError(t, err)
	require.Equal(t, 4.0, progress.CurrentValue)

	err = engine.Handle(ctx, eventbus.New("user.score_changed",
		map[string]any{"userId": userID, "totalRsvps": 7.0}, eventbus.Metadata{UserID: &userID}))
	require.NoError(t, err)
	progress, err = st.GetAchievementProgress(ctx, userID, "rsvp-veteran")
	require.NoError(t, err)
	require.Equal(t, 7.0, progress.CurrentValue, "gauge mode overwrites, it never sums repeated snapshots")
	require.Nil(t, progress.CompletedAt)
}

func TestEngineConditionGatesProgress(t *testing.T) {
	st := storetest.NewTestStore(t)
	bus := eventbus.New(st.Pool())
	engine := New(st, bus)
	ctx := context.Background()

	seedAchievement(t, st, "big-rsvp-only", "event.rsvp", "counter", 1, nil, nil)
	_, err := st.Pool().Exec(ctx,
		`UPDATE achievements SET conditions = '[{"field":"partySize","op":"gte","value":5}]' WHERE key = 'big-rsvp-only'`)
	require.NoError(t, err)
	userID := seedUser(t, st, "carol")

	err = engine.Handle(ctx, eventbus.New("event.rsvp",
		map[string]any{"userId": userID, "partySize": 2.0}, eventbus.Metadata{UserID: &userID}))
	require.NoError(t, err)
	_, err = st.GetAchievementProgress(ctx, userID, "big-rsvp-only")
	require.Error(t, err, "a condition that fails to match must never create a progress row")

	err = engine.Handle(ctx, eventbus.New("event.rsvp",
		map[string]any{"userId": userID, "partySize": 6.0}, eventbus.Metadata{UserID: &userID}))
	require.NoError(t, err)
	progress, err := st.GetAchievementProgress(ctx, userID, "big-rsvp-only")
	require.NoError(t, err)
	require.NotNil(t, progress.CompletedAt)
}

func mustBadgeID(t *testing.T, st *store.Store, slug string) string {
	t.Helper()
	var id string
	err := st.Pool().QueryRow(context.Background(), `SELECT id FROM badges WHERE slug = $1`, slug).Scan(&id)
	require.NoError(t, err)
	return id
}
