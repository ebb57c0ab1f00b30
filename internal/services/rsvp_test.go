package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/storetest"
	"github.com/tampadevs/communityevents/internal/svcerr"
)

func seedEvent(t *testing.T, st *store.Store, maxAttendees *int) string {
	t.Helper()
	ctx := context.Background()

	var groupID string
	err := st.Pool().QueryRow(ctx,
		`INSERT INTO groups (slug, name) VALUES ($1, $2) RETURNING id`,
		"tampadevs-"+t.Name(), "Tampa Devs").Scan(&groupID)
	require.NoError(t, err)

	var eventID string
	err = st.Pool().QueryRow(ctx,
		`INSERT INTO events (platform, platform_id, group_id, title, start_time, max_attendees)
		 VALUES ('native', $1, $2, 'Go Night', $3, $4) RETURNING id`,
		"evt-"+t.Name(), groupID, time.Now().Add(24*time.Hour), maxAttendees).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}

func seedUser(t *testing.T, st *store.Store, username string) string {
	t.Helper()
	var userID string
	err := st.Pool().QueryRow(context.Background(),
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&userID)
	require.NoError(t, err)
	return userID
}

func TestRSVPCreateConfirmsWhenCapacityAvailable(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	eventID := seedEvent(t, st, nil)
	userID := seedUser(t, st, "alice")

	result, err := svc.Create(ctx, eventID, userID)
	require.NoError(t, err)
	require.Equal(t, "confirmed", result.Value.Status)
	require.Len(t, result.Events, 1)
	require.Equal(t, "event.rsvp", result.Events[0].Type)
}

func TestRSVPCreateWaitlistsAtCapacity(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	capacity := 1
	eventID := seedEvent(t, st, &capacity)
	first := seedUser(t, st, "alice")
	second := seedUser(t, st, "bob")

	_, err := svc.Create(ctx, eventID, first)
	require.NoError(t, err)

	result, err := svc.Create(ctx, eventID, second)
	require.NoError(t, err)
	require.Equal(t, "waitlisted", result.Value.Status)
	require.NotNil(t, result.Value.WaitlistPosition)
	require.Equal(t, 1, *result.Value.WaitlistPosition)
}

func TestRSVPCreateRejectsDuplicateActiveRSVP(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	eventID := seedEvent(t, st, nil)
	userID := seedUser(t, st, "alice")

	_, err := svc.Create(ctx, eventID, userID)
	require.NoError(t, err)

	_, err = svc.Create(ctx, eventID, userID)
	require.ErrorIs(t, err, svcerr.ErrConflict)
}

func TestRSVPCancelPromotesHeadOfWaitlist(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	capacity := 1
	eventID := seedEvent(t, st, &capacity)
	first := seedUser(t, st, "alice")
	second := seedUser(t, st, "bob")

	_, err := svc.Create(ctx, eventID, first)
	require.NoError(t, err)
	waitlisted, err := svc.Create(ctx, eventID, second)
	require.NoError(t, err)
	require.Equal(t, "waitlisted", waitlisted.Value.Status)

	result, err := svc.Cancel(ctx, eventID, first)
	require.NoError(t, err)

	var promoted bool
	for _, env := range result.Events {
		if env.Type == "event.rsvp" {
			if env.Payload["promotedFromWaitlist"] == true {
				promoted = true
			}
		}
	}
	require.True(t, promoted, "cancelling a confirmed RSVP must promote the waitlist head")

	rsvp, err := st.GetRSVP(ctx, eventID, second)
	require.NoError(t, err)
	require.Equal(t, "confirmed", rsvp.Status)
}

func TestRSVPCreateRaceNeverExceedsCapacity(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	capacity := 3
	eventID := seedEvent(t, st, &capacity)

	const attempts = 10
	userIDs := make([]string, attempts)
	for i := range userIDs {
		userIDs[i] = seedUser(t, st, "bursty"+string(rune('a'+i)))
	}

	results := make(chan string, attempts)
	for _, uid := range userIDs {
		go func(uid string) {
			result, err := svc.Create(ctx, eventID, uid)
			require.NoError(t, err)
			results <- result.Value.Status
		}(uid)
	}

	confirmed, waitlisted := 0, 0
	for i := 0; i < attempts; i++ {
		switch <-results {
		case "confirmed":
			confirmed++
		case "waitlisted":
			waitlisted++
		}
	}
	require.Equal(t, capacity, confirmed, "confirmed admits must never exceed capacity under a concurrent burst")
	require.Equal(t, attempts-capacity, waitlisted)
}

func TestRSVPCancelAlreadyCancelledIsConflict(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewRSVPService(st)
	ctx := context.Background()

	eventID := seedEvent(t, st, nil)
	userID := seedUser(t, st, "alice")

	_, err := svc.Create(ctx, eventID, userID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, eventID, userID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, eventID, userID)
	require.ErrorIs(t, err, svcerr.ErrConflict)
}
