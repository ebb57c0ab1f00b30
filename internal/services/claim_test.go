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

func seedBadge(t *testing.T, st *store.Store, slug string) string {
	t.Helper()
	var badgeID string
	err := st.Pool().QueryRow(context.Background(),
		`INSERT INTO badges (slug, name) VALUES ($1, $2) RETURNING id`, slug, "Night Owl").Scan(&badgeID)
	require.NoError(t, err)
	return badgeID
}

func seedClaimLink(t *testing.T, st *store.Store, badgeID string, maxUses *int, expiresAt *time.Time) string {
	t.Helper()
	var code string
	err := st.Pool().QueryRow(context.Background(),
		`INSERT INTO badge_claim_links (code, badge_id, max_uses, expires_at)
		 VALUES (replace(gen_random_uuid()::text, '-', ''), $1, $2, $3) RETURNING code`,
		badgeID, maxUses, expiresAt).Scan(&code)
	require.NoError(t, err)
	return code
}

func TestClaimSucceedsAndAwardsBadge(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewClaimService(st)
	ctx := context.Background()

	badgeID := seedBadge(t, st, "night-owl")
	code := seedClaimLink(t, st, badgeID, nil, nil)
	userID := seedUser(t, st, "alice")

	result, err := svc.Claim(ctx, userID, code)
	require.NoError(t, err)
	require.Equal(t, "night-owl", result.Value.Slug)
	require.Len(t, result.Events, 1)
	require.Equal(t, "user.badge_claimed", result.Events[0].Type)

	has, err := st.HasBadge(ctx, userID, badgeID)
	require.NoError(t, err)
	require.True(t, has)
}

func TestClaimRejectsSameUserTwice(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewClaimService(st)
	ctx := context.Background()

	badgeID := seedBadge(t, st, "night-owl")
	code := seedClaimLink(t, st, badgeID, nil, nil)
	userID := seedUser(t, st, "alice")

	_, err := svc.Claim(ctx, userID, code)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, userID, code)
	require.ErrorIs(t, err, svcerr.ErrConflict)
}

func TestClaimRejectsExpiredCode(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewClaimService(st)
	ctx := context.Background()

	badgeID := seedBadge(t, st, "night-owl")
	past := time.Now().Add(-time.Hour)
	code := seedClaimLink(t, st, badgeID, nil, &past)
	userID := seedUser(t, st, "alice")

	_, err := svc.Claim(ctx, userID, code)
	require.ErrorIs(t, err, svcerr.ErrGone)
}

func TestClaimExhaustsMaxUses(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewClaimService(st)
	ctx := context.Background()

	badgeID := seedBadge(t, st, "night-owl")
	maxUses := 1
	code := seedClaimLink(t, st, badgeID, &maxUses, nil)

	first := seedUser(t, st, "alice")
	_, err := svc.Claim(ctx, first, code)
	require.NoError(t, err)

	second := seedUser(t, st, "bob")
	_, err = svc.Claim(ctx, second, code)
	require.ErrorIs(t, err, svcerr.ErrGone)
}

// TestClaimRaceNeverExceedsMaxUses fires a burst of concurrent claims at
// a link capped at 3 uses and checks the atomic use-increment in
// store.ClaimBadgeAtomically lets exactly 3 through regardless of
// scheduling order.
func TestClaimRaceNeverExceedsMaxUses(t *testing.T) {
	st := storetest.NewTestStore(t)
	svc := NewClaimService(st)
	ctx := context.Background()

	badgeID := seedBadge(t, st, "night-owl")
	maxUses := 3
	code := seedClaimLink(t, st, badgeID, &maxUses, nil)

	const attempts = 10
	userIDs := make([]string, attempts)
	for i := range userIDs {
		userIDs[i] = seedUser(t, st, "racer"+string(rune('a'+i)))
	}

	results := make(chan error, attempts)
	for _, uid := range userIDs {
		go func(uid string) {
			_, err := svc.Claim(ctx, uid, code)
			results <- err
		}(uid)
	}

	successes := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	require.Equal(t, maxUses, successes)
}
