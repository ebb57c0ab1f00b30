package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/svcerr"
)

// ClaimService implements spec.md 4.11's badge-claim-by-code flow.
type ClaimService struct {
	store *store.Store
}

// NewClaimService constructs a ClaimService.
func NewClaimService(st *store.Store) *ClaimService {
	return &ClaimService{store: st}
}

// Claim redeems a badge claim code for a user (spec.md 4.11, 8). It
// checks existence, expiry, remaining uses, and that the user doesn't
// already hold the badge, then performs the atomic use-increment that
// bounds concurrent bursts to maxUses.
func (s *ClaimService) Claim(ctx context.Context, userID, code string) (Result[store.Badge], error) {
	link, err := s.store.GetBadgeClaimLinkByCode(ctx, code)
	if err != nil {
		return Result[store.Badge]{}, err
	}
	if link.ExpiresAt != nil && link.ExpiresAt.Before(time.Now()) {
		return Result[store.Badge]{}, fmt.Errorf("%w: claim code %q expired", svcerr.ErrGone, code)
	}

	hasBadge, err := s.store.HasBadge(ctx, userID, link.BadgeID)
	if err != nil {
		return Result[store.Badge]{}, err
	}
	if hasBadge {
		return Result[store.Badge]{}, fmt.Errorf("%w: user %s already holds badge %s", svcerr.ErrConflict, userID, link.BadgeID)
	}

	claimed, err := s.store.ClaimBadgeAtomically(ctx, link.ID)
	if err != nil {
		return Result[store.Badge]{}, err
	}
	if !claimed {
		return Result[store.Badge]{}, fmt.Errorf("%w: claim code %q has no uses remaining", svcerr.ErrGone, code)
	}

	if err := s.store.InsertUserBadgeFromClaim(ctx, userID, link.BadgeID); err != nil {
		return Result[store.Badge]{}, fmt.Errorf("recording claimed badge: %w", err)
	}

	badge, err := s.store.GetBadge(ctx, link.BadgeID)
	if err != nil {
		return Result[store.Badge]{}, err
	}

	if link.AchievementKey != nil {
		if err := s.store.ForceCompleteAchievement(ctx, userID, *link.AchievementKey, 1); err != nil {
			return Result[store.Badge]{}, fmt.Errorf("auto-completing linked achievement: %w", err)
		}
	}

	events := []eventbus.Envelope{eventbus.New("user.badge_claimed", map[string]any{
		"userId": userID, "badgeId": link.BadgeID, "badgeSlug": badge.Slug, "code": code,
	}, eventbus.Metadata{UserID: &userID, Source: "claim"})}

	if link.CustomEventType != nil {
		payload := map[string]any{"userId": userID, "badgeId": link.BadgeID, "badgeSlug": badge.Slug}
		for k, v := range link.CustomEventPayload {
			payload[k] = v
		}
		events = append(events, eventbus.New(*link.CustomEventType, payload, eventbus.Metadata{UserID: &userID, Source: "claim"}))
	}

	return Result[store.Badge]{Value: *badge, Events: events}, nil
}
