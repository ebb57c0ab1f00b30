package notify

import (
	"context"
	"log/slog"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
)

// Relayer is the wildcard notification handler described by spec.md
// 4.10: personal pushes for a fixed set of event types, plus broadcast
// favorite-count updates. Unmapped event types are ignored.
type Relayer struct {
	hub   *Hub
	store *store.Store
}

// New constructs a Relayer.
func New(hub *Hub, st *store.Store) *Relayer {
	return &Relayer{hub: hub, store: st}
}

// personalPayload builds the fixed per-type payload shape spec.md 4.10
// specifies. Unknown types return nil, meaning "not a personal message".
func personalPayload(env eventbus.Envelope) (kind string, payload map[string]any) {
	switch env.Type {
	case "achievement.unlocked":
		return "achievement.unlocked", map[string]any{
			"userId": env.Payload["userId"], "achievementKey": env.Payload["achievementKey"],
			"achievementName": env.Payload["achievementName"], "icon": env.Payload["icon"],
			"color": env.Payload["color"], "points": env.Payload["points"],
		}
	case "badge.issued":
		return "badge.issued", map[string]any{
			"userId": env.Payload["userId"], "badgeId": env.Payload["badgeId"], "badgeSlug": env.Payload["badgeSlug"],
		}
	case "user.score_changed":
		return "score.changed", map[string]any{
			"userId": env.Payload["userId"], "totalScore": env.Payload["totalScore"],
		}
	case "event.rsvp":
		return "event.rsvp", map[string]any{
			"userId": env.Payload["userId"], "eventId": env.Payload["eventId"], "status": env.Payload["status"],
			"promotedFromWaitlist": env.Payload["promotedFromWaitlist"],
		}
	case "onboarding.step_completed":
		return "onboarding.step_completed", map[string]any{
			"userId": env.Payload["userId"], "stepKey": env.Payload["stepKey"],
		}
	case "onboarding.completed":
		return "onboarding.completed", map[string]any{"userId": env.Payload["userId"]}
	case "user.badge_claimed":
		return "user.badge_claimed", map[string]any{
			"userId": env.Payload["userId"], "badgeId": env.Payload["badgeId"], "badgeSlug": env.Payload["badgeSlug"],
		}
	default:
		return "", nil
	}
}

// Handle routes env to its personal or broadcast path, or drops it if
// unmapped (spec.md 4.10).
func (r *Relayer) Handle(ctx context.Context, env eventbus.Envelope) error {
	switch env.Type {
	case "user.favorite_added", "user.favorite_removed":
		return r.broadcastFavoriteCount(ctx, env)
	}

	kind, payload := personalPayload(env)
	if kind == "" {
		return nil
	}
	userID, ok := env.UserID()
	if !ok {
		return nil
	}
	payload["type"] = kind
	r.hub.SendToUser(userID, payload)
	return nil
}

// broadcastFavoriteCount recomputes a group's favorite count from the
// store and broadcasts it, per spec.md 4.10's "recompute... and send a
// broadcast message" — never trusting a count carried in the event
// payload, since favorites.Remove's always-emit policy (spec.md 9) means
// the payload alone can't be assumed accurate.
func (r *Relayer) broadcastFavoriteCount(ctx context.Context, env eventbus.Envelope) error {
	groupIDRaw, ok := env.Payload["groupId"]
	if !ok {
		return nil
	}
	groupID, ok := groupIDRaw.(string)
	if !ok || groupID == "" {
		return nil
	}

	count, err := r.store.CountFavorites(ctx, groupID)
	if err != nil {
		slog.Error("notify: counting favorites failed", "error", err, "group_id", groupID)
		return err
	}

	slug, _ := env.Payload["groupSlug"].(string)
	r.hub.Broadcast(map[string]any{
		"type": "favorite.count_changed", "groupSlug": slug, "favoriteCount": count,
	})
	return nil
}
