package services

import (
	"context"
	"fmt"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
)

// FavoritesService implements spec.md 4.11's favorites add/remove by
// group slug.
type FavoritesService struct {
	store *store.Store
}

// NewFavoritesService constructs a FavoritesService.
func NewFavoritesService(st *store.Store) *FavoritesService {
	return &FavoritesService{store: st}
}

// Add favorites a group for a user. Idempotent: an already-favorited
// pair returns alreadyExisted=true with no domain event (spec.md 4.11).
func (s *FavoritesService) Add(ctx context.Context, userID, groupSlug string) (Result[bool], error) {
	g, err := s.store.GetGroupBySlug(ctx, groupSlug)
	if err != nil {
		return Result[bool]{}, err
	}

	alreadyExisted, err := s.store.AddFavorite(ctx, userID, g.ID)
	if err != nil {
		return Result[bool]{}, fmt.Errorf("adding favorite: %w", err)
	}
	if alreadyExisted {
		return Result[bool]{Value: true}, nil
	}

	events := []eventbus.Envelope{eventbus.New("user.favorite_added", map[string]any{
		"userId": userID, "groupId": g.ID, "groupSlug": g.Slug,
	}, eventbus.Metadata{UserID: &userID, Source: "favorites"})}
	return Result[bool]{Value: false, Events: events}, nil
}

// Remove unfavorites a group for a user. Per the recorded decision for
// spec.md 9's open question, this always emits user.favorite_removed —
// even on a no-op remove — because the notification relayer's broadcast
// handler (spec.md 4.10) recomputes the favorite count from the store
// rather than trusting the event payload, so re-emission is harmless and
// keeps downstream aggregation self-correcting.
func (s *FavoritesService) Remove(ctx context.Context, userID, groupSlug string) (Result[bool], error) {
	g, err := s.store.GetGroupBySlug(ctx, groupSlug)
	if err != nil {
		return Result[bool]{}, err
	}

	deleted, err := s.store.RemoveFavorite(ctx, userID, g.ID)
	if err != nil {
		return Result[bool]{}, fmt.Errorf("removing favorite: %w", err)
	}

	events := []eventbus.Envelope{eventbus.New("user.favorite_removed", map[string]any{
		"userId": userID, "groupId": g.ID, "groupSlug": g.Slug,
	}, eventbus.Metadata{UserID: &userID, Source: "favorites"})}
	return Result[bool]{Value: deleted, Events: events}, nil
}
