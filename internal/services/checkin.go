package services

import (
	"context"
	"fmt"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
)

// CheckInService implements spec.md 3's check-in code / check-in
// entities: a max-uses-bounded code redeemable once per (event, user).
type CheckInService struct {
	store *store.Store
}

// NewCheckInService constructs a CheckInService.
func NewCheckInService(st *store.Store) *CheckInService {
	return &CheckInService{store: st}
}

// CheckIn redeems a check-in code for a user at an event, atomically
// bounding the code's use count exactly like badge claim links do
// (spec.md 3, 8).
func (s *CheckInService) CheckIn(ctx context.Context, eventID, userID, code string) (Result[struct{}], error) {
	codeID, _, _, err := s.store.GetCheckInCode(ctx, eventID, code)
	if err != nil {
		return Result[struct{}]{}, err
	}

	claimed, err := s.store.ClaimCheckInUse(ctx, *codeID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if !claimed {
		return Result[struct{}]{}, fmt.Errorf("check-in code has no uses remaining")
	}

	if _, err := s.store.InsertCheckIn(ctx, eventID, userID); err != nil {
		return Result[struct{}]{}, fmt.Errorf("recording check-in: %w", err)
	}

	events := []eventbus.Envelope{eventbus.New("event.checkin", map[string]any{
		"userId": userID, "eventId": eventID,
	}, eventbus.Metadata{UserID: &userID, Source: "checkin"})}
	return Result[struct{}]{Events: events}, nil
}
