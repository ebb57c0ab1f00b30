// Package services implements the transactional state-machine services
// of spec.md 4.11: RSVP, favorites, and badge claims. Each operation
// mutates the store and returns the domain events the caller (the HTTP
// or MCP layer) must publish on the event bus — these services never
// call eventbus.Bus themselves, mirroring the teacher's separation
// between pkg/services (pure state transitions) and pkg/events
// (publishing), so a caller inside a single DB transaction can decide
// exactly when publication happens.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/svcerr"
)

// RSVPService implements spec.md 4.11's RSVP state machine.
type RSVPService struct {
	store *store.Store
}

// NewRSVPService constructs an RSVPService.
func NewRSVPService(st *store.Store) *RSVPService {
	return &RSVPService{store: st}
}

// Result pairs a service's resulting state with the domain events the
// caller must publish, in order.
type Result[T any] struct {
	Value  T
	Events []eventbus.Envelope
}

// Create implements the state machine's "absent/cancelled -- create -->
// confirmed|waitlisted" transitions (spec.md 4.11). It fails with
// ErrNotFound if the event doesn't exist, ErrGone if the event is
// cancelled, and ErrConflict if an active RSVP already exists.
func (s *RSVPService) Create(ctx context.Context, eventID, userID string) (Result[store.RSVP], error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return Result[store.RSVP]{}, err
	}
	if ev.Status == "cancelled" {
		return Result[store.RSVP]{}, fmt.Errorf("%w: event %s is cancelled", svcerr.ErrGone, eventID)
	}

	existing, err := s.store.GetRSVP(ctx, eventID, userID)
	switch {
	case err == nil && existing.Status != "cancelled":
		return Result[store.RSVP]{}, fmt.Errorf("%w: active rsvp already exists for event %s user %s", svcerr.ErrConflict, eventID, userID)
	case err == nil && existing.Status == "cancelled":
		if err := s.store.DeleteCancelledRSVP(ctx, eventID, userID); err != nil {
			return Result[store.RSVP]{}, fmt.Errorf("clearing prior cancelled rsvp: %w", err)
		}
	}

	var (
		status string
		pos    *int
	)
	id, confirmed, err := s.store.CreateConfirmedRSVPIfCapacity(ctx, eventID, userID)
	if err != nil {
		return Result[store.RSVP]{}, err
	}
	if confirmed {
		status = "confirmed"
	} else {
		var position int
		id, position, err = s.store.CreateWaitlistedRSVP(ctx, eventID, userID)
		if err != nil {
			return Result[store.RSVP]{}, err
		}
		status = "waitlisted"
		pos = &position
	}

	if err := s.store.UpdateEventRSVPCount(ctx, eventID); err != nil {
		return Result[store.RSVP]{}, fmt.Errorf("refreshing event rsvp count: %w", err)
	}

	rsvp := store.RSVP{ID: id, EventID: eventID, UserID: userID, Status: status, WaitlistPosition: pos}
	payload := map[string]any{
		"userId": userID, "eventId": eventID, "status": status, "promotedFromWaitlist": false,
	}
	event := eventbus.New("event.rsvp", payload, eventbus.Metadata{UserID: &userID, Source: "rsvp"})
	return Result[store.RSVP]{Value: rsvp, Events: []eventbus.Envelope{event}}, nil
}

// Cancel implements the state machine's "confirmed/waitlisted --
// cancel --> cancelled" transition, including the race-safe
// head-of-waitlist promotion spec.md 4.11 and 8 require: two concurrent
// cancellations on the same event can promote at most one waitlisted
// user between them, because the promotion is a single conditional
// UPDATE keyed on the current waitlisted status.
func (s *RSVPService) Cancel(ctx context.Context, eventID, userID string) (Result[struct{}], error) {
	rsvp, err := s.store.GetRSVP(ctx, eventID, userID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if rsvp.Status == "cancelled" {
		return Result[struct{}]{}, fmt.Errorf("%w: rsvp for event %s user %s already cancelled", svcerr.ErrConflict, eventID, userID)
	}

	wasConfirmed := rsvp.Status == "confirmed"
	if err := s.store.CancelRSVP(ctx, rsvp.ID); err != nil {
		return Result[struct{}]{}, err
	}
	if err := s.store.UpdateEventRSVPCount(ctx, eventID); err != nil {
		return Result[struct{}]{}, fmt.Errorf("refreshing event rsvp count: %w", err)
	}

	events := []eventbus.Envelope{eventbus.New("event.rsvp_cancelled", map[string]any{
		"userId": userID, "eventId": eventID,
	}, eventbus.Metadata{UserID: &userID, Source: "rsvp"})}

	if !wasConfirmed {
		return Result[struct{}]{Events: events}, nil
	}

	headID, headUserID, err := s.store.HeadOfWaitlist(ctx, eventID)
	if err != nil {
		if errors.Is(err, svcerr.ErrNotFound) {
			return Result[struct{}]{Events: events}, nil
		}
		return Result[struct{}]{}, err
	}

	promoted, err := s.store.PromoteHeadOfWaitlist(ctx, headID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if !promoted {
		// Another concurrent cancel already promoted this head; nothing
		// further to do (spec.md 8's "at most one" invariant).
		return Result[struct{}]{Events: events}, nil
	}

	if err := s.store.UpdateEventRSVPCount(ctx, eventID); err != nil {
		return Result[struct{}]{}, fmt.Errorf("refreshing event rsvp count after promotion: %w", err)
	}

	events = append(events, eventbus.New("event.rsvp", map[string]any{
		"userId": headUserID, "eventId": eventID, "status": "confirmed", "promotedFromWaitlist": true,
	}, eventbus.Metadata{UserID: &headUserID, Source: "rsvp"}))

	return Result[struct{}]{Events: events}, nil
}
