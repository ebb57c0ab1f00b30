package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// GetRSVP returns the (event, user) RSVP row, or ErrNotFound.
func (s *Store) GetRSVP(ctx context.Context, eventID, userID uuid) (*RSVP, error) {
	const q = `
SELECT id, event_id, user_id, status, rsvp_at, waitlist_position, cancelled_at
FROM rsvps WHERE event_id = $1 AND user_id = $2`
	var r RSVP
	err := s.pool.QueryRow(ctx, q, eventID, userID).Scan(&r.ID, &r.EventID, &r.UserID, &r.Status, &r.RSVPAt,
		&r.WaitlistPosition, &r.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: rsvp for event %s user %s", svcerr.ErrNotFound, eventID, userID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountConfirmedRSVPs returns the number of confirmed rows for an event.
func (s *Store) CountConfirmedRSVPs(ctx context.Context, eventID uuid) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rsvps WHERE event_id = $1 AND status = 'confirmed'`, eventID).Scan(&n)
	return n, err
}

// CountWaitlistedRSVPs returns the number of waitlisted rows for an event.
func (s *Store) CountWaitlistedRSVPs(ctx context.Context, eventID uuid) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rsvps WHERE event_id = $1 AND status = 'waitlisted'`, eventID).Scan(&n)
	return n, err
}

// CreateConfirmedRSVPIfCapacity inserts a confirmed RSVP row only while
// the event's confirmed count is still under maxAttendees, so a burst of
// concurrent creates can never admit more than maxAttendees confirmed
// rows (spec.md 4.11, 8). It runs in one transaction: a first statement
// takes a FOR UPDATE row lock on the event, which serializes concurrent
// callers for the same event, and the bound check and insert run as a
// second statement, whose snapshot therefore already includes every
// confirmed row committed by the callers that held the lock before it.
// Reports whether it won the race; a false result with no error means
// the caller must fall back to waitlisting.
func (s *Store) CreateConfirmedRSVPIfCapacity(ctx context.Context, eventID, userID uuid) (id uuid, confirmed bool, err error) {
	const q = `
WITH locked_event AS (
  SELECT max_attendees FROM events WHERE id = $1 FOR UPDATE
), current_count AS (
  SELECT count(*) AS n FROM rsvps WHERE event_id = $1 AND status = 'confirmed'
)
INSERT INTO rsvps (event_id, user_id, status)
SELECT $1, $2, 'confirmed'
FROM locked_event, current_count
WHERE locked_event.max_attendees IS NULL OR current_count.n < locked_event.max_attendees
RETURNING id`
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `SELECT 1 FROM events WHERE id = $1 FOR UPDATE`, eventID); err != nil {
		return "", false, err
	}
	err = tx.QueryRow(ctx, q, eventID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyRSVPInsertError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// CreateWaitlistedRSVP inserts a waitlisted RSVP row, computing its
// position as one past the current tail in the same statement so a
// concurrent burst of joins doesn't read a stale max before inserting.
func (s *Store) CreateWaitlistedRSVP(ctx context.Context, eventID, userID uuid) (id uuid, position int, err error) {
	const q = `
INSERT INTO rsvps (event_id, user_id, status, waitlist_position)
SELECT $1, $2, 'waitlisted', coalesce(max(waitlist_position), 0) + 1
FROM rsvps WHERE event_id = $1 AND status = 'waitlisted'
RETURNING id, waitlist_position`
	err = s.pool.QueryRow(ctx, q, eventID, userID).Scan(&id, &position)
	if err != nil {
		return "", 0, classifyRSVPInsertError(err)
	}
	return id, position, nil
}

// DeleteCancelledRSVP removes a prior cancelled row for (event, user) so
// a fresh create can proceed, per the state machine's
// "cancelled -- create --> confirmed|waitlisted (prior row is deleted first)".
func (s *Store) DeleteCancelledRSVP(ctx context.Context, eventID, userID uuid) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rsvps WHERE event_id = $1 AND user_id = $2 AND status = 'cancelled'`, eventID, userID)
	return err
}

// CancelRSVP marks a confirmed or waitlisted row cancelled.
func (s *Store) CancelRSVP(ctx context.Context, id uuid) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rsvps SET status = 'cancelled', cancelled_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rsvp %s", svcerr.ErrNotFound, id)
	}
	return nil
}

// HeadOfWaitlist returns the (id, userId) of the waitlisted RSVP with
// the lowest waitlistPosition for an event, or ErrNotFound if the
// waitlist is empty.
func (s *Store) HeadOfWaitlist(ctx context.Context, eventID uuid) (id uuid, userID uuid, err error) {
	const q = `
SELECT id, user_id FROM rsvps
WHERE event_id = $1 AND status = 'waitlisted'
ORDER BY waitlist_position ASC
LIMIT 1`
	err = s.pool.QueryRow(ctx, q, eventID).Scan(&id, &userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%w: no waitlisted rsvp for event %s", svcerr.ErrNotFound, eventID)
	}
	return id, userID, err
}

// PromoteHeadOfWaitlist performs the race-safe conditional update spec.md
// 4.11 requires: two concurrent cancellations racing to promote the same
// head cannot both succeed, because the WHERE clause re-checks status.
func (s *Store) PromoteHeadOfWaitlist(ctx context.Context, id uuid) (promoted bool, err error) {
	const q = `
UPDATE rsvps SET status = 'confirmed', waitlist_position = NULL
WHERE id = $1 AND status = 'waitlisted'`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func classifyRSVPInsertError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: active rsvp already exists", svcerr.ErrConflict)
	}
	return err
}
