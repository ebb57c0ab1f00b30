package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/canonical"
	"github.com/tampadevs/communityevents/internal/svcerr"
)

// UpsertResult reports whether an upsert created a new row or updated
// an existing one, plus the row's id (spec.md 4.4).
type UpsertResult struct {
	ID      uuid
	Created bool
}

// UpsertVenue returns an existing venue id if (platform, platformVenueId)
// already matches, or the shared per-platform online-venue row if v is
// online, or inserts a new row (spec.md 4.4).
func (s *Store) UpsertVenue(ctx context.Context, v canonical.Venue) (uuid, error) {
	key := v.PlatformVenueID
	if v.IsOnline {
		key = "online"
	}

	const q = `
INSERT INTO venues (platform, platform_venue_id, name, address, city, region, postal_code, country, lat, lon, is_online)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (platform, platform_venue_id) DO UPDATE SET
  name = EXCLUDED.name,
  address = EXCLUDED.address,
  city = EXCLUDED.city,
  region = EXCLUDED.region,
  postal_code = EXCLUDED.postal_code,
  country = EXCLUDED.country,
  lat = EXCLUDED.lat,
  lon = EXCLUDED.lon
RETURNING id`

	var id uuid
	err := s.pool.QueryRow(ctx, q,
		string(v.Platform), key, v.Name, v.Address, v.City, v.Region, v.PostalCode, v.Country,
		v.Lat, v.Lon, v.IsOnline,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting venue: %w", err)
	}
	return id, nil
}

// UpsertEventByPlatform is atomic on the (platform, platformId) unique
// constraint via ON CONFLICT DO UPDATE — a race between two concurrent
// syncs of the same upstream event resolves to a single row with no
// application-level retry loop (spec.md 4.4).
func (s *Store) UpsertEventByPlatform(ctx context.Context, ev canonical.Event, groupID uuid, venueID *uuid) (UpsertResult, error) {
	const q = `
INSERT INTO events (
  platform, platform_id, group_id, venue_id, title, description, event_url, photo_url,
  start_time, end_time, timezone, duration, status, event_type, rsvp_count, max_attendees, last_sync_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now())
ON CONFLICT (platform, platform_id) DO UPDATE SET
  group_id = EXCLUDED.group_id,
  venue_id = EXCLUDED.venue_id,
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  event_url = EXCLUDED.event_url,
  photo_url = EXCLUDED.photo_url,
  start_time = EXCLUDED.start_time,
  end_time = EXCLUDED.end_time,
  timezone = EXCLUDED.timezone,
  duration = EXCLUDED.duration,
  status = EXCLUDED.status,
  event_type = EXCLUDED.event_type,
  rsvp_count = EXCLUDED.rsvp_count,
  max_attendees = EXCLUDED.max_attendees,
  last_sync_at = now(),
  updated_at = now()
RETURNING id, (xmax = 0) AS inserted`

	var id uuid
	var inserted bool
	err := s.pool.QueryRow(ctx, q,
		string(ev.Platform), ev.PlatformID, groupID, venueID, ev.Title, ev.Description, ev.EventURL, ev.PhotoURL,
		ev.StartTime, ev.EndTime, ev.Timezone, ev.Duration, string(ev.Status), string(ev.EventType),
		ev.RSVPCount, ev.MaxAttendees,
	).Scan(&id, &inserted)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upserting event: %w", err)
	}
	return UpsertResult{ID: id, Created: inserted}, nil
}

// ListFutureActiveEventsByGroup supports deletion inference (spec.md
// 4.5 step 6): only events that are both active and still upcoming are
// candidates for being inferred as cancelled.
func (s *Store) ListFutureActiveEventsByGroup(ctx context.Context, groupID uuid) ([]Event, error) {
	const q = `
SELECT id, platform, platform_id, group_id, venue_id, title, description, event_url, photo_url,
       start_time, end_time, timezone, duration, status, event_type, rsvp_count, max_attendees, last_sync_at
FROM events
WHERE group_id = $1 AND status = 'active' AND start_time > now()`

	rows, err := s.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing future active events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Platform, &e.PlatformID, &e.GroupID, &e.VenueID, &e.Title, &e.Description,
			&e.EventURL, &e.PhotoURL, &e.StartTime, &e.EndTime, &e.Timezone, &e.Duration, &e.Status, &e.EventType,
			&e.RSVPCount, &e.MaxAttendees, &e.LastSyncAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CancelEvent sets an event's status to cancelled (spec.md 4.4, 4.5 step 6).
func (s *Store) CancelEvent(ctx context.Context, id uuid) error {
	tag, err := s.pool.Exec(ctx, `UPDATE events SET status = 'cancelled', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancelling event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", svcerr.ErrNotFound, id)
	}
	return nil
}

// GetEvent fetches a single event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid) (*Event, error) {
	const q = `
SELECT id, platform, platform_id, group_id, venue_id, title, description, event_url, photo_url,
       start_time, end_time, timezone, duration, status, event_type, rsvp_count, max_attendees, last_sync_at
FROM events WHERE id = $1`
	var e Event
	err := s.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.Platform, &e.PlatformID, &e.GroupID, &e.VenueID, &e.Title,
		&e.Description, &e.EventURL, &e.PhotoURL, &e.StartTime, &e.EndTime, &e.Timezone, &e.Duration, &e.Status,
		&e.EventType, &e.RSVPCount, &e.MaxAttendees, &e.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", svcerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching event %s: %w", id, err)
	}
	return &e, nil
}

// UpdateEventRSVPCount resets event.rsvpCount to the count of confirmed
// rows — never decremented in place — per spec.md 4.11's
// self-correcting invariant.
func (s *Store) UpdateEventRSVPCount(ctx context.Context, eventID uuid) error {
	const q = `
UPDATE events SET rsvp_count = (
  SELECT count(*) FROM rsvps WHERE event_id = $1 AND status = 'confirmed'
), updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, eventID)
	if err != nil {
		return fmt.Errorf("updating rsvp count for event %s: %w", eventID, err)
	}
	return nil
}

// UpdateGroupMetadata applies the owning group's metadata from a
// canonical group response (spec.md 4.5 step 4).
func (s *Store) UpdateGroupMetadata(ctx context.Context, groupID uuid, g canonical.Group) error {
	const q = `
UPDATE groups SET name = $2, description = $3, member_count = $4, photo_url = $5, updated_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, groupID, g.Name, g.Description, g.MemberCount, g.PhotoURL)
	if err != nil {
		return fmt.Errorf("updating group metadata for %s: %w", groupID, err)
	}
	return nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id uuid) (*Group, error) {
	const q = `
SELECT id, slug, name, description, member_count, photo_url, featured, tags,
       max_badges, max_points_per_badge, last_sync_at, last_error, created_at, updated_at
FROM groups WHERE id = $1`
	var g Group
	err := s.pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Slug, &g.Name, &g.Description, &g.MemberCount, &g.PhotoURL,
		&g.Featured, &g.Tags, &g.MaxBadges, &g.MaxPointsPerBadge, &g.LastSyncAt, &g.LastError, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %s", svcerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching group %s: %w", id, err)
	}
	return &g, nil
}

// GetGroupBySlug fetches a group by its display slug.
func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*Group, error) {
	const q = `
SELECT id, slug, name, description, member_count, photo_url, featured, tags,
       max_badges, max_points_per_badge, last_sync_at, last_error, created_at, updated_at
FROM groups WHERE slug = $1`
	var g Group
	err := s.pool.QueryRow(ctx, q, slug).Scan(&g.ID, &g.Slug, &g.Name, &g.Description, &g.MemberCount, &g.PhotoURL,
		&g.Featured, &g.Tags, &g.MaxBadges, &g.MaxPointsPerBadge, &g.LastSyncAt, &g.LastError, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %q", svcerr.ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching group %q: %w", slug, err)
	}
	return &g, nil
}

// ListGroups returns groups ordered by name, optionally restricted to
// featured-only (spec.md 4.1's read surface for the groups listing).
func (s *Store) ListGroups(ctx context.Context, featuredOnly bool) ([]Group, error) {
	q := `
SELECT id, slug, name, description, member_count, photo_url, featured, tags,
       max_badges, max_points_per_badge, last_sync_at, last_error, created_at, updated_at
FROM groups`
	if featuredOnly {
		q += ` WHERE featured = true`
	}
	q += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Slug, &g.Name, &g.Description, &g.MemberCount, &g.PhotoURL,
			&g.Featured, &g.Tags, &g.MaxBadges, &g.MaxPointsPerBadge, &g.LastSyncAt, &g.LastError,
			&g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// EventFilter narrows ListEvents (spec.md 4.1's events listing).
type EventFilter struct {
	GroupSlug string
	Upcoming  bool
	Limit     int
}

// ListEvents returns active events ordered by start time, optionally
// filtered to a group and/or the future only.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	q := `
SELECT e.id, e.platform, e.platform_id, e.group_id, e.venue_id, e.title, e.description, e.event_url, e.photo_url,
       e.start_time, e.end_time, e.timezone, e.duration, e.status, e.event_type, e.rsvp_count, e.max_attendees, e.last_sync_at
FROM events e
JOIN groups g ON g.id = e.group_id
WHERE e.status != 'cancelled'`
	args := []any{}
	if f.GroupSlug != "" {
		args = append(args, f.GroupSlug)
		q += fmt.Sprintf(" AND g.slug = $%d", len(args))
	}
	if f.Upcoming {
		q += " AND e.start_time > now()"
	}
	q += " ORDER BY e.start_time"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Platform, &e.PlatformID, &e.GroupID, &e.VenueID, &e.Title, &e.Description,
			&e.EventURL, &e.PhotoURL, &e.StartTime, &e.EndTime, &e.Timezone, &e.Duration, &e.Status, &e.EventType,
			&e.RSVPCount, &e.MaxAttendees, &e.LastSyncAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSyncableConnections returns all active platform connections whose
// platform tag is not the in-house one (spec.md 4.5 step 2), optionally
// filtered to a set of group ids.
func (s *Store) ListSyncableConnections(ctx context.Context, groupIDs []uuid) ([]PlatformConnection, error) {
	q := `
SELECT id, group_id, platform, platform_id, slug, link, active, last_sync_at, last_error
FROM platform_connections
WHERE active = true AND platform != $1`
	args := []any{string(canonical.PlatformNative)}
	if len(groupIDs) > 0 {
		q += ` AND group_id = ANY($2)`
		args = append(args, groupIDs)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing syncable connections: %w", err)
	}
	defer rows.Close()

	var out []PlatformConnection
	for rows.Next() {
		var c PlatformConnection
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Platform, &c.PlatformID, &c.Slug, &c.Link, &c.Active,
			&c.LastSyncAt, &c.LastError); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkConnectionSynced clears error fields and stamps lastSyncAt on a
// successful sync (spec.md 4.5 step 7).
func (s *Store) MarkConnectionSynced(ctx context.Context, connectionID uuid, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE platform_connections SET last_sync_at = $2, last_error = NULL WHERE id = $1`,
		connectionID, at)
	return err
}

// MarkConnectionFailed records an adapter/sync error on the connection
// and its owning group (spec.md 4.5 step 3).
func (s *Store) MarkConnectionFailed(ctx context.Context, connectionID, groupID uuid, errMsg string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE platform_connections SET last_error = $2 WHERE id = $1`, connectionID, errMsg); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE groups SET last_error = $2 WHERE id = $1`, groupID, errMsg)
	return err
}
