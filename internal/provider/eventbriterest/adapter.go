// Package eventbriterest adapts a REST-based ticketing platform
// (Eventbrite-shaped: long-lived bearer token, continuation-token
// pagination, per-event description fetch) into the canonical shape
// (spec.md 4.2).
package eventbriterest

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tampadevs/communityevents/internal/canonical"
	"github.com/tampadevs/communityevents/internal/provider"
)

const (
	envPrivateToken = "EVENTBRITE_PRIVATE_TOKEN"

	apiBase = "https://www.eventbriteapi.com/v3"
)

// Adapter implements provider.Adapter for the REST ticketing platform.
type Adapter struct {
	httpClient *http.Client
	token      string
}

// New constructs an eventbriterest Adapter with the given outbound timeout.
func New(timeout time.Duration) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: timeout}}
}

// Platform implements provider.Adapter.
func (a *Adapter) Platform() canonical.Platform { return canonical.PlatformEventbrite }

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "REST ticketing platform" }

// IsConfigured implements provider.Adapter.
func (a *Adapter) IsConfigured(env provider.Env) bool {
	tok, _ := env.Lookup(envPrivateToken)
	return tok != ""
}

// Initialize validates the configured bearer token against the
// platform's "who am I" probe endpoint, per spec.md 4.2's "verified via
// a /me probe request". The token itself is a long-lived credential —
// no exchange happens, only verification.
func (a *Adapter) Initialize(ctx context.Context, env provider.Env) error {
	tok, _ := env.Lookup(envPrivateToken)
	a.token = tok

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/users/me/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probing /users/me/: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("token rejected by /users/me/: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/users/me/ returned status %d", resp.StatusCode)
	}
	return nil
}

type organizerEventsResponse struct {
	Pagination struct {
		Continuation string `json:"continuation"`
		HasMoreItems bool   `json:"has_more_items"`
	} `json:"pagination"`
	Events []restEvent `json:"events"`
}

type restEvent struct {
	ID   string `json:"id"`
	Name struct {
		Text string `json:"text"`
	} `json:"name"`
	URL    string `json:"url"`
	Start  restDateTime `json:"start"`
	End    restDateTime `json:"end"`
	Status string       `json:"status"`
	OnlineEvent bool     `json:"online_event"`
	Capacity    *int     `json:"capacity"`
	Logo        *struct {
		Original struct {
			URL string `json:"url"`
		} `json:"original"`
	} `json:"logo"`
	VenueID string `json:"venue_id"`
}

type restDateTime struct {
	Timezone string `json:"timezone"`
	UTC      string `json:"utc"`
}

type restVenue struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address struct {
		Address1   string  `json:"address_1"`
		City       string  `json:"city"`
		Region     string  `json:"region"`
		PostalCode string  `json:"postal_code"`
		Country    string  `json:"country"`
		Latitude   *string `json:"latitude"`
		Longitude  *string `json:"longitude"`
	} `json:"address"`
}

type restDescription struct {
	Description struct {
		HTML string `json:"html"`
	} `json:"description"`
}

type restOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchEvents implements provider.Adapter. It lists an organizer's
// events page by page (continuation-token pagination), keeping only
// live and started events, fetching each event's long-form description
// and venue individually, and converting description HTML to plain
// text (spec.md 4.2).
func (a *Adapter) FetchEvents(ctx context.Context, organizerID string, opts canonical.FetchOptions) canonical.FetchResult {
	if organizerID == "" {
		return canonical.FetchResult{Err: fmt.Errorf("eventbriterest: empty organizer id")}
	}

	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	var (
		out          []canonical.Event
		continuation string
	)

	for {
		page, err := a.listOrganizerEvents(ctx, organizerID, continuation)
		if err != nil {
			if rl, ok := err.(*rateLimitError); ok {
				return canonical.FetchResult{Err: err, RateLimited: true, RetryAfter: rl.retryAfter}
			}
			return canonical.FetchResult{Err: fmt.Errorf("eventbriterest: listing events for organizer %q: %w", organizerID, err)}
		}

		for _, re := range page.Events {
			if re.Status != "live" && re.Status != "started" {
				continue
			}
			ev, err := a.hydrateEvent(ctx, re)
			if err != nil {
				continue
			}
			out = append(out, ev)
			if len(out) >= maxEvents {
				break
			}
		}

		if len(out) >= maxEvents || !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			break
		}
		continuation = page.Pagination.Continuation
	}

	group, _ := a.FetchGroup(ctx, organizerID)
	return canonical.FetchResult{Group: group, Events: out}
}

// FetchGroup implements provider.Adapter.
func (a *Adapter) FetchGroup(ctx context.Context, organizerID string) (*canonical.Group, error) {
	var org restOrganization
	if err := a.getJSON(ctx, fmt.Sprintf("%s/organizers/%s/", apiBase, organizerID), &org); err != nil {
		return nil, fmt.Errorf("eventbriterest: fetching organizer %q: %w", organizerID, err)
	}
	return &canonical.Group{
		PlatformID: org.ID,
		Platform:   canonical.PlatformEventbrite,
		Name:       org.Name,
	}, nil
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return "eventbriterest: rate limited" }

func (a *Adapter) listOrganizerEvents(ctx context.Context, organizerID, continuation string) (*organizerEventsResponse, error) {
	url := fmt.Sprintf("%s/organizers/%s/events/?status=live,started&order_by=start_asc", apiBase, organizerID)
	if continuation != "" {
		url += "&continuation=" + continuation
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{retryAfter: time.Minute}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out organizerEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// hydrateEvent fetches the per-event description and venue (when
// in-person), mapping the whole thing to canonical.Event.
func (a *Adapter) hydrateEvent(ctx context.Context, re restEvent) (canonical.Event, error) {
	start, err := time.Parse(time.RFC3339, re.Start.UTC)
	if err != nil {
		return canonical.Event{}, fmt.Errorf("parsing start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, re.End.UTC)
	var endPtr *time.Time
	var duration string
	if err == nil {
		endPtr = &end
		duration = formatISO8601Duration(end.Sub(start))
	}

	var desc restDescription
	_ = a.getJSON(ctx, fmt.Sprintf("%s/events/%s/description/", apiBase, re.ID), &desc)

	ev := canonical.Event{
		PlatformID:   re.ID,
		Platform:     canonical.PlatformEventbrite,
		Title:        re.Name.Text,
		Description:  htmlToPlainText(desc.Description.HTML),
		EventURL:     re.URL,
		StartTime:    start.UTC(),
		EndTime:      endPtr,
		Timezone:     re.Start.Timezone,
		Duration:     duration,
		Status:       canonical.EventStatusActive,
		EventType:    mapEventType(re.OnlineEvent),
		MaxAttendees: re.Capacity,
	}
	if re.Logo != nil {
		ev.PhotoURL = re.Logo.Original.URL
	}
	ev.Venue = a.resolveVenue(ctx, re.VenueID, re.OnlineEvent)
	return ev, nil
}

func mapEventType(online bool) canonical.EventType {
	if online {
		return canonical.EventTypeOnline
	}
	return canonical.EventTypePhysical
}

func (a *Adapter) resolveVenue(ctx context.Context, venueID string, online bool) *canonical.Venue {
	if online || venueID == "" {
		return &canonical.Venue{
			PlatformVenueID: "online",
			Platform:        canonical.PlatformEventbrite,
			Name:            "Online event",
			IsOnline:        true,
		}
	}

	var v restVenue
	if err := a.getJSON(ctx, fmt.Sprintf("%s/venues/%s/", apiBase, venueID), &v); err != nil {
		return &canonical.Venue{PlatformVenueID: venueID, Platform: canonical.PlatformEventbrite, Name: "Unknown venue"}
	}

	venue := &canonical.Venue{
		PlatformVenueID: v.ID,
		Platform:        canonical.PlatformEventbrite,
		Name:            v.Name,
		Address:         v.Address.Address1,
		City:            v.Address.City,
		Region:          v.Address.Region,
		PostalCode:      v.Address.PostalCode,
		Country:         v.Address.Country,
	}
	if v.Address.Latitude != nil {
		if f, err := strconv.ParseFloat(*v.Address.Latitude, 64); err == nil {
			venue.Lat = &f
		}
	}
	if v.Address.Longitude != nil {
		if f, err := strconv.ParseFloat(*v.Address.Longitude, 64); err == nil {
			venue.Lon = &f
		}
	}
	return venue
}

func (a *Adapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{retryAfter: time.Minute}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	tagRE   = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	brRE    = regexp.MustCompile(`(?i)<br\s*/?>`)
	pCloseRE = regexp.MustCompile(`(?i)</p>`)
	anyTagRE = regexp.MustCompile(`<[^>]+>`)
	wsRE    = regexp.MustCompile(`\n{3,}`)
)

// htmlToPlainText converts upstream HTML descriptions to plain text,
// per spec.md 4.2's "converted from HTML to plain text". Block
// boundaries (br, /p) become newlines before tags are stripped so
// paragraph structure survives.
func htmlToPlainText(in string) string {
	if in == "" {
		return ""
	}
	out := tagRE.ReplaceAllString(in, "")
	out = brRE.ReplaceAllString(out, "\n")
	out = pCloseRE.ReplaceAllString(out, "\n\n")
	out = anyTagRE.ReplaceAllString(out, "")
	out = html.UnescapeString(out)
	out = wsRE.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func formatISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	var b strings.Builder
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if hours == 0 && minutes == 0 {
		return "PT0M"
	}
	return b.String()
}
