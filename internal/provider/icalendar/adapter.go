// Package icalendar adapts a simple API-key-authenticated calendar-feed
// platform into the canonical shape (spec.md 4.2). It is the simplest
// of the three adapters: no token exchange, a single paginated listing
// endpoint, and no per-event hydration step.
package icalendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tampadevs/communityevents/internal/canonical"
	"github.com/tampadevs/communityevents/internal/provider"
)

const (
	envAPIKey = "ICALENDAR_API_KEY"

	apiBase = "https://api.icalendar.example/v1"
)

// Adapter implements provider.Adapter for the calendar-feed platform.
type Adapter struct {
	httpClient *http.Client
	apiKey     string
}

// New constructs an icalendar Adapter with the given outbound timeout.
func New(timeout time.Duration) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: timeout}}
}

// Platform implements provider.Adapter.
func (a *Adapter) Platform() canonical.Platform { return canonical.PlatformICalendar }

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "calendar feed platform" }

// IsConfigured implements provider.Adapter.
func (a *Adapter) IsConfigured(env provider.Env) bool {
	key, _ := env.Lookup(envAPIKey)
	return key != ""
}

// Initialize stores the configured API key. This platform has no
// handshake — the key is sent as a header on every request.
func (a *Adapter) Initialize(_ context.Context, env provider.Env) error {
	key, _ := env.Lookup(envAPIKey)
	a.apiKey = key
	return nil
}

type feedResponse struct {
	Calendar struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"calendar"`
	Page struct {
		Next *int `json:"next"`
	} `json:"page"`
	Items []feedItem `json:"items"`
}

type feedItem struct {
	ID          string  `json:"id"`
	Summary     string  `json:"summary"`
	Description string  `json:"description"`
	HTMLLink    string  `json:"htmlLink"`
	ImageURL    string  `json:"imageUrl"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Timezone    string  `json:"timezone"`
	Status      string  `json:"status"`
	Location    *feedLocation `json:"location"`
}

type feedLocation struct {
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	City       string   `json:"city"`
	Region     string   `json:"region"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	VirtualURL string   `json:"virtualUrl"`
}

// FetchEvents implements provider.Adapter: a single paginated listing
// endpoint, offset pagination, straightforward field mapping.
func (a *Adapter) FetchEvents(ctx context.Context, calendarID string, opts canonical.FetchOptions) canonical.FetchResult {
	if calendarID == "" {
		return canonical.FetchResult{Err: fmt.Errorf("icalendar: empty calendar id")}
	}

	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	var (
		out    []canonical.Event
		group  *canonical.Group
		offset int
	)

	for {
		page, err := a.fetchPage(ctx, calendarID, offset)
		if err != nil {
			if rl, ok := err.(*rateLimitError); ok {
				return canonical.FetchResult{Err: err, RateLimited: true, RetryAfter: rl.retryAfter}
			}
			return canonical.FetchResult{Err: fmt.Errorf("icalendar: fetching calendar %q: %w", calendarID, err)}
		}

		if group == nil {
			group = &canonical.Group{
				PlatformID:  page.Calendar.ID,
				Platform:    canonical.PlatformICalendar,
				Name:        page.Calendar.Name,
				Description: page.Calendar.Description,
				Link:        page.Calendar.URL,
			}
		}
		for _, item := range page.Items {
			ev, err := mapItem(item)
			if err != nil {
				continue
			}
			out = append(out, ev)
		}

		if len(out) >= maxEvents || page.Page.Next == nil {
			break
		}
		offset = *page.Page.Next
	}

	if len(out) > maxEvents {
		out = out[:maxEvents]
	}
	return canonical.FetchResult{Group: group, Events: out}
}

// FetchGroup implements provider.Adapter.
func (a *Adapter) FetchGroup(ctx context.Context, calendarID string) (*canonical.Group, error) {
	page, err := a.fetchPage(ctx, calendarID, 0)
	if err != nil {
		return nil, err
	}
	return &canonical.Group{
		PlatformID:  page.Calendar.ID,
		Platform:    canonical.PlatformICalendar,
		Name:        page.Calendar.Name,
		Description: page.Calendar.Description,
		Link:        page.Calendar.URL,
	}, nil
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return "icalendar: rate limited" }

func (a *Adapter) fetchPage(ctx context.Context, calendarID string, offset int) (*feedResponse, error) {
	url := fmt.Sprintf("%s/calendars/%s/events?limit=50&offset=%s", apiBase, calendarID, strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", a.apiKey)

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

	var out feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func mapItem(item feedItem) (canonical.Event, error) {
	start, err := time.Parse(time.RFC3339, item.Start)
	if err != nil {
		return canonical.Event{}, fmt.Errorf("parsing start time: %w", err)
	}

	ev := canonical.Event{
		PlatformID:  item.ID,
		Platform:    canonical.PlatformICalendar,
		Title:       item.Summary,
		Description: item.Description,
		EventURL:    item.HTMLLink,
		PhotoURL:    item.ImageURL,
		StartTime:   start.UTC(),
		Timezone:    item.Timezone,
		Status:      mapStatus(item.Status),
		EventType:   canonical.EventTypePhysical,
	}
	if end, err := time.Parse(time.RFC3339, item.End); err == nil {
		endUTC := end.UTC()
		ev.EndTime = &endUTC
	}
	ev.Venue, ev.EventType = mapVenue(item.Location)
	return ev, nil
}

func mapStatus(s string) canonical.EventStatus {
	switch s {
	case "confirmed":
		return canonical.EventStatusActive
	case "cancelled":
		return canonical.EventStatusCancelled
	case "tentative":
		return canonical.EventStatusDraft
	default:
		return canonical.EventStatusActive
	}
}

func mapVenue(loc *feedLocation) (*canonical.Venue, canonical.EventType) {
	if loc == nil {
		return &canonical.Venue{
			PlatformVenueID: "online",
			Platform:        canonical.PlatformICalendar,
			Name:            "Online event",
			IsOnline:        true,
		}, canonical.EventTypeOnline
	}
	if loc.VirtualURL != "" {
		return &canonical.Venue{
			PlatformVenueID: "online",
			Platform:        canonical.PlatformICalendar,
			Name:            "Online event",
			IsOnline:        true,
		}, canonical.EventTypeOnline
	}
	return &canonical.Venue{
		PlatformVenueID: loc.Name,
		Platform:        canonical.PlatformICalendar,
		Name:            loc.Name,
		Address:         loc.Address,
		City:            loc.City,
		Region:          loc.Region,
		PostalCode:      loc.PostalCode,
		Country:         loc.Country,
		Lat:             loc.Lat,
		Lon:             loc.Lon,
	}, canonical.EventTypePhysical
}
