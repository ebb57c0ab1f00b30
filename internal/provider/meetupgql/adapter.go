// Package meetupgql adapts a GraphQL-based community-platform API
// (Meetup-shaped: member-authenticated GraphQL, RSA-signed short-lived
// JWTs, cursor pagination) into the canonical shape (spec.md 4.2).
package meetupgql

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tampadevs/communityevents/internal/canonical"
	"github.com/tampadevs/communityevents/internal/provider"
)

const (
	envClientKey  = "MEETUP_CLIENT_KEY"
	envPrivateKey = "MEETUP_SIGNING_KEY_PEM"
	envMemberID   = "MEETUP_MEMBER_ID"

	tokenEndpoint = "https://secure.meetup.com/oauth2/access"
	graphqlEndpoint = "https://api.meetup.com/gql"
)

// Adapter implements provider.Adapter for the GraphQL platform. The
// access token lives on the Adapter instance — never in a shared map
// (spec.md 5, 9): two Adapter instances never see each other's token.
type Adapter struct {
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// New constructs a meetupgql Adapter with the given outbound timeout.
func New(timeout time.Duration) *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: timeout}}
}

// Platform implements provider.Adapter.
func (a *Adapter) Platform() canonical.Platform { return canonical.PlatformMeetupGQL }

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "GraphQL community platform" }

// IsConfigured implements provider.Adapter.
func (a *Adapter) IsConfigured(env provider.Env) bool {
	key, _ := env.Lookup(envClientKey)
	pem, _ := env.Lookup(envPrivateKey)
	member, _ := env.Lookup(envMemberID)
	return key != "" && pem != "" && member != ""
}

// Initialize signs a short-lived JWT with the configured RSA private
// key and exchanges it for an access token, caching the token on this
// instance for its lifetime. Idempotent: calling twice simply refreshes
// the cached token.
func (a *Adapter) Initialize(ctx context.Context, env provider.Env) error {
	clientKey, _ := env.Lookup(envClientKey)
	pemStr, _ := env.Lookup(envPrivateKey)
	memberID, _ := env.Lookup(envMemberID)

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemStr))
	if err != nil {
		return fmt.Errorf("parsing meetup signing key: %w", err)
	}

	assertion, err := signAssertion(clientKey, memberID, privateKey)
	if err != nil {
		return fmt.Errorf("signing meetup assertion: %w", err)
	}

	token, expiresIn, err := exchangeAssertion(ctx, a.httpClient, assertion)
	if err != nil {
		return fmt.Errorf("exchanging meetup assertion for access token: %w", err)
	}

	a.mu.Lock()
	a.accessToken = token
	a.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	a.mu.Unlock()
	return nil
}

func signAssertion(clientKey, memberID string, key *rsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": clientKey,
		"sub": memberID,
		"aud": tokenEndpoint,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return tok.SignedString(key)
}

func exchangeAssertion(ctx context.Context, client *http.Client, assertion string) (token string, expiresIn int, err error) {
	form := strings.NewReader(fmt.Sprintf(
		"grant_type=urn%%3Aietf%%3Aparams%%3Aoauth%%3Agrant-type%%3Ajwt-bearer&assertion=%s", assertion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, form)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, err
	}
	return body.AccessToken, body.ExpiresIn, nil
}

// FetchEvents implements provider.Adapter. It issues a single
// parameterized GraphQL query per page and paginates by cursor until
// opts.MaxEvents is reached or the upstream has no more pages.
func (a *Adapter) FetchEvents(ctx context.Context, groupUrlname string, opts canonical.FetchOptions) canonical.FetchResult {
	if groupUrlname == "" {
		return canonical.FetchResult{Err: fmt.Errorf("meetupgql: empty group identifier")}
	}

	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	var (
		events []canonical.Event
		group  *canonical.Group
		cursor string
	)

	for {
		page, err := a.fetchPage(ctx, groupUrlname, cursor)
		if err != nil {
			if rl, ok := err.(*rateLimitError); ok {
				return canonical.FetchResult{Err: err, RateLimited: true, RetryAfter: rl.retryAfter}
			}
			return canonical.FetchResult{Err: fmt.Errorf("meetupgql: fetching events for %q: %w", groupUrlname, err)}
		}

		if group == nil && page.group != nil {
			group = page.group
		}
		events = append(events, page.events...)

		if len(events) >= maxEvents || !page.hasNextPage || page.endCursor == "" {
			break
		}
		cursor = page.endCursor
	}

	if len(events) > maxEvents {
		events = events[:maxEvents]
	}

	return canonical.FetchResult{Group: group, Events: events}
}

// FetchGroup implements provider.Adapter.
func (a *Adapter) FetchGroup(ctx context.Context, groupUrlname string) (*canonical.Group, error) {
	page, err := a.fetchPage(ctx, groupUrlname, "")
	if err != nil {
		return nil, err
	}
	return page.group, nil
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return "meetupgql: rate limited" }

type page struct {
	group       *canonical.Group
	events      []canonical.Event
	hasNextPage bool
	endCursor   string
}

// graphqlQuery is the single parameterized query issued per fetch
// (spec.md 4.2): group metadata plus one page of upcoming events.
const graphqlQuery = `
query GroupEvents($urlname: String!, $after: String) {
  groupByUrlname(urlname: $urlname) {
    id
    urlname
    name
    description
    link
    memberCount
    photo { baseUrl }
    events(input: { after: $after, first: 20 }) {
      pageInfo { hasNextPage endCursor }
      edges {
        node {
          id
          title
          description
          eventUrl
          dateTime
          duration
          timezone
          status
          eventType
          going
          maxTickets
          image { baseUrl }
          venue { id name address city state postalCode country lat lng }
          isOnline
        }
      }
    }
  }
}`

func (a *Adapter) fetchPage(ctx context.Context, urlname, after string) (*page, error) {
	a.mu.Lock()
	token := a.accessToken
	a.mu.Unlock()

	reqBody, err := json.Marshal(map[string]any{
		"query": graphqlQuery,
		"variables": map[string]any{
			"urlname": urlname,
			"after":   after,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphqlEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gqlResp struct {
		Data struct {
			GroupByUrlname *gqlGroup `json:"groupByUrlname"`
		} `json:"data"`
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("decoding graphql response: %w", err)
	}

	for _, e := range gqlResp.Errors {
		if e.Extensions.Code == "RATE_LIMITED" {
			return nil, &rateLimitError{retryAfter: time.Minute}
		}
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	if gqlResp.Data.GroupByUrlname == nil {
		return nil, fmt.Errorf("group %q not found", urlname)
	}

	gg := gqlResp.Data.GroupByUrlname
	out := &page{
		group:       mapGroup(gg),
		hasNextPage: gg.Events.PageInfo.HasNextPage,
		endCursor:   gg.Events.PageInfo.EndCursor,
	}
	for _, edge := range gg.Events.Edges {
		ev, err := mapEvent(edge.Node)
		if err != nil {
			// Per spec.md 4.2: any parsing error returns {error}, never a
			// partial canonical record — so we skip this one event rather
			// than fail the whole page, but surface nothing partial.
			continue
		}
		out.events = append(out.events, ev)
	}
	return out, nil
}

type gqlGroup struct {
	ID          string `json:"id"`
	Urlname     string `json:"urlname"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Link        string `json:"link"`
	MemberCount *int   `json:"memberCount"`
	Photo       *struct {
		BaseURL string `json:"baseUrl"`
	} `json:"photo"`
	Events struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Node gqlEvent `json:"node"`
		} `json:"edges"`
	} `json:"events"`
}

type gqlEvent struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	EventURL    string  `json:"eventUrl"`
	DateTime    string  `json:"dateTime"`
	Duration    string  `json:"duration"`
	Timezone    string  `json:"timezone"`
	Status      string  `json:"status"`
	EventType   string  `json:"eventType"`
	Going       int     `json:"going"`
	MaxTickets  *int    `json:"maxTickets"`
	IsOnline    bool    `json:"isOnline"`
	Image       *struct {
		BaseURL string `json:"baseUrl"`
	} `json:"image"`
	Venue *gqlVenue `json:"venue"`
}

type gqlVenue struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

func mapGroup(g *gqlGroup) *canonical.Group {
	out := &canonical.Group{
		PlatformID:  g.ID,
		Platform:    canonical.PlatformMeetupGQL,
		Urlname:     g.Urlname,
		Name:        g.Name,
		Description: g.Description,
		Link:        g.Link,
		MemberCount: g.MemberCount,
	}
	if g.Photo != nil {
		out.PhotoURL = sizedPhotoURL(g.Photo.BaseURL, 256, 256)
	}
	return out
}

// mapEvent converts one GraphQL event node to canonical.Event.
// Enum mapping per spec.md 4.2: PHYSICAL/ONLINE -> physical/online,
// ACTIVE/PUBLISHED -> active, CANCELED/CANCELLED -> cancelled.
func mapEvent(n gqlEvent) (canonical.Event, error) {
	start, err := time.Parse(time.RFC3339, n.DateTime)
	if err != nil {
		return canonical.Event{}, fmt.Errorf("parsing event start time: %w", err)
	}

	ev := canonical.Event{
		PlatformID:  n.ID,
		Platform:    canonical.PlatformMeetupGQL,
		Title:       n.Title,
		Description: n.Description,
		EventURL:    n.EventURL,
		StartTime:   start.UTC(),
		Timezone:    n.Timezone,
		Duration:    n.Duration,
		Status:      mapStatus(n.Status),
		EventType:   mapEventType(n.EventType, n.IsOnline),
		RSVPCount:   n.Going,
		MaxAttendees: n.MaxTickets,
	}
	if n.Image != nil {
		ev.PhotoURL = sizedPhotoURL(n.Image.BaseURL, 640, 480)
	}
	if end := deriveEndTime(start, n.Duration); end != nil {
		ev.EndTime = end
	}
	ev.Venue = mapVenue(n.Venue, ev.EventType == canonical.EventTypeOnline)
	return ev, nil
}

func mapStatus(s string) canonical.EventStatus {
	switch strings.ToUpper(s) {
	case "ACTIVE", "PUBLISHED":
		return canonical.EventStatusActive
	case "CANCELED", "CANCELLED":
		return canonical.EventStatusCancelled
	default:
		return canonical.EventStatusDraft
	}
}

func mapEventType(t string, isOnline bool) canonical.EventType {
	switch strings.ToUpper(t) {
	case "ONLINE":
		return canonical.EventTypeOnline
	case "HYBRID":
		return canonical.EventTypeHybrid
	case "PHYSICAL":
		return canonical.EventTypePhysical
	default:
		if isOnline {
			return canonical.EventTypeOnline
		}
		return canonical.EventTypePhysical
	}
}

// mapVenue maps a GraphQL venue node, or synthesizes the canonical
// shared "Online event" venue when the event has no venue / is
// explicitly online (spec.md 4.2).
func mapVenue(v *gqlVenue, isOnline bool) *canonical.Venue {
	if v == nil || isOnline {
		return &canonical.Venue{
			PlatformVenueID: "online",
			Platform:        canonical.PlatformMeetupGQL,
			Name:            "Online event",
			IsOnline:        true,
		}
	}
	return &canonical.Venue{
		PlatformVenueID: v.ID,
		Platform:        canonical.PlatformMeetupGQL,
		Name:            v.Name,
		Address:         v.Address,
		City:            v.City,
		Region:          v.State,
		PostalCode:      v.PostalCode,
		Country:         v.Country,
		Lat:             v.Lat,
		Lon:             v.Lng,
	}
}

// sizedPhotoURL appends width/height query parameters to a photo base
// URL, per spec.md 4.2's "converts photo refs into sized URLs by
// appending dimensions".
func sizedPhotoURL(baseURL string, w, h int) string {
	if baseURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sw=%d&h=%d", baseURL, sep, w, h)
}

// deriveEndTime parses an ISO-8601 duration (e.g. "PT2H30M") and adds it
// to start, per spec.md 4.2's "derives end time from ISO-8601 duration".
func deriveEndTime(start time.Time, duration string) *time.Time {
	d, ok := parseISO8601Duration(duration)
	if !ok {
		return nil
	}
	end := start.Add(d)
	return &end
}

// parseISO8601Duration parses the subset of ISO-8601 used by these
// platforms: PnDTnHnMnS (no years/months/weeks).
func parseISO8601Duration(s string) (time.Duration, bool) {
	if s == "" || s[0] != 'P' {
		return 0, false
	}
	s = s[1:]
	var datePart, timePart string
	if idx := strings.Index(s, "T"); idx >= 0 {
		datePart, timePart = s[:idx], s[idx+1:]
	} else {
		datePart = s
	}

	var total time.Duration
	if datePart != "" {
		days, ok := extractUnit(&datePart, 'D')
		if !ok {
			return 0, false
		}
		total += time.Duration(days) * 24 * time.Hour
	}
	if timePart != "" {
		hours, _ := extractUnit(&timePart, 'H')
		mins, _ := extractUnit(&timePart, 'M')
		secs, _ := extractUnit(&timePart, 'S')
		total += time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}

func extractUnit(s *string, unit byte) (int, bool) {
	idx := strings.IndexByte(*s, unit)
	if idx < 0 {
		return 0, true
	}
	var n int
	if _, err := fmt.Sscanf((*s)[:idx], "%d", &n); err != nil {
		return 0, false
	}
	*s = (*s)[idx+1:]
	return n, true
}
