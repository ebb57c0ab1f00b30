package store

import "time"

// Group mirrors spec.md 3's Group entity.
type Group struct {
	ID                uuid
	Slug              string
	Name              string
	Description       string
	MemberCount       *int
	PhotoURL          string
	Featured          bool
	Tags              []string
	MaxBadges         *int
	MaxPointsPerBadge *int
	LastSyncAt        *time.Time
	LastError         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PlatformConnection mirrors a group's (platform, platform-side id) link.
type PlatformConnection struct {
	ID         uuid
	GroupID    uuid
	Platform   string
	PlatformID string
	Slug       string
	Link       string
	Active     bool
	LastSyncAt *time.Time
	LastError  *string
}

// Venue mirrors spec.md 3's Venue entity.
type Venue struct {
	ID              uuid
	Platform        string
	PlatformVenueID string
	Name            string
	Address         string
	City            string
	Region          string
	PostalCode      string
	Country         string
	Lat             *float64
	Lon             *float64
	IsOnline        bool
}

// Event mirrors spec.md 3's Event entity.
type Event struct {
	ID           uuid
	Platform     string
	PlatformID   string
	GroupID      uuid
	VenueID      *uuid
	Title        string
	Description  string
	EventURL     string
	PhotoURL     string
	StartTime    time.Time
	EndTime      *time.Time
	Timezone     string
	Duration     string
	Status       string
	EventType    string
	RSVPCount    int
	MaxAttendees *int
	Featured     bool
	LastSyncAt   *time.Time
}

// User mirrors spec.md 3's User entity.
type User struct {
	ID          uuid
	Username    string
	Role        string
	Public      bool
	DisplayName string
	AvatarURL   string
}

// Badge mirrors spec.md 3's Badge entity.
type Badge struct {
	ID        uuid
	Slug      string
	Name      string
	Description string
	Icon      string
	Color     string
	Points    int
	SortOrder int
	Hidden    bool
	GroupID   *uuid
}

// UserBadge mirrors the (user, badge) award row.
type UserBadge struct {
	ID        uuid
	UserID    uuid
	BadgeID   uuid
	AwardedAt time.Time
	AwardedBy *uuid
}

// BadgeClaimLink mirrors spec.md 3's BadgeClaimLink entity.
type BadgeClaimLink struct {
	ID                 uuid
	Code               string
	BadgeID            uuid
	MaxUses            *int
	CurrentUses        int
	ExpiresAt          *time.Time
	AchievementKey      *string
	CustomEventType     *string
	CustomEventPayload  map[string]any
}

// Achievement mirrors spec.md 3's Achievement entity.
type Achievement struct {
	ID           uuid
	Key          string
	Name         string
	Description  string
	Icon         string
	Color        string
	TargetValue  float64
	BadgeSlug    *string
	Entitlement  *string
	Points       int
	EventType    *string
	Conditions   []Condition
	ProgressMode string // "counter" | "gauge"
	GaugeField   *string
	Hidden       bool
	Enabled      bool
}

// Condition is one predicate in an achievement's JSON condition list
// (spec.md 4.8, 9).
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// AchievementProgress mirrors the per-(user, achievement) progress row.
type AchievementProgress struct {
	ID             uuid
	UserID         uuid
	AchievementKey string
	CurrentValue   float64
	TargetValue    float64
	CompletedAt    *time.Time
}

// RSVP mirrors spec.md 3's RSVP entity.
type RSVP struct {
	ID               uuid
	EventID          uuid
	UserID           uuid
	Status           string // confirmed|waitlisted|cancelled
	RSVPAt           time.Time
	WaitlistPosition *int
	CancelledAt      *time.Time
}

// SyncLog mirrors spec.md 3's sync_log entity.
type SyncLog struct {
	ID            uuid
	GroupID       uuid
	ConnectionID  *uuid
	Status        string // running|success|failed
	EventsCreated int
	EventsUpdated int
	EventsDeleted int
	Error         *string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Webhook mirrors spec.md 3's Webhook entity.
type Webhook struct {
	ID         uuid
	URL        string
	Secret     string
	EventTypes []string
	Active     bool
}

// WebhookDelivery mirrors spec.md 3's Webhook delivery audit row.
type WebhookDelivery struct {
	ID           uuid
	WebhookID    uuid
	EventType    string
	StatusCode   int
	ResponseBody string
	Attempt      int
	Error        *string
	DeliveredAt  time.Time
}

// uuid is a thin alias kept local so callers never need to import
// google/uuid just to hold an id; the concrete representation is a
// textual UUID as returned by Postgres.
type uuid = string
