// Package mcpserver's domain.go registers the concrete tools, resources,
// and prompts spec.md 4.12's example scenarios name: the tools
// events_list, groups_list, admin_list_users, trigger_sync and
// admin_import_badges, the group:// and event:// resources, and the
// event_announcement prompt, wired to the store and sync service. Scopes
// follow spec.md 8 scenario 6: groups_list, the resources and the prompt
// need no scope, events_list needs "read:events", admin_list_users and
// admin_import_badges need "admin", trigger_sync needs "sync:write".
package mcpserver

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/sync"
)

var (
	scopeAdmin      = "admin"
	scopeSyncWrite  = "sync:write"
	scopeReadEvents = "read:events"
)

// badgeImportEntry is one badge definition in an admin_import_badges
// YAML document: a badge to upsert by slug, plus an optional claim link
// to mint for distributing it.
type badgeImportEntry struct {
	Slug           string `yaml:"slug"`
	Points         int    `yaml:"points"`
	MaxUses        *int   `yaml:"maxUses"`
	AchievementKey string `yaml:"achievementKey"`
}

// RegisterDomainTools populates reg with every tool/resource/prompt this
// server exposes. Call once at startup, before serving requests.
func RegisterDomainTools(reg *Registry, st *store.Store, syncSvc *sync.Service) {
	registerTools(reg, st, syncSvc)
	registerResources(reg, st)
	registerPrompts(reg, st)
}

func registerTools(reg *Registry, st *store.Store, syncSvc *sync.Service) {
	reg.RegisterTool(Tool{
		Name:          "events_list",
		Description:   "List upcoming active events, optionally filtered by group slug.",
		RequiredScope: &scopeReadEvents,
		Schema: Schema{
			Types: map[string]string{"groupSlug": "string", "limit": "number"},
		},
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			f := store.EventFilter{Upcoming: true}
			if slug, ok := args["groupSlug"].(string); ok {
				f.GroupSlug = slug
			}
			if limit, ok := args["limit"].(float64); ok {
				f.Limit = int(limit)
			}
			events, err := st.ListEvents(ctx, f)
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(formatEvents(events)), nil
		},
	})

	reg.RegisterTool(Tool{
		Name:        "groups_list",
		Description: "List all community groups, optionally restricted to featured groups.",
		Schema: Schema{
			Types: map[string]string{"featuredOnly": "boolean"},
		},
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			featuredOnly, _ := args["featuredOnly"].(bool)
			groups, err := st.ListGroups(ctx, featuredOnly)
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(formatGroups(groups)), nil
		},
	})

	reg.RegisterTool(Tool{
		Name:          "admin_list_users",
		Description:   "List every registered user, including non-public profiles.",
		RequiredScope: &scopeAdmin,
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			users, err := st.ListUsers(ctx, true)
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(formatUsers(users)), nil
		},
	})

	reg.RegisterTool(Tool{
		Name:          "trigger_sync",
		Description:   "Trigger an immediate sync of one group (by slug) or all groups.",
		RequiredScope: &scopeSyncWrite,
		Schema: Schema{
			Types: map[string]string{"groupSlug": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			if slug, ok := args["groupSlug"].(string); ok && slug != "" {
				result, err := syncSvc.SyncGroupByUrlname(ctx, slug)
				if err != nil {
					return ToolResult{}, err
				}
				return TextResult(fmt.Sprintf(
					"synced group %q: created=%d updated=%d deleted=%d success=%v",
					slug, result.EventsCreated, result.EventsUpdated, result.EventsDeleted, result.Success)), nil
			}
			all := syncSvc.SyncAllGroups(ctx, sync.Options{})
			return TextResult(fmt.Sprintf(
				"synced %d groups: %d succeeded, %d failed", all.Total, all.Succeeded, all.Failed)), nil
		},
	})

	reg.RegisterTool(Tool{
		Name: "admin_import_badges",
		Description: "Bulk-create or update badges from a YAML list of " +
			"{slug, points, maxUses, achievementKey} entries, minting a claim " +
			"link for each.",
		RequiredScope: &scopeAdmin,
		Schema: Schema{
			Required: []string{"yaml"},
			Types:    map[string]string{"yaml": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			doc, _ := args["yaml"].(string)
			var entries []badgeImportEntry
			if err := yaml.Unmarshal([]byte(doc), &entries); err != nil {
				return ErrorResult(fmt.Sprintf("invalid YAML: %v", err)), nil
			}

			out := ""
			for _, e := range entries {
				badgeID, err := st.GetOrCreateBadgeBySlug(ctx, e.Slug, e.Points)
				if err != nil {
					return ToolResult{}, fmt.Errorf("upserting badge %q: %w", e.Slug, err)
				}
				var key *string
				if e.AchievementKey != "" {
					key = &e.AchievementKey
				}
				code, err := st.CreateBadgeClaimLink(ctx, badgeID, e.MaxUses, key)
				if err != nil {
					return ToolResult{}, fmt.Errorf("minting claim link for %q: %w", e.Slug, err)
				}
				out += fmt.Sprintf("%s | badge=%s | claimCode=%s\n", e.Slug, badgeID, code)
			}
			if out == "" {
				out = "no badges imported"
			}
			return TextResult(out), nil
		},
	})
}

func registerResources(reg *Registry, st *store.Store) {
	reg.RegisterResource(Resource{
		URITemplate: "group://{slug}",
		Name:        "group",
		Description: "A single group's profile by slug.",
		Handler: func(ctx context.Context, uri string, params map[string]string, hc HandlerContext) (ToolResult, error) {
			g, err := st.GetGroupBySlug(ctx, params["slug"])
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(formatGroups([]store.Group{*g})), nil
		},
	})

	reg.RegisterResource(Resource{
		URITemplate: "event://{id}",
		Name:        "event",
		Description: "A single event by id.",
		Handler: func(ctx context.Context, uri string, params map[string]string, hc HandlerContext) (ToolResult, error) {
			e, err := st.GetEvent(ctx, params["id"])
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(formatEvents([]store.Event{*e})), nil
		},
	})
}

func registerPrompts(reg *Registry, st *store.Store) {
	reg.RegisterPrompt(Prompt{
		Name:        "event_announcement",
		Description: "Draft a short announcement for an upcoming event.",
		Render: func(ctx context.Context, args map[string]any, hc HandlerContext) (string, error) {
			id, _ := args["eventId"].(string)
			e, err := st.GetEvent(ctx, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf(
				"Write a short, upbeat announcement for the event %q, starting at %s. "+
					"Mention that RSVPs are open and link to %s.",
				e.Title, e.StartTime.Format("Mon Jan 2, 3:04 PM"), e.EventURL), nil
		},
	})
}

func formatEvents(events []store.Event) string {
	if len(events) == 0 {
		return "no events found"
	}
	out := ""
	for _, e := range events {
		out += fmt.Sprintf("%s | %s | %s | status=%s rsvps=%d\n", e.ID, e.Title, e.StartTime.Format("2006-01-02 15:04"), e.Status, e.RSVPCount)
	}
	return out
}

func formatGroups(groups []store.Group) string {
	if len(groups) == 0 {
		return "no groups found"
	}
	out := ""
	for _, g := range groups {
		out += fmt.Sprintf("%s | %s | featured=%v\n", g.Slug, g.Name, g.Featured)
	}
	return out
}

func formatUsers(users []store.User) string {
	if len(users) == 0 {
		return "no users found"
	}
	out := ""
	for _, u := range users {
		out += fmt.Sprintf("%s | %s | role=%s public=%v\n", u.ID, u.Username, u.Role, u.Public)
	}
	return out
}
