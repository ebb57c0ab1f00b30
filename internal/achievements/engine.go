// Package achievements is the wildcard handler described by spec.md
// 4.8: onboarding auto-complete, condition-gated progress tracking in
// counter or gauge mode, badge auto-award, and entitlement grants. The
// per-batch achievement-definition cache is grounded on the teacher's
// process-wide registry idiom (pkg/mcp/router.go's init-once tool map),
// narrowed to a cache scoped to one queue batch instead of the process
// lifetime, per spec.md 5, 9.
package achievements

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/metrics"
	"github.com/tampadevs/communityevents/internal/store"
)

// Engine evaluates domain events against achievement and onboarding
// definitions and publishes the follow-on domain events spec.md 4.8
// describes.
type Engine struct {
	store *store.Store
	bus   *eventbus.Bus

	mu    sync.Mutex
	cache map[string][]store.Achievement // eventType -> achievements, one batch's worth
}

// New constructs an Engine. Register its Handle method with the queue
// dispatcher as a wildcard handler, and its Reset method as a
// batch-start hook.
func New(st *store.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: st, bus: bus}
}

// Reset drops the per-batch achievement-definition cache. Call once per
// claimed queue batch, before any Handle call for that batch runs.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.cache = make(map[string][]store.Achievement)
	e.mu.Unlock()
}

func (e *Engine) achievementsForType(ctx context.Context, eventType string) ([]store.Achievement, error) {
	e.mu.Lock()
	if e.cache == nil {
		e.cache = make(map[string][]store.Achievement)
	}
	if cached, ok := e.cache[eventType]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	fetched, err := e.store.ListEnabledAchievementsByEventType(ctx, eventType)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[eventType] = fetched
	e.mu.Unlock()
	return fetched, nil
}

// Handle processes one domain event envelope (spec.md 4.8).
func (e *Engine) Handle(ctx context.Context, env eventbus.Envelope) error {
	userID, ok := env.UserID()
	if !ok {
		return nil
	}

	if err := e.processOnboarding(ctx, userID, env.Type); err != nil {
		slog.Error("achievements: onboarding step processing failed", "error", err, "event_type", env.Type)
	}

	achievements, err := e.achievementsForType(ctx, env.Type)
	if err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}

	for _, a := range achievements {
		if !conditionsMatch(a.Conditions, payloadJSON) {
			continue
		}
		if err := e.progressAchievement(ctx, userID, a, payloadJSON); err != nil {
			slog.Error("achievements: progressing achievement failed", "error", err, "key", a.Key, "user_id", userID)
		}
	}
	return nil
}

// processOnboarding auto-completes any onboarding step whose eventKey
// matches this event type (spec.md 4.8 step 1).
func (e *Engine) processOnboarding(ctx context.Context, userID, eventType string) error {
	steps, err := e.store.ListOnboardingStepsByEventKey(ctx, eventType)
	if err != nil {
		return err
	}
	for _, step := range steps {
		justCompleted, err := e.store.CompleteOnboardingStep(ctx, userID, step.StepKey)
		if err != nil {
			slog.Error("achievements: completing onboarding step failed", "error", err, "step", step.StepKey)
			continue
		}
		if !justCompleted {
			continue
		}
		if err := e.bus.Emit(ctx, eventbus.New("onboarding.step_completed", map[string]any{
			"userId": userID, "stepKey": step.StepKey,
		}, eventbus.Metadata{UserID: &userID, Source: "achievements"})); err != nil {
			slog.Error("achievements: publishing onboarding.step_completed failed", "error", err)
		}

		allDone, err := e.store.AllOnboardingStepsComplete(ctx, userID)
		if err != nil {
			slog.Error("achievements: checking onboarding completeness failed", "error", err)
			continue
		}
		if allDone {
			if err := e.bus.Emit(ctx, eventbus.New("onboarding.completed", map[string]any{
				"userId": userID,
			}, eventbus.Metadata{UserID: &userID, Source: "achievements"})); err != nil {
				slog.Error("achievements: publishing onboarding.completed failed", "error", err)
			}
		}
	}
	return nil
}

// progressAchievement runs spec.md 4.8 steps b-d for one achievement.
func (e *Engine) progressAchievement(ctx context.Context, userID string, a store.Achievement, payloadJSON []byte) error {
	initial := 0.0
	if a.ProgressMode == "gauge" && a.GaugeField != nil {
		initial = gaugeValue(payloadJSON, *a.GaugeField)
	}
	if err := e.store.EnsureAchievementProgress(ctx, userID, a.Key, a.TargetValue, initial); err != nil {
		return err
	}

	switch a.ProgressMode {
	case "gauge":
		field := ""
		if a.GaugeField != nil {
			field = *a.GaugeField
		}
		if err := e.store.SetGaugeProgress(ctx, userID, a.Key, gaugeValue(payloadJSON, field)); err != nil {
			return err
		}
	default: // counter
		if err := e.store.IncrementCounterProgress(ctx, userID, a.Key); err != nil {
			return err
		}
	}

	progress, err := e.store.GetAchievementProgress(ctx, userID, a.Key)
	if err != nil {
		return err
	}
	if progress.CurrentValue < progress.TargetValue || progress.CompletedAt != nil {
		return nil
	}

	justCompleted, err := e.store.CompleteAchievementProgress(ctx, userID, a.Key)
	if err != nil || !justCompleted {
		return err
	}

	metrics.AchievementsUnlockedTotal.Inc()
	if err := e.bus.Emit(ctx, eventbus.New("achievement.unlocked", map[string]any{
		"userId": userID, "achievementKey": a.Key, "achievementName": a.Name, "points": a.Points,
	}, eventbus.Metadata{UserID: &userID, Source: "achievements"})); err != nil {
		slog.Error("achievements: publishing achievement.unlocked failed", "error", err)
	}

	if a.BadgeSlug != nil {
		if err := e.awardBadge(ctx, userID, *a.BadgeSlug, a.Points); err != nil {
			slog.Error("achievements: awarding badge failed", "error", err, "badge_slug", *a.BadgeSlug)
		}
	}
	if a.Entitlement != nil {
		if err := e.store.GrantEntitlement(ctx, userID, *a.Entitlement); err != nil {
			slog.Error("achievements: granting entitlement failed", "error", err, "entitlement", *a.Entitlement)
		}
	}
	return nil
}

// awardBadge looks up or auto-creates the badge, awards it if not
// already held, and recomputes the user's platform-wide score
// (spec.md 4.8 step d).
func (e *Engine) awardBadge(ctx context.Context, userID, badgeSlug string, points int) error {
	badgeID, err := e.store.GetOrCreateBadgeBySlug(ctx, badgeSlug, points)
	if err != nil {
		return err
	}

	newAward, err := e.store.AwardBadge(ctx, userID, badgeID)
	if err != nil {
		return err
	}
	if !newAward {
		return nil
	}

	if err := e.bus.Emit(ctx, eventbus.New("badge.issued", map[string]any{
		"userId": userID, "badgeId": badgeID, "badgeSlug": badgeSlug,
	}, eventbus.Metadata{UserID: &userID, Source: "achievements"})); err != nil {
		slog.Error("achievements: publishing badge.issued failed", "error", err)
	}

	total, err := e.store.UserBadgePoints(ctx, userID)
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, eventbus.New("user.score_changed", map[string]any{
		"userId": userID, "totalScore": total,
	}, eventbus.Metadata{UserID: &userID, Source: "achievements"}))
}

// gaugeValue extracts a numeric value at dotPath from payloadJSON,
// returning 0 for missing or non-numeric values (spec.md 4.8 step c).
func gaugeValue(payloadJSON []byte, dotPath string) float64 {
	result := gjson.GetBytes(payloadJSON, dotPath)
	if !result.Exists() || result.Type != gjson.Number {
		return 0
	}
	return result.Float()
}

// conditionsMatch evaluates an achievement's AND-logic condition list
// against the event payload (spec.md 4.8 step a, 9). Empty conditions
// match unconditionally. Dotted-path extraction distinguishes "absent"
// from "present and null" via gjson's Exists/Type, so neq on an absent
// field evaluates false rather than true.
func conditionsMatch(conditions []store.Condition, payloadJSON []byte) bool {
	for _, c := range conditions {
		if !conditionMatches(c, payloadJSON) {
			return false
		}
	}
	return true
}

func conditionMatches(c store.Condition, payloadJSON []byte) bool {
	result := gjson.GetBytes(payloadJSON, c.Field)
	exists := result.Exists()

	switch c.Op {
	case "eq":
		return exists && valuesEqual(result, c.Value)
	case "neq":
		if !exists {
			return false
		}
		return !valuesEqual(result, c.Value)
	case "gt":
		return exists && result.Type == gjson.Number && result.Float() > toFloat(c.Value)
	case "gte":
		return exists && result.Type == gjson.Number && result.Float() >= toFloat(c.Value)
	case "lt":
		return exists && result.Type == gjson.Number && result.Float() < toFloat(c.Value)
	case "lte":
		return exists && result.Type == gjson.Number && result.Float() <= toFloat(c.Value)
	case "in":
		list, ok := c.Value.([]any)
		if !ok || !exists {
			return false
		}
		for _, v := range list {
			if valuesEqual(result, v) {
				return true
			}
		}
		return false
	case "contains":
		return exists && result.Type == gjson.String && strings.Contains(result.String(), fmt.Sprint(c.Value))
	default:
		return false
	}
}

func valuesEqual(r gjson.Result, want any) bool {
	switch w := want.(type) {
	case string:
		return r.Type == gjson.String && r.String() == w
	case bool:
		return (r.Type == gjson.True || r.Type == gjson.False) && r.Bool() == w
	case float64:
		return r.Type == gjson.Number && r.Float() == w
	default:
		return r.String() == fmt.Sprint(want)
	}
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
