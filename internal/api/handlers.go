package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tampadevs/communityevents/internal/authn"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/sync"
)

// publish emits every event a service call produced, logging rather
// than failing the request on a publish error — the mutation already
// committed, and the queue's durability means a publish retry is not
// the HTTP handler's job.
func (s *Server) publish(ctx context.Context, events []eventbus.Envelope) {
	for _, env := range events {
		if err := s.bus.Emit(ctx, env); err != nil {
			slog.Error("api: publishing domain event failed", "error", err, "event_type", env.Type)
		}
	}
}

func (s *Server) listGroupsHandler(c *echo.Context) error {
	featuredOnly := c.QueryParam("featured") == "true"
	groups, err := s.store.ListGroups(c.Request().Context(), featuredOnly)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, groups)
}

func (s *Server) getGroupHandler(c *echo.Context) error {
	g, err := s.store.GetGroupBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) listEventsHandler(c *echo.Context) error {
	f := store.EventFilter{
		GroupSlug: c.QueryParam("groupSlug"),
		Upcoming:  c.QueryParam("upcoming") != "false",
	}
	events, err := s.store.ListEvents(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) getEventHandler(c *echo.Context) error {
	e, err := s.store.GetEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) createRSVPHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	result, err := s.rsvpSvc.Create(ctx, c.Param("id"), userID)
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.JSON(http.StatusCreated, result.Value)
}

func (s *Server) cancelRSVPHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	result, err := s.rsvpSvc.Cancel(ctx, c.Param("id"), userID)
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) checkInHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	var body checkInRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.checkinSvc.CheckIn(ctx, c.Param("id"), userID, body.Code)
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addFavoriteHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	result, err := s.favSvc.Add(ctx, userID, c.Param("slug"))
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.JSON(http.StatusOK, favoriteResponse{AlreadyExisted: result.Value})
}

func (s *Server) removeFavoriteHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	result, err := s.favSvc.Remove(ctx, userID, c.Param("slug"))
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.JSON(http.StatusOK, favoriteResponse{Deleted: result.Value})
}

func (s *Server) claimBadgeHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := authn.FromContext(c).UserID
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}

	var body claimBadgeRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.claimSvc.Claim(ctx, userID, body.Code)
	if err != nil {
		return mapServiceError(err)
	}
	s.publish(ctx, result.Events)
	return c.JSON(http.StatusOK, result.Value)
}

func (s *Server) listUserBadgesHandler(c *echo.Context) error {
	badges, err := s.store.ListUserBadges(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, badges)
}

func (s *Server) listUserAchievementsHandler(c *echo.Context) error {
	progress, err := s.store.ListUserAchievementProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, progress)
}

func (s *Server) listWebhooksHandler(c *echo.Context) error {
	admin := "admin"
	if !authn.FromContext(c).Auth.Allows(&admin) {
		return echo.NewHTTPError(http.StatusForbidden, "admin access required")
	}
	webhooks, err := s.store.ListWebhooks(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	for i := range webhooks {
		webhooks[i].Secret = ""
	}
	return c.JSON(http.StatusOK, webhooks)
}

func (s *Server) createWebhookHandler(c *echo.Context) error {
	var body createWebhookRequest
	if err := c.Bind(&body); err != nil || body.URL == "" || body.Secret == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url and secret are required")
	}

	sealed, err := s.box.Seal(body.Secret)
	if err != nil {
		return mapServiceError(err)
	}

	id, err := s.store.CreateWebhook(c.Request().Context(), body.URL, sealed, body.EventTypes)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, webhookCreatedResponse{ID: id})
}

func (s *Server) deleteWebhookHandler(c *echo.Context) error {
	if err := s.store.DeactivateWebhook(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) triggerSyncHandler(c *echo.Context) error {
	var body triggerSyncRequest
	_ = c.Bind(&body)

	if body.GroupSlug != "" {
		result, err := s.syncSvc.SyncGroupByUrlname(c.Request().Context(), body.GroupSlug)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, result)
	}
	all := s.syncSvc.SyncAllGroups(c.Request().Context(), sync.Options{})
	return c.JSON(http.StatusOK, all)
}

func (s *Server) syncLogsHandler(c *echo.Context) error {
	f := store.SyncLogFilter{GroupID: c.QueryParam("groupId")}
	logs, err := s.store.GetSyncLogs(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) mcpHandler(c *echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	identity := authn.FromContext(c)
	responses, err := s.mcp.Handle(c.Request().Context(), raw, identity.Auth)
	if err != nil {
		return mapServiceError(err)
	}
	if responses == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if len(responses) == 1 {
		return c.JSON(http.StatusOK, responses[0])
	}
	return c.JSON(http.StatusOK, responses)
}
