// Package api is the HTTP surface described by spec.md 10.5: RSVP,
// favorites, badge claim, check-in, read-only group/event/badge
// listings, webhook registration, the MCP JSON-RPC endpoint, and the
// websocket upgrade for real-time push. Grounded on the teacher's
// pkg/api/server.go (Echo v5, Set*-style optional wiring,
// setupRoutes/healthHandler shape).
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tampadevs/communityevents/internal/authn"
	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/mcpserver"
	"github.com/tampadevs/communityevents/internal/metrics"
	"github.com/tampadevs/communityevents/internal/notify"
	"github.com/tampadevs/communityevents/internal/services"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/sync"
	"github.com/tampadevs/communityevents/internal/tokencrypt"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store      *store.Store
	bus        *eventbus.Bus
	syncSvc    *sync.Service
	rsvpSvc    *services.RSVPService
	favSvc     *services.FavoritesService
	claimSvc   *services.ClaimService
	checkinSvc *services.CheckInService
	mcp        *mcpserver.Dispatcher
	hub        *notify.Hub
	verifier   *authn.Verifier
	box        *tokencrypt.Box
}

// NewServer constructs the HTTP API server with Echo v5 and registers
// every route.
func NewServer(
	st *store.Store,
	bus *eventbus.Bus,
	syncSvc *sync.Service,
	rsvpSvc *services.RSVPService,
	favSvc *services.FavoritesService,
	claimSvc *services.ClaimService,
	checkinSvc *services.CheckInService,
	mcp *mcpserver.Dispatcher,
	hub *notify.Hub,
	verifier *authn.Verifier,
	box *tokencrypt.Box,
) *Server {
	e := echo.New()

	s := &Server{
		echo:       e,
		store:      st,
		bus:        bus,
		syncSvc:    syncSvc,
		rsvpSvc:    rsvpSvc,
		favSvc:     favSvc,
		claimSvc:   claimSvc,
		checkinSvc: checkinSvc,
		mcp:        mcp,
		hub:        hub,
		verifier:   verifier,
		box:        box,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := s.echo.Group("/api/v1")
	v1.Use(s.verifier.Middleware)

	v1.GET("/groups", s.listGroupsHandler)
	v1.GET("/groups/:slug", s.getGroupHandler)
	v1.GET("/events", s.listEventsHandler)
	v1.GET("/events/:id", s.getEventHandler)

	v1.POST("/events/:id/rsvp", s.createRSVPHandler)
	v1.DELETE("/events/:id/rsvp", s.cancelRSVPHandler)
	v1.POST("/events/:id/checkin", s.checkInHandler)

	v1.POST("/groups/:slug/favorite", s.addFavoriteHandler)
	v1.DELETE("/groups/:slug/favorite", s.removeFavoriteHandler)

	v1.POST("/badges/claim", s.claimBadgeHandler)

	v1.GET("/users/:id/badges", s.listUserBadgesHandler)
	v1.GET("/users/:id/achievements", s.listUserAchievementsHandler)

	v1.GET("/webhooks", s.listWebhooksHandler)
	v1.POST("/webhooks", s.createWebhookHandler)
	v1.DELETE("/webhooks/:id", s.deleteWebhookHandler)

	v1.POST("/sync", s.triggerSyncHandler)
	v1.GET("/sync/logs", s.syncLogsHandler)

	v1.POST("/mcp", s.mcpHandler)
	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on addr. It blocks (ListenAndServe)
// until Shutdown is called, so callers run it in its own goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	conn, err := s.store.Pool().Acquire(reqCtx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
	}
	conn.Release()
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}
