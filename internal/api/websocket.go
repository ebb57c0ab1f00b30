package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	echo "github.com/labstack/echo/v5"

	"github.com/tampadevs/communityevents/internal/authn"
	"github.com/tampadevs/communityevents/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Real-time push is read from, not driven by, the browser's origin;
	// the bearer token on connect is the actual authorization boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler upgrades to a websocket and registers the connection with
// the hub for the lifetime of the socket (spec.md 4.10). The connection
// joins the anonymous broadcast surface always, and the per-user
// surface when the bearer token identified a caller.
func (s *Server) wsHandler(c *echo.Context) error {
	userID := authn.FromContext(c).UserID

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade failed")
	}

	s.hub.Register(userID, conn)
	metrics.WebsocketConnectionsActive.Inc()
	defer func() {
		s.hub.Unregister(userID, conn)
		metrics.WebsocketConnectionsActive.Dec()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("api: websocket closed unexpectedly", "error", err)
			}
			return nil
		}
	}
}
