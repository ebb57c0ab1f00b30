package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// mapServiceError maps service/store-layer errors to HTTP error
// responses, grounded on the teacher's mapServiceError (pkg/api/errors.go).
func mapServiceError(err error) *echo.HTTPError {
	if svcerr.IsValidationError(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, svcerr.ErrBadRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, svcerr.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, svcerr.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, svcerr.ErrGone) {
		return echo.NewHTTPError(http.StatusGone, err.Error())
	}

	slog.Error("api: unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
