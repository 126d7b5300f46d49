package presenter

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	log.Debug().Err(err).Str("module", "rest").Str("path", c.Path()).Msg("bad request")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	log.Debug().Str("module", "rest").Str("path", c.Path()).Msg("bad request: " + msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

// Unavailable is used for retryable directory conditions.
func Unavailable(c echo.Context, err error) error {
	log.Warn().Err(err).Str("module", "rest").Str("path", c.Path()).Msg("service unavailable")
	c.Response().Header().Set("Retry-After", "7")
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
}

func InternalError(c echo.Context, err error) error {
	log.Error().Err(err).Str("module", "rest").Str("path", c.Path()).Msg("internal error")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
