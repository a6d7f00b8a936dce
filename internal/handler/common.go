// Package handler holds the Echo handlers. Handlers parse and check the
// request, call one service and map the result onto a JSON response.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
)

const requestTimeout = 5 * time.Second

// apiCtx bounds the database work of one request.
func apiCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

var errNoUser = errors.New("user_id not found in context")

// getUserID returns the caller's ID as set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errNoUser
	}
	return id, nil
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.KindValidation), "message": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// statusFor maps a business error kind onto an HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidState:
		return http.StatusConflict
	case service.KindEntitlementRequired:
		return http.StatusPaymentRequired
	case service.KindBelowMinimum:
		return http.StatusUnprocessableEntity
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError writes a business error with its kind and reason. Anything
// else is logged and reported as a generic 500.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	if k, ok := service.KindOf(err); ok {
		return c.JSON(statusFor(k), echo.Map{"error": string(k), "message": err.Error()})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method), zap.String("route", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal server error"})
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
