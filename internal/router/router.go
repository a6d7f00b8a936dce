// Package router mounts the handlers on Echo. Every API route lives under
// /v1; /healthz and /metrics sit at the root for probes and scrapers.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vehicle-marketplace/internal/handler"
	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
)

// Guards bundles the middleware shared by the route groups. Nil entries are
// skipped.
type Guards struct {
	JWTSecret string
	Limiter   echo.MiddlewareFunc // applied to writes
	Cache     echo.MiddlewareFunc // applied to the public browse endpoint
}

func (g Guards) auth() echo.MiddlewareFunc     { return middleware.JWTAuth(g.JWTSecret) }
func (g Guards) optional() echo.MiddlewareFunc { return middleware.OptionalJWT(g.JWTSecret) }

func (g Guards) limit() echo.MiddlewareFunc {
	if g.Limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return g.Limiter
}

func (g Guards) cache() echo.MiddlewareFunc {
	if g.Cache == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return g.Cache
}

var (
	sellers = middleware.RequireRole(model.RoleSeller, model.RoleAdmin)
	admins  = middleware.RequireRole(model.RoleAdmin)
)

// RegisterRoutes mounts the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth mounts registration, login and the caller's profile.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, g Guards) {
	v1 := e.Group("/v1")
	v1.POST("/auth/register", a.Register, g.limit())
	v1.POST("/auth/login", a.Login, g.limit())

	v1.GET("/me", a.Me, g.auth())
	v1.POST("/me/promote-to-seller", a.PromoteToSeller, g.auth(), g.limit())
}
