package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vehicle-marketplace/internal/handler"
)

// RegisterPayments mounts claim submission for sellers and the
// reconciliation endpoints for admins.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler, g Guards) {
	v1 := e.Group("/v1")

	v1.POST("/payments/manual/claim", p.ManualClaim, g.auth(), g.limit())
	v1.POST("/payments/airtel/claim", p.AirtelClaim, g.auth(), g.limit())
	v1.GET("/me/payments", p.Mine, g.auth())

	v1.POST("/payments/manual/verify", p.Verify, g.auth(), admins)
	v1.GET("/payments/pending", p.Pending, g.auth(), admins)
	v1.GET("/payments/search", p.Search, g.auth(), admins)
}

// RegisterAdmin mounts the operator endpoints.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, g Guards) {
	adm := e.Group("/v1/admin")

	adm.POST("/expire-now", a.ExpireNow, g.auth(), admins)
	adm.GET("/users", a.ListUsers, g.auth(), admins)
	adm.PATCH("/users/:id/entitlement", a.SetEntitlement, g.auth(), admins)
}
