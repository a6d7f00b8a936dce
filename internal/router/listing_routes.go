package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vehicle-marketplace/internal/handler"
)

// RegisterListings mounts browsing, listing management, offers, the live
// event stream and the guarded image route.
func RegisterListings(e *echo.Echo, l *handler.ListingHandler, o *handler.OfferHandler, ev *handler.EventHandler, g Guards) {
	v1 := e.Group("/v1")

	v1.GET("/listings", l.Browse, g.cache())
	v1.GET("/listings/:id", l.Detail)
	v1.GET("/listings/:id/events", ev.Stream)
	v1.POST("/listings", l.Create, g.auth(), sellers, g.limit())
	v1.POST("/listings/:id/offers", o.Place, g.auth(), g.limit())

	v1.GET("/me/listings", l.Mine, g.auth())
	v1.POST("/me/listings/:id/extend", l.Extend, g.auth(), sellers)
	v1.POST("/me/listings/:id/sold", l.MarkSold, g.auth(), sellers)

	v1.GET("/media/listings/:id/images/:index", l.Image, g.optional())
}
