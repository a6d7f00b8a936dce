package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/notify"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
)

// ListingLookup checks that a listing exists before a stream is opened.
type ListingLookup interface {
	Detail(ctx context.Context, id uint64) (service.ListingDetail, error)
}

// EventHandler streams listing events over server-sent events.
type EventHandler struct {
	Hub       *notify.Hub
	Listings  ListingLookup
	Heartbeat time.Duration
	Log       *zap.Logger
}

func NewEventHandler(hub *notify.Hub, listings ListingLookup, heartbeat time.Duration, log *zap.Logger) *EventHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventHandler{Hub: hub, Listings: listings, Heartbeat: heartbeat, Log: nopIfNil(log)}
}

// Stream registers the connection with the hub and writes one
// "data: {...}" frame per event until the client goes away. Events that
// happened before the connection are not replayed.
func (h *EventHandler) Stream(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid listing id")
	}
	ctx, cancel := apiCtx(c)
	_, err := h.Listings.Detail(ctx, id)
	cancel()
	if err != nil {
		return respondError(c, h.Log, err)
	}

	sub := h.Hub.Register(id)
	defer h.Hub.Unregister(sub)

	res := c.Response()
	hdr := res.Header()
	hdr.Set(echo.HeaderContentType, "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(res, ": connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	tick := time.NewTicker(h.Heartbeat)
	defer tick.Stop()
	done := c.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeFrame(res, ev); err != nil {
				h.Log.Debug("sse write failed", zap.Uint64("listing_id", id), zap.Error(err))
				return nil
			}
		case <-tick.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeFrame(res *echo.Response, ev notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", b); err != nil {
		return err
	}
	res.Flush()
	return nil
}
