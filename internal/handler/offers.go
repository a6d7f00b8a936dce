package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
)

type Offers interface {
	PlaceOffer(ctx context.Context, in service.PlaceOfferInput) (model.Offer, error)
}

type OfferHandler struct {
	Offers Offers
	Log    *zap.Logger
}

func NewOfferHandler(o Offers, log *zap.Logger) *OfferHandler {
	return &OfferHandler{Offers: o, Log: nopIfNil(log)}
}

type offerReq struct {
	BuyerID uint64 `json:"buyerId"`
	Amount  int64  `json:"amount"`
	Kind    string `json:"kind"`
	Type    string `json:"type"` // older clients send type
}

// Place records an offer or bid for the authenticated buyer. A buyerId in the
// body must match the token.
func (h *OfferHandler) Place(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	listingID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid listing id")
	}
	var req offerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.BuyerID != 0 && req.BuyerID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": string(service.KindForbidden), "message": "buyerId does not match the authenticated user"})
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(req.Type))
	}
	if kind == "" {
		kind = string(model.KindOffer)
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	o, err := h.Offers.PlaceOffer(ctx, service.PlaceOfferInput{
		ListingID: listingID,
		BuyerID:   uid,
		AmountKES: req.Amount,
		Kind:      model.OfferKind(kind),
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"offerId": o.ID, "offer": o})
}
