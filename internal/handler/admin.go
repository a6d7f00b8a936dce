package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/repository"
)

// AdminHandler serves the operator endpoints: the on-demand expiry sweep and
// user management.
type AdminHandler struct {
	Claims Claims
	Users  Accounts
	Log    *zap.Logger
}

func NewAdminHandler(claims Claims, users Accounts, log *zap.Logger) *AdminHandler {
	return &AdminHandler{Claims: claims, Users: users, Log: nopIfNil(log)}
}

// ExpireNow runs the expiry sweep immediately.
func (h *AdminHandler) ExpireNow(c echo.Context) error {
	ctx, cancel := apiCtx(c)
	defer cancel()

	n, err := h.Claims.ExpireNow(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Expiry job run completed", "expired": n})
}

// ListUsers pages through accounts, newest first.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 50
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	users, total, err := h.Users.List(ctx, size, (page-1)*size)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users, "total": total, "page": page, "page_size": size})
}

type entitlementReq struct {
	Entitled *bool `json:"entitled"`
}

// SetEntitlement grants or revokes the paid flag that unlocks offers.
func (h *AdminHandler) SetEntitlement(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var req entitlementReq
	if err := c.Bind(&req); err != nil || req.Entitled == nil {
		return badRequest(c, "entitled (true/false) is required")
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	if err := h.Users.SetEntitlement(ctx, id, *req.Entitled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "user not found"})
		}
		return respondError(c, h.Log, err)
	}
	h.Log.Info("offers entitlement changed", zap.Uint64("user_id", id), zap.Bool("entitled", *req.Entitled))
	return c.JSON(http.StatusOK, echo.Map{"id": id, "offers_entitled": *req.Entitled})
}
