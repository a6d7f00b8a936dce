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

// Claims is the reconciliation service as seen by the HTTP layer.
type Claims interface {
	SubmitClaim(ctx context.Context, in service.SubmitClaimInput) (model.PaymentClaim, error)
	ResolveClaim(ctx context.Context, in service.ResolveClaimInput) (service.Resolution, error)
	PendingClaims(ctx context.Context) ([]model.PaymentClaim, error)
	SearchClaims(ctx context.Context, code string) ([]model.PaymentClaim, error)
	ClaimsForUser(ctx context.Context, userID uint64) ([]model.PaymentClaim, error)
	ExpireNow(ctx context.Context) (int64, error)
}

type PaymentHandler struct {
	Claims Claims
	Log    *zap.Logger
}

func NewPaymentHandler(claims Claims, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{Claims: claims, Log: nopIfNil(log)}
}

type claimReq struct {
	UserID      uint64 `json:"userId"`
	ListingID   uint64 `json:"listingId"`
	ProviderRef string `json:"providerRef"`
	MpesaCode   string `json:"mpesaCode"`
	AirtelRef   string `json:"airtelRef"`
	Provider    string `json:"provider"`
	PayerPhone  string `json:"payerPhone"`
}

// ManualClaim records a self-reported M-Pesa or Airtel payment against a
// listing awaiting payment.
func (h *PaymentHandler) ManualClaim(c echo.Context) error {
	var req claimReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	return h.submit(c, req)
}

// AirtelClaim is ManualClaim with the provider fixed to Airtel Money.
func (h *PaymentHandler) AirtelClaim(c echo.Context) error {
	var req claimReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Provider = "airtel"
	return h.submit(c, req)
}

func (h *PaymentHandler) submit(c echo.Context, req claimReq) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	if req.UserID != 0 && req.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": string(service.KindForbidden), "message": "userId does not match the authenticated user"})
	}
	provider, err := model.ParseProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ref := firstNonEmpty(req.ProviderRef, req.MpesaCode, req.AirtelRef)

	ctx, cancel := apiCtx(c)
	defer cancel()

	claim, err := h.Claims.SubmitClaim(ctx, service.SubmitClaimInput{
		UserID:     uid,
		ListingID:  req.ListingID,
		Provider:   provider,
		Reference:  ref,
		PayerPhone: req.PayerPhone,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"claimId": claim.ID,
		"status":  claim.Status,
		"message": "Payment claim submitted. Admin will verify and publish your listing shortly.",
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type verifyReq struct {
	ClaimID uint64 `json:"claimId"`
	Approve *bool  `json:"approve"`
	Note    string `json:"note"`
}

// Verify lets an admin approve or reject a claim. The response names the
// invariant when the decision cannot be applied.
func (h *PaymentHandler) Verify(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Approve == nil {
		return badRequest(c, "approve is required")
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	res, err := h.Claims.ResolveClaim(ctx, service.ResolveClaimInput{
		ClaimID: req.ClaimID,
		Approve: *req.Approve,
		AdminID: adminID,
		Note:    req.Note,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := echo.Map{"message": res.Message, "claim": res.Claim}
	if res.Listing != nil {
		out["listingStatus"] = res.Listing.Status
	}
	return c.JSON(http.StatusOK, out)
}

// Pending lists claims waiting for a decision, oldest first.
func (h *PaymentHandler) Pending(c echo.Context) error {
	ctx, cancel := apiCtx(c)
	defer cancel()

	items, err := h.Claims.PendingClaims(ctx)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Search finds claims by receipt code.
func (h *PaymentHandler) Search(c echo.Context) error {
	ctx, cancel := apiCtx(c)
	defer cancel()

	items, err := h.Claims.SearchClaims(ctx, c.QueryParam("code"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Mine lists the caller's own claims.
func (h *PaymentHandler) Mine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx, cancel := apiCtx(c)
	defer cancel()

	items, err := h.Claims.ClaimsForUser(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
