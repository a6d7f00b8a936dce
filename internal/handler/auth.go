package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/config"
	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
	"github.com/iliyamo/vehicle-marketplace/internal/utils"
)

// Accounts is the user store used by the auth, profile and admin handlers.
type Accounts interface {
	Create(ctx context.Context, in repository.NewUser, cost int) (uint64, error)
	GetByIdentifier(ctx context.Context, identifier string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	Promote(ctx context.Context, id uint64, from, to model.Role) error
	List(ctx context.Context, limit, offset int) ([]model.User, int64, error)
	SetEntitlement(ctx context.Context, id uint64, entitled bool) error
}

// AuthHandler serves registration, login and the caller's profile.
type AuthHandler struct {
	Cfg   config.Config
	Users Accounts
	Log   *zap.Logger
}

func NewAuthHandler(cfg config.Config, users Accounts, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: users, Log: nopIfNil(log)}
}

type registerReq struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginReq struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"` // accepted in place of identifier
	Password   string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User   model.User `json:"user"`
	Access tokenPart  `json:"access"`
}

const minPasswordLen = 8

// Register creates a buyer account and returns an access token right away.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return badRequest(c, "a valid email is required")
	}
	if len(req.Password) < minPasswordLen {
		return badRequest(c, "password must be at least 8 characters")
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	uid, err := h.Users.Create(ctx, repository.NewUser{
		Email:    req.Email,
		Phone:    req.Phone,
		Name:     req.Name,
		Password: req.Password,
		Role:     model.RoleBuyer,
	}, h.Cfg.BcryptCost)
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
	case errors.Is(err, repository.ErrPhoneExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "phone already exists"})
	case err != nil:
		h.Log.Error("create user failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		h.Log.Error("load new user failed", zap.Uint64("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return h.issue(c, http.StatusCreated, u)
}

// Login accepts an email or phone number as the identifier.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ident := strings.TrimSpace(req.Identifier)
	if ident == "" {
		ident = strings.TrimSpace(req.Email)
	}
	if ident == "" || req.Password == "" {
		return badRequest(c, "identifier/password required")
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	u, err := h.Users.GetByIdentifier(ctx, ident)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.Log.Error("login lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	return h.issue(c, http.StatusOK, u)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx, cancel := apiCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		h.Log.Error("load user failed", zap.Uint64("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, u)
}

// PromoteToSeller upgrades a buyer to a seller. The role lives in the token,
// so a fresh one is returned.
func (h *AuthHandler) PromoteToSeller(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	if middleware.Role(c) != model.RoleBuyer {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only buyers can be promoted"})
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	if err := h.Users.Promote(ctx, uid, model.RoleBuyer, model.RoleSeller); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "only buyers can be promoted"})
		}
		h.Log.Error("promote user failed", zap.Uint64("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "promote failed"})
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		h.Log.Error("load user failed", zap.Uint64("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	h.Log.Info("user promoted to seller", zap.Uint64("user_id", uid))
	return h.issue(c, http.StatusOK, u)
}

func (h *AuthHandler) issue(c echo.Context, status int, u model.User) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, string(u.Role), h.Cfg.AccessTTLMin)
	if err != nil {
		h.Log.Error("issue access token failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(status, authResp{
		User:   u,
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// SeedAdmin creates the configured administrator once. An existing account
// with the same email is left alone.
func SeedAdmin(ctx context.Context, cfg config.Config, users Accounts, log *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	_, err := users.Create(ctx, repository.NewUser{
		Email:    cfg.AdminEmail,
		Phone:    cfg.AdminPhone,
		Name:     "Administrator",
		Password: cfg.AdminPassword,
		Role:     model.RoleAdmin,
	}, cfg.BcryptCost)
	switch {
	case errors.Is(err, repository.ErrEmailExists), errors.Is(err, repository.ErrPhoneExists):
		return nil
	case err != nil:
		return err
	}
	nopIfNil(log).Info("admin account seeded", zap.String("email", cfg.AdminEmail))
	return nil
}
