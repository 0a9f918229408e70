package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/service"
)

// Accounts is the session API behind the auth routes.
type Accounts interface {
	Register(ctx context.Context, email, password string) (service.Session, error)
	Login(ctx context.Context, email, password string) (service.Session, error)
	Refresh(ctx context.Context, raw string) (service.Session, error)
	Logout(ctx context.Context, p auth.Principal, raw string) error
	Me(ctx context.Context, p auth.Principal) (model.User, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// AuthHandler serves registration, login, token refresh and logout.
type AuthHandler struct {
	accounts Accounts
	log      *logger.Logger
}

func NewAuthHandler(accounts Accounts, log *logger.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, log: log}
}

type credentialsReq struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutReq struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotReq struct {
	Email string `json:"email" validate:"required,max=255"`
}

type resetReq struct {
	Token    string `json:"token" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=128"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User    userResp  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func toAuthResp(s service.Session) authResp {
	return authResp{
		User:    userResp{ID: s.User.ID, Email: s.User.Email, Role: s.User.Role},
		Access:  tokenPart{Token: s.Access.Token, Expires: s.Access.Exp},
		Refresh: tokenPart{Token: s.Refresh.Raw, Expires: s.Refresh.Exp},
	}
}

// Register creates a customer account and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	s, err := h.accounts.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(s))
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	s, err := h.accounts.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(s))
}

// Refresh rotates the refresh token; the old one stops working.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	s, err := h.accounts.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(s))
}

// Logout revokes the given refresh token. Called with a bearer token and
// no body it ends every session of the caller.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.accounts.Logout(c.Request().Context(), middleware.Principal(c), req.RefreshToken); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) Me(c echo.Context) error {
	u, err := h.accounts.Me(c.Request().Context(), middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, userResp{ID: u.ID, Email: u.Email, Role: u.Role})
}

// ForgotPassword always answers 202 for a well-formed email so accounts
// cannot be enumerated.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.accounts.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "if the email is registered, a reset link has been sent"})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.accounts.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
