package server

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/realism/internal/runtime"
	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"go.uber.org/zap"
)

// DevPhone is the contact used for bypass sessions.
const DevPhone = "+10000000000"

var (
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	codePattern = regexp.MustCompile(`^\d{4,8}$`)
)

const msgTooManyAttempts = "Too many attempts. Please wait before trying again."

type AuthHandler struct {
	Sessions  *runtime.Sessions
	Verifier  Verifier
	DevBypass bool
	Logger    *zap.Logger
}

type sendRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	VerificationID string `json:"verificationId"`
	Code           string `json:"code"`
	Phone          string `json:"phone"`
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/send", a.send)
	g.POST("/verify", a.verify)
	g.GET("/dev-login", a.devLoginAvailable)
	g.POST("/dev-login", a.devLogin)
	g.POST("/logout", a.logout)
	g.GET("/status", a.status)
}

func (a *AuthHandler) send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	phone := strings.TrimSpace(req.Phone)
	if !e164Pattern.MatchString(phone) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid phone number format. Use E.164 format: +15551234567")
	}
	v, err := a.Verifier.SendVerification(c.Request().Context(), phone)
	if err != nil {
		var se *sapiom.Error
		if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
			return echo.NewHTTPError(http.StatusTooManyRequests, msgTooManyAttempts)
		}
		a.Logger.Warn("send verification failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send verification code. Please try again.")
	}
	if v.Status == "blocked" {
		return echo.NewHTTPError(http.StatusTooManyRequests, "SMS delivery was blocked. Please wait a few minutes and try again, or use a different phone number.")
	}
	if v.ID == "" {
		return echo.NewHTTPError(http.StatusBadGateway, "Verification service did not return an ID. Please try again.")
	}
	return c.JSON(http.StatusOK, map[string]string{"verificationId": v.ID})
}

func (a *AuthHandler) verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	if req.VerificationID == "" || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "verificationId and code are required.")
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required.")
	}
	if !codePattern.MatchString(req.Code) {
		return echo.NewHTTPError(http.StatusBadRequest, "Code must be 4-8 digits.")
	}

	v, err := a.Verifier.CheckVerification(c.Request().Context(), req.VerificationID, req.Code)
	if err != nil {
		var se *sapiom.Error
		if errors.As(err, &se) {
			switch se.Status {
			case http.StatusGone:
				return echo.NewHTTPError(http.StatusBadRequest, "Code expired. Request a new one.")
			case http.StatusUnprocessableEntity:
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid code.")
			case http.StatusTooManyRequests:
				return echo.NewHTTPError(http.StatusTooManyRequests, msgTooManyAttempts)
			}
		}
		a.Logger.Warn("check verification failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Verification failed. Please try again.")
	}
	switch v.Status {
	case "success":
	case "pending":
		return echo.NewHTTPError(http.StatusBadRequest, "Verification still pending. Please try again.")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid code.")
	}
	return a.startSession(c, phone)
}

func (a *AuthHandler) startSession(c echo.Context, phone string) error {
	token, claims, err := a.Sessions.Issue(phone, runtime.ContactPhone)
	if err != nil {
		a.Logger.Error("issue session failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Verification failed. Please try again.")
	}
	a.Sessions.SetCookie(c, token)
	a.Logger.Info("session started", zap.String("user_id", claims.UserID))
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (a *AuthHandler) devLoginAvailable(c echo.Context) error {
	if !a.DevBypass {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return c.JSON(http.StatusOK, map[string]bool{"available": true})
}

func (a *AuthHandler) devLogin(c echo.Context) error {
	if !a.DevBypass {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return a.startSession(c, DevPhone)
}

// logout revokes the presented session, if any, and always clears the cookie.
func (a *AuthHandler) logout(c echo.Context) error {
	if token := runtime.SessionToken(c); token != "" {
		if err := a.Sessions.Revoke(c.Request().Context(), token); err != nil {
			a.Logger.Warn("revoke session failed", zap.Error(err))
		}
	}
	a.Sessions.ClearCookie(c)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (a *AuthHandler) status(c echo.Context) error {
	if _, err := a.Sessions.Validate(c.Request().Context(), runtime.SessionToken(c)); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]bool{"ok": false})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
