package controller

import (
	"strings"
	"time"

	"knightshade/internal/common/http/middleware"
	"knightshade/internal/user/service"
	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

// UserController handles user and auth HTTP endpoints.
type UserController struct {
	authService    *service.AuthService
	emailService   *service.EmailService
	profileService *service.ProfileService
	cookieDomain   string
	cookieSecure   bool
}

// UserControllerConfig holds cookie settings for issued tokens.
type UserControllerConfig struct {
	CookieDomain string `yaml:"cookieDomain"`
	CookieSecure bool   `yaml:"cookieSecure"`
}

func NewUserController(
	authService *service.AuthService,
	emailService *service.EmailService,
	profileService *service.ProfileService,
	cfg UserControllerConfig,
) *UserController {
	return &UserController{
		authService:    authService,
		emailService:   emailService,
		profileService: profileService,
		cookieDomain:   cfg.CookieDomain,
		cookieSecure:   cfg.CookieSecure,
	}
}

// RegisterProtectedRoutes mounts routes behind the auth middleware.
func (h *UserController) RegisterProtectedRoutes(group *gin.RouterGroup) {
	group.POST("/users/logout", h.Logout)
	group.GET("/users/me", h.CurrentUser)
	group.POST("/users/reset-password", h.ResetPassword)
	group.POST("/users/avatar", h.UploadAvatar)
}

// RegisterRequest defines registration payload.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest defines login payload. Identifier is a username or email.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// RefreshRequest defines refresh payload. The token can also come from the
// refreshToken cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ResetPasswordRequest defines password reset payload.
type ResetPasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type userView struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

type authView struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             userView  `json:"user"`
}

func toUserView(info service.UserInfo) userView {
	return userView{
		ID:            info.ID,
		Username:      info.Username,
		Email:         info.Email,
		FullName:      info.FullName,
		Role:          info.Role,
		EmailVerified: info.EmailVerified,
	}
}

func toAuthView(result service.AuthResult) authView {
	return authView{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshExpiresAt: result.RefreshExpiresAt,
		User:             toUserView(result.User),
	}
}

// Register handles user registration.
func (h *UserController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setTokenCookies(c, result)
	response.Created(c, toAuthView(result))
}

// Login handles user login.
func (h *UserController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		IP:         c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setTokenCookies(c, result)
	response.Success(c, toAuthView(result))
}

// Refresh rotates the refresh token and issues a new token pair.
func (h *UserController) Refresh(c *gin.Context) {
	var req RefreshRequest
	_ = c.ShouldBindJSON(&req)
	token := req.RefreshToken
	if token == "" {
		if cookie, err := c.Cookie(refreshTokenCookie); err == nil {
			token = cookie
		}
	}
	if token == "" {
		response.ErrorWithCode(c, pkgerrors.TokenInvalid, "missing refresh token")
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setTokenCookies(c, result)
	response.Success(c, toAuthView(result))
}

// Logout clears the stored refresh token and the token cookies.
func (h *UserController) Logout(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}

	h.clearTokenCookies(c)
	response.SuccessWithMessage(c, "Logout success", nil)
}

// CurrentUser returns the authenticated user's profile.
func (h *UserController) CurrentUser(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return
	}

	profile, err := h.profileService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	view := toUserView(profile.UserInfo)
	view.AvatarURL = profile.AvatarURL
	response.Success(c, view)
}

// ResetPassword changes the password after checking the old one.
func (h *UserController) ResetPassword(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return
	}

	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	h.clearTokenCookies(c)
	response.SuccessWithMessage(c, "Password updated", nil)
}

// VerifyEmail consumes the token from the verification mail link.
func (h *UserController) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.ErrorWithCode(c, pkgerrors.EmailVerificationFailed, "missing verification token")
		return
	}

	if err := h.emailService.VerifyEmail(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Email verified", nil)
}

// UploadAvatar stores a new avatar image for the user.
func (h *UserController) UploadAvatar(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return
	}

	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		response.ErrorWithCode(c, pkgerrors.AvatarRequired, "avatar file is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.ErrorWithCode(c, pkgerrors.AvatarUploadFailed, "failed to read avatar file")
		return
	}
	defer func() { _ = file.Close() }()

	objectKey, err := h.profileService.UploadAvatar(
		c.Request.Context(),
		userID,
		file,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"avatar_key": objectKey})
}

func (h *UserController) setTokenCookies(c *gin.Context, result service.AuthResult) {
	accessMaxAge := int(time.Until(result.AccessExpiresAt).Seconds())
	refreshMaxAge := int(time.Until(result.RefreshExpiresAt).Seconds())
	c.SetCookie(accessTokenCookie, result.AccessToken, accessMaxAge, "/", h.cookieDomain, h.cookieSecure, true)
	c.SetCookie(refreshTokenCookie, result.RefreshToken, refreshMaxAge, "/", h.cookieDomain, h.cookieSecure, true)
}

func (h *UserController) clearTokenCookies(c *gin.Context) {
	c.SetCookie(accessTokenCookie, "", -1, "/", h.cookieDomain, h.cookieSecure, true)
	c.SetCookie(refreshTokenCookie, "", -1, "/", h.cookieDomain, h.cookieSecure, true)
}
