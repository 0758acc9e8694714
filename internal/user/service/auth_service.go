package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/http/middleware"
	"knightshade/internal/user/repository"
	pkgerrors "knightshade/pkg/errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultLoginFailTTL    = 15 * time.Minute
	defaultLoginFailLimit  = 5
)

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	JWTSecret       []byte
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginFailTTL    time.Duration
	LoginFailLimit  int
}

// AuthService handles user authentication flows.
type AuthService struct {
	users          repository.UserRepository
	loginFailCache cache.Cache
	emails         *EmailService
	config         *AuthServiceConfig
}

// NewAuthService creates a new AuthService. The config is required and passed
// by reference so callers keep ownership of it.
func NewAuthService(
	users repository.UserRepository,
	loginFailCache cache.Cache,
	emails *EmailService,
	cfg *AuthServiceConfig,
) *AuthService {
	if cfg == nil {
		cfg = &AuthServiceConfig{}
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.LoginFailTTL == 0 {
		cfg.LoginFailTTL = defaultLoginFailTTL
	}
	if cfg.LoginFailLimit == 0 {
		cfg.LoginFailLimit = defaultLoginFailLimit
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "knightshade"
	}

	return &AuthService{
		users:          users,
		loginFailCache: loginFailCache,
		emails:         emails,
		config:         cfg,
	}
}

// RegisterInput represents input for user registration.
type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

// LoginInput represents input for user login. Identifier is a username or an
// email address.
type LoginInput struct {
	Identifier string
	Password   string
	IP         string
}

// UserInfo represents basic user info for auth responses.
type UserInfo struct {
	ID            int64
	Username      string
	Email         string
	FullName      string
	Role          string
	EmailVerified bool
}

// AuthResult represents the result of auth operations.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             UserInfo
}

// Register creates a new user, requests email verification and issues tokens.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(input.Email); err != nil {
		return AuthResult{}, err
	}
	if err := validateFullName(input.FullName); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}

	user := &repository.User{
		Username:     input.Username,
		Email:        strings.ToLower(input.Email),
		FullName:     strings.TrimSpace(input.FullName),
		PasswordHash: string(passwordHash),
	}

	userID, err := s.users.Create(ctx, nil, user)
	if err != nil {
		return AuthResult{}, mapUserCreateError(err)
	}
	user.ID = userID

	if s.emails != nil {
		// best effort, the user can re-request the mail later
		s.emails.RequestVerification(ctx, user.Email, user.Username)
	}

	return s.issueTokens(ctx, user)
}

// Login verifies credentials and issues tokens.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return AuthResult{}, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("username or email is required")
	}
	if err := validateLoginPassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	if err := s.checkLoginLimit(ctx, identifier, input.IP); err != nil {
		return AuthResult{}, err
	}

	user, err := s.getUserByIdentifier(ctx, identifier)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			s.recordLoginFailure(ctx, identifier, input.IP)
			return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
		}
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, identifier, input.IP)
		return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
	}

	if !user.EmailVerified {
		if s.emails != nil {
			// resend so the user can complete verification without a
			// separate endpoint
			s.emails.RequestVerification(ctx, user.Email, user.Username)
		}
		return AuthResult{}, pkgerrors.New(pkgerrors.EmailNotVerified)
	}

	s.clearLoginFailure(ctx, identifier, input.IP)

	return s.issueTokens(ctx, user)
}

// Refresh validates the refresh token against the stored hash and rotates it.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return AuthResult{}, err
	}
	userID, err := userIDFromClaims(claims)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return AuthResult{}, err
	}
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != hashToken(refreshToken) {
		return AuthResult{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}

	return s.issueTokens(ctx, user)
}

// Logout clears the stored refresh token so it can no longer be rotated.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	if err := s.users.UpdateRefreshToken(ctx, userID, nil); err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return pkgerrors.New(pkgerrors.UserNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("clear refresh token failed: %w", err), pkgerrors.DatabaseError)
	}
	return nil
}

// ResetPassword verifies the old password, stores a new hash and invalidates
// the refresh token.
func (s *AuthService) ResetPassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return pkgerrors.New(pkgerrors.InvalidCredentials)
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}
	if err := s.users.UpdatePassword(ctx, nil, userID, string(newHash)); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("update password failed: %w", err), pkgerrors.DatabaseError)
	}
	if err := s.users.UpdateRefreshToken(ctx, userID, nil); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("clear refresh token failed: %w", err), pkgerrors.DatabaseError)
	}
	return nil
}

// GetCurrentUser returns the profile of the authenticated user.
func (s *AuthService) GetCurrentUser(ctx context.Context, userID int64) (UserInfo, error) {
	user, err := s.getUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, err
	}
	return userInfoOf(user), nil
}

// VerifyAccessToken implements middleware.TokenVerifier.
func (s *AuthService) VerifyAccessToken(ctx context.Context, raw string) (*middleware.TokenClaims, error) {
	claims, err := s.parseToken(raw, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	userID, err := userIDFromClaims(claims)
	if err != nil {
		return nil, err
	}
	return &middleware.TokenClaims{UserID: userID, Username: claims.Username, Role: claims.Role}, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *repository.User) (AuthResult, error) {
	accessToken, accessExp, err := s.generateToken(user.ID, user.Username, user.Role, tokenTypeAccess, s.config.AccessTokenTTL)
	if err != nil {
		return AuthResult{}, err
	}
	refreshToken, refreshExp, err := s.generateToken(user.ID, user.Username, user.Role, tokenTypeRefresh, s.config.RefreshTokenTTL)
	if err != nil {
		return AuthResult{}, err
	}

	refreshHash := hashToken(refreshToken)
	if err := s.users.UpdateRefreshToken(ctx, user.ID, &refreshHash); err != nil {
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("store refresh token failed: %w", err), pkgerrors.DatabaseError)
	}

	return AuthResult{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User:             userInfoOf(user),
	}, nil
}

func (s *AuthService) getUserByID(ctx context.Context, userID int64) (*repository.User, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return nil, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	return user, nil
}

func (s *AuthService) getUserByIdentifier(ctx context.Context, identifier string) (*repository.User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.GetByEmail(ctx, nil, strings.ToLower(identifier))
	}
	return s.users.GetByUsername(ctx, nil, identifier)
}

func (s *AuthService) checkLoginLimit(ctx context.Context, identifier, ip string) error {
	if s.loginFailCache == nil {
		return nil
	}
	value, err := s.loginFailCache.Get(ctx, loginFailKey(identifier, ip))
	if err != nil || value == "" {
		return nil
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	if count >= s.config.LoginFailLimit {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage("too many failed login attempts")
	}
	return nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, identifier, ip string) {
	if s.loginFailCache == nil {
		return
	}
	key := loginFailKey(identifier, ip)
	created, err := s.loginFailCache.SetNX(ctx, key, 1, s.config.LoginFailTTL)
	if err != nil || created {
		return
	}
	_, _ = s.loginFailCache.Incr(ctx, key)
}

func (s *AuthService) clearLoginFailure(ctx context.Context, identifier, ip string) {
	if s.loginFailCache == nil {
		return
	}
	_ = s.loginFailCache.Del(ctx, loginFailKey(identifier, ip))
}

func loginFailKey(identifier, ip string) string {
	return fmt.Sprintf("auth:loginfail:%s:%s", strings.ToLower(identifier), ip)
}

func userInfoOf(user *repository.User) UserInfo {
	return UserInfo{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		FullName:      user.FullName,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
	}
}

func mapUserCreateError(err error) error {
	if stderrors.Is(err, repository.ErrUsernameExists) {
		return pkgerrors.New(pkgerrors.UsernameAlreadyExists)
	}
	if stderrors.Is(err, repository.ErrEmailExists) {
		return pkgerrors.New(pkgerrors.EmailAlreadyExists)
	}
	if stderrors.Is(err, repository.ErrDuplicate) {
		return pkgerrors.New(pkgerrors.UsernameAlreadyExists)
	}
	return pkgerrors.Wrap(fmt.Errorf("create user failed: %w", err), pkgerrors.DatabaseError)
}
