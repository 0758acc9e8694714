package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/db"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
	ErrDuplicate      = errors.New("duplicate user record")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID               int64
	Username         string
	Email            string
	FullName         string
	PasswordHash     string
	Role             string
	AvatarKey        string
	RefreshTokenHash *string
	EmailVerified    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserRepository interface {
	Create(ctx context.Context, tx db.Transaction, user *User) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error)
	GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error)
	GetByEmail(ctx context.Context, tx db.Transaction, email string) (*User, error)
	UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error
	UpdateRefreshToken(ctx context.Context, userID int64, tokenHash *string) error
	UpdateAvatar(ctx context.Context, userID int64, avatarKey string) error
	MarkEmailVerified(ctx context.Context, email string) error
}

type MySQLUserRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewUserRepository(database db.Database, cacheClient cache.Cache) UserRepository {
	return NewUserRepositoryWithTTL(database, cacheClient, defaultUserCacheTTL, defaultUserCacheEmptyTTL)
}

func NewUserRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) UserRepository {
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultUserCacheEmptyTTL
	}
	return &MySQLUserRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const userColumns = "id, username, email, full_name, password_hash, role, avatar_key, refresh_token_hash, email_verified, created_at, updated_at"

func (r *MySQLUserRepository) Create(ctx context.Context, tx db.Transaction, user *User) (int64, error) {
	if user == nil {
		return 0, errors.New("user is nil")
	}
	if user.Role == "" {
		user.Role = RoleUser
	}

	query := "INSERT INTO users (username, email, full_name, password_hash, role, avatar_key) VALUES (?, ?, ?, ?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, user.Username, user.Email, user.FullName, user.PasswordHash, user.Role, user.AvatarKey)
	if err != nil {
		if key, ok := db.UniqueViolation(err); ok {
			normalizedKey := strings.ToLower(strings.TrimSpace(key))
			switch {
			case strings.Contains(normalizedKey, "username"):
				return 0, ErrUsernameExists
			case strings.Contains(normalizedKey, "email"):
				return 0, ErrEmailExists
			default:
				return 0, ErrDuplicate
			}
		}
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if r.cache != nil {
		user.ID = id
		r.setCache(ctx, user)
	}
	return id, nil
}

func (r *MySQLUserRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	if r.cache != nil && tx == nil {
		user, err := cache.GetWithCached[*User](
			ctx,
			r.cache,
			userInfoKey(id),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(user *User) bool { return user == nil },
			marshalUser,
			unmarshalUser,
			func(ctx context.Context) (*User, error) {
				user, err := r.getByIDFromDB(ctx, nil, id)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return user, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}
	return r.getByIDFromDB(ctx, tx, id)
}

func (r *MySQLUserRepository) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	if r.cache != nil && tx == nil {
		user, err := cache.GetWithCached[*User](
			ctx,
			r.cache,
			userUsernameKey(username),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(user *User) bool { return user == nil },
			marshalUser,
			unmarshalUser,
			func(ctx context.Context) (*User, error) {
				user, err := r.getByUsernameFromDB(ctx, nil, username)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return user, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}
	return r.getByUsernameFromDB(ctx, tx, username)
}

func (r *MySQLUserRepository) GetByEmail(ctx context.Context, tx db.Transaction, email string) (*User, error) {
	if r.cache != nil && tx == nil {
		user, err := cache.GetWithCached[*User](
			ctx,
			r.cache,
			userEmailKey(email),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(user *User) bool { return user == nil },
			marshalUser,
			unmarshalUser,
			func(ctx context.Context) (*User, error) {
				user, err := r.getByEmailFromDB(ctx, nil, email)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return user, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}
	return r.getByEmailFromDB(ctx, tx, email)
}

func (r *MySQLUserRepository) UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error {
	var username, email string
	if r.cache != nil {
		var err error
		username, email, err = r.getUserIdentifiers(ctx, tx, userID)
		if err != nil {
			return err
		}
	}
	query := "UPDATE users SET password_hash = ?, updated_at = NOW() WHERE id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, newHash, userID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	if r.cache != nil {
		r.deleteCache(ctx, userID, username, email)
	}
	return nil
}

// UpdateRefreshToken stores the hash of the active refresh token, or clears
// it on logout when tokenHash is nil.
func (r *MySQLUserRepository) UpdateRefreshToken(ctx context.Context, userID int64, tokenHash *string) error {
	var username, email string
	if r.cache != nil {
		var err error
		username, email, err = r.getUserIdentifiers(ctx, nil, userID)
		if err != nil {
			return err
		}
	}

	hash := sql.NullString{}
	if tokenHash != nil {
		hash = sql.NullString{String: *tokenHash, Valid: true}
	}
	query := "UPDATE users SET refresh_token_hash = ?, updated_at = NOW() WHERE id = ?"
	result, err := r.db.Exec(ctx, query, hash, userID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	if r.cache != nil {
		r.deleteCache(ctx, userID, username, email)
	}
	return nil
}

func (r *MySQLUserRepository) UpdateAvatar(ctx context.Context, userID int64, avatarKey string) error {
	var username, email string
	if r.cache != nil {
		var err error
		username, email, err = r.getUserIdentifiers(ctx, nil, userID)
		if err != nil {
			return err
		}
	}
	query := "UPDATE users SET avatar_key = ?, updated_at = NOW() WHERE id = ?"
	result, err := r.db.Exec(ctx, query, avatarKey, userID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	if r.cache != nil {
		r.deleteCache(ctx, userID, username, email)
	}
	return nil
}

// MarkEmailVerified flips the verification flag. Re-verifying an already
// verified address is a no-op, which keeps the consumer handler idempotent.
func (r *MySQLUserRepository) MarkEmailVerified(ctx context.Context, email string) error {
	user, err := r.getByEmailFromDB(ctx, nil, email)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}
	query := "UPDATE users SET email_verified = 1, updated_at = NOW() WHERE email = ?"
	if _, err := r.db.Exec(ctx, query, email); err != nil {
		return err
	}
	if r.cache != nil {
		r.deleteCache(ctx, user.ID, user.Username, user.Email)
	}
	return nil
}

const (
	userInfoKeyPrefix     = "user:info:"
	userUsernameKeyPrefix = "user:username:"
	userEmailKeyPrefix    = "user:email:"

	defaultUserCacheTTL      = 30 * time.Minute
	defaultUserCacheEmptyTTL = 5 * time.Minute
)

func (r *MySQLUserRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, id)
	user, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *MySQLUserRepository) getByUsernameFromDB(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = ?"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, username)
	user, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *MySQLUserRepository) getByEmailFromDB(ctx context.Context, tx db.Transaction, email string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE email = ?"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, email)
	user, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *MySQLUserRepository) getUserIdentifiers(ctx context.Context, tx db.Transaction, userID int64) (string, string, error) {
	query := "SELECT username, email FROM users WHERE id = ?"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, userID)
	var username, email string
	if err := row.Scan(&username, &email); err != nil {
		if db.IsNoRows(err) {
			return "", "", ErrUserNotFound
		}
		return "", "", err
	}
	return username, email, nil
}

func (r *MySQLUserRepository) setCache(ctx context.Context, user *User) {
	if r.cache == nil || user == nil {
		return
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return
	}
	data := string(payload)

	_ = r.cache.Set(ctx, userInfoKey(user.ID), data, cache.JitterTTL(r.ttl))
	if user.Username != "" {
		_ = r.cache.Set(ctx, userUsernameKey(user.Username), data, cache.JitterTTL(r.ttl))
	}
	if user.Email != "" {
		_ = r.cache.Set(ctx, userEmailKey(user.Email), data, cache.JitterTTL(r.ttl))
	}
}

func (r *MySQLUserRepository) deleteCache(ctx context.Context, userID int64, username, email string) {
	if r.cache == nil {
		return
	}
	keys := make([]string, 0, 3)
	if userID != 0 {
		keys = append(keys, userInfoKey(userID))
	}
	if username != "" {
		keys = append(keys, userUsernameKey(username))
	}
	if email != "" {
		keys = append(keys, userEmailKey(email))
	}
	if len(keys) == 0 {
		return
	}
	_ = r.cache.Del(ctx, keys...)
}

func userInfoKey(id int64) string {
	return fmt.Sprintf("%s%d", userInfoKeyPrefix, id)
}

func userUsernameKey(username string) string {
	return userUsernameKeyPrefix + username
}

func userEmailKey(email string) string {
	return userEmailKeyPrefix + email
}

func marshalUser(user *User) string {
	payload, err := json.Marshal(user)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalUser(data string) (*User, error) {
	if data == "" {
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanUser(scanner db.Scanner) (*User, error) {
	var user User
	var refreshTokenHash sql.NullString

	err := scanner.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Role,
		&user.AvatarKey,
		&refreshTokenHash,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refreshTokenHash.Valid {
		user.RefreshTokenHash = &refreshTokenHash.String
	}
	return &user, nil
}
