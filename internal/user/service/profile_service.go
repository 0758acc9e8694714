package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"knightshade/internal/common/storage"
	"knightshade/internal/user/repository"
	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxAvatarBytes    = 2 << 20
	defaultPresignTTL = 15 * time.Minute
)

var allowedAvatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// ProfileServiceConfig holds object storage settings for avatars.
type ProfileServiceConfig struct {
	Bucket     string
	PresignTTL time.Duration
}

// ProfileService manages user profile data and avatar objects.
type ProfileService struct {
	users   repository.UserRepository
	storage storage.ObjectStorage
	config  *ProfileServiceConfig
}

func NewProfileService(users repository.UserRepository, objectStorage storage.ObjectStorage, cfg *ProfileServiceConfig) *ProfileService {
	if cfg == nil {
		cfg = &ProfileServiceConfig{}
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	return &ProfileService{
		users:   users,
		storage: objectStorage,
		config:  cfg,
	}
}

// Profile is the user view including a short-lived avatar URL.
type Profile struct {
	UserInfo
	AvatarURL string
}

// GetProfile returns the user profile with a presigned avatar URL when one
// is set.
func (s *ProfileService) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return Profile{}, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return Profile{}, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}

	profile := Profile{UserInfo: userInfoOf(user)}
	if user.AvatarKey != "" && s.storage != nil {
		url, err := s.storage.PresignGet(ctx, s.config.Bucket, user.AvatarKey, s.config.PresignTTL)
		if err != nil {
			// profile still loads without the avatar
			logger.Warn(ctx, "failed to presign avatar url",
				zap.Int64("user_id", userID), zap.Error(err))
		} else {
			profile.AvatarURL = url
		}
	}
	return profile, nil
}

// UploadAvatar stores the image and records its object key on the user. The
// previous avatar object is removed after the swap.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID int64, reader io.Reader, sizeBytes int64, contentType string) (string, error) {
	if reader == nil || sizeBytes <= 0 {
		return "", pkgerrors.New(pkgerrors.AvatarRequired)
	}
	if sizeBytes > maxAvatarBytes {
		return "", pkgerrors.New(pkgerrors.InvalidParams).WithMessage("avatar exceeds size limit")
	}
	ext, ok := allowedAvatarTypes[strings.ToLower(contentType)]
	if !ok {
		return "", pkgerrors.New(pkgerrors.InvalidParams).WithMessage("unsupported avatar content type")
	}
	if s.storage == nil {
		return "", pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("object storage unavailable")
	}

	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return "", pkgerrors.New(pkgerrors.UserNotFound)
		}
		return "", pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}

	objectKey := path.Join("avatars", fmt.Sprintf("%d", userID), uuid.NewString()+ext)
	if err := s.storage.PutObject(ctx, s.config.Bucket, objectKey, reader, sizeBytes, contentType); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.AvatarUploadFailed)
	}

	if err := s.users.UpdateAvatar(ctx, userID, objectKey); err != nil {
		_ = s.storage.RemoveObject(ctx, s.config.Bucket, objectKey)
		return "", pkgerrors.Wrap(err, pkgerrors.UserUpdateFailed)
	}

	if user.AvatarKey != "" && user.AvatarKey != objectKey {
		if err := s.storage.RemoveObject(ctx, s.config.Bucket, user.AvatarKey); err != nil {
			logger.Warn(ctx, "failed to remove previous avatar",
				zap.String("object_key", user.AvatarKey), zap.Error(err))
		}
	}
	return objectKey, nil
}
