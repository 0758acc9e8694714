package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/mail"
	"knightshade/internal/common/mq"
	"knightshade/internal/user/repository"
	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TopicEmailVerification carries verification requests.
	TopicEmailVerification = "user.email-verification"

	// TopicEmailVerificationDLQ receives requests that exhausted retries.
	TopicEmailVerificationDLQ = "user.email-verification.dlq"

	defaultEmailVerifyTokenTTL = 24 * time.Hour
	defaultSendOnceTTL         = 10 * time.Minute
)

// EmailServiceConfig holds settings for the verification mail flow.
type EmailServiceConfig struct {
	JWTSecret []byte
	JWTIssuer string

	// VerifyBaseURL is the public endpoint the link in the mail points at.
	VerifyBaseURL string

	TokenTTL time.Duration

	// SendOnceTTL bounds the dedup window for repeated queue deliveries.
	SendOnceTTL time.Duration
}

// EmailService publishes verification requests to the queue and consumes
// them to send mail. Delivery is at-least-once, so the consumer side
// deduplicates by email.
type EmailService struct {
	producer mq.Producer
	mailer   mail.Mailer
	users    repository.UserRepository
	dedup    cache.Cache
	config   *EmailServiceConfig
}

func NewEmailService(
	producer mq.Producer,
	mailer mail.Mailer,
	users repository.UserRepository,
	dedup cache.Cache,
	cfg *EmailServiceConfig,
) *EmailService {
	if cfg == nil {
		cfg = &EmailServiceConfig{}
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultEmailVerifyTokenTTL
	}
	if cfg.SendOnceTTL == 0 {
		cfg.SendOnceTTL = defaultSendOnceTTL
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "knightshade"
	}
	return &EmailService{
		producer: producer,
		mailer:   mailer,
		users:    users,
		dedup:    dedup,
		config:   cfg,
	}
}

type verificationRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// RequestVerification enqueues a verification mail for the address. Failures
// are logged, not returned: registration must not fail because the broker is
// down.
func (s *EmailService) RequestVerification(ctx context.Context, email, username string) {
	if s.producer == nil {
		return
	}
	body, err := json.Marshal(verificationRequest{Email: email, Username: username})
	if err != nil {
		logger.Error(ctx, "failed to encode verification request", zap.Error(err))
		return
	}
	message := mq.NewMessage(body)
	message.ID = uuid.NewString()
	if err := s.producer.Publish(ctx, TopicEmailVerification, message); err != nil {
		logger.Error(ctx, "failed to publish verification request",
			zap.String("email", email), zap.Error(err))
	}
}

// HandleVerificationMessage is the queue consumer handler. It is idempotent:
// duplicate deliveries for the same address inside the dedup window are
// dropped, and already verified users are skipped.
func (s *EmailService) HandleVerificationMessage(ctx context.Context, message *mq.Message) error {
	var req verificationRequest
	if err := json.Unmarshal(message.Body, &req); err != nil {
		// malformed payload, retrying cannot help
		logger.Error(ctx, "malformed verification request", zap.Error(err))
		return nil
	}
	if req.Email == "" {
		return nil
	}

	// The dedup key is released on any failure after acquisition so a
	// redelivered message gets another chance at sending the mail.
	release := func() {}
	if s.dedup != nil {
		acquired, err := s.dedup.SetNX(ctx, verificationSentKey(req.Email), 1, s.config.SendOnceTTL)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CacheError)
		}
		if !acquired {
			return nil
		}
		release = func() {
			if err := s.dedup.Del(ctx, verificationSentKey(req.Email)); err != nil {
				logger.Error(ctx, "failed to release verification dedup key",
					zap.String("email", req.Email), zap.Error(err))
			}
		}
	}

	user, err := s.users.GetByEmail(ctx, nil, req.Email)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		release()
		return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	if user.EmailVerified {
		return nil
	}

	token, _, err := signToken(s.config.JWTSecret, s.config.JWTIssuer, user.ID, user.Username, "", tokenTypeEmailVerify, s.config.TokenTTL)
	if err != nil {
		release()
		return err
	}

	link := fmt.Sprintf("%s?token=%s", s.config.VerifyBaseURL, token)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Please confirm your email address by clicking the link below:</p><p><a href=%q>Verify email</a></p><p>The link expires in %s.</p>",
		user.Username, link, s.config.TokenTTL,
	)
	if err := s.mailer.Send(ctx, user.Email, "Verify your email address", body); err != nil {
		release()
		return pkgerrors.Wrap(err, pkgerrors.QueueError).WithMessage("send verification mail failed")
	}

	logger.Info(ctx, "verification mail sent", zap.String("email", user.Email))
	return nil
}

// VerifyEmail consumes a verification token from the mail link and marks the
// address verified. Replaying a used token is a no-op.
func (s *EmailService) VerifyEmail(ctx context.Context, rawToken string) error {
	claims, err := parseToken(s.config.JWTSecret, s.config.JWTIssuer, rawToken, tokenTypeEmailVerify)
	if err != nil {
		return pkgerrors.New(pkgerrors.EmailVerificationFailed)
	}
	userID, err := userIDFromClaims(claims)
	if err != nil {
		return pkgerrors.New(pkgerrors.EmailVerificationFailed)
	}

	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return pkgerrors.New(pkgerrors.EmailVerificationFailed)
		}
		return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}

	if err := s.users.MarkEmailVerified(ctx, user.Email); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return nil
}

func verificationSentKey(email string) string {
	return "email:verify:sent:" + email
}
