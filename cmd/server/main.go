package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/db"
	commonmw "knightshade/internal/common/http/middleware"
	"knightshade/internal/common/mail"
	"knightshade/internal/common/mq"
	"knightshade/internal/common/storage"
	submissionController "knightshade/internal/submission/controller"
	"knightshade/internal/submission/judge"
	submissionRepo "knightshade/internal/submission/repository"
	submissionService "knightshade/internal/submission/service"
	userController "knightshade/internal/user/controller"
	userRepo "knightshade/internal/user/repository"
	userService "knightshade/internal/user/service"
	"knightshade/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mailer, err := mail.NewSMTPMailer(appCfg.SMTP)
	if err != nil {
		logger.Error(context.Background(), "init mailer failed", zap.Error(err))
		return
	}

	judgeClient, err := judge.NewHTTPClient(appCfg.Judge)
	if err != nil {
		logger.Error(context.Background(), "init judge client failed", zap.Error(err))
		return
	}

	users := userRepo.NewUserRepository(mysqlDB, redisCache)
	submissions := submissionRepo.NewSubmissionRepositoryWithTTL(
		mysqlDB, redisCache, appCfg.Submission.CacheTTL, appCfg.Submission.EmptyTTL)

	emailSvc := userService.NewEmailService(mqClient, mailer, users, redisCache, &userService.EmailServiceConfig{
		JWTSecret:     []byte(appCfg.Auth.JWTSecret),
		JWTIssuer:     appCfg.Auth.JWTIssuer,
		VerifyBaseURL: appCfg.Email.VerifyBaseURL,
		TokenTTL:      appCfg.Email.TokenTTL,
		SendOnceTTL:   appCfg.Email.SendOnceTTL,
	})
	authSvc := userService.NewAuthService(users, redisCache, emailSvc, &userService.AuthServiceConfig{
		JWTSecret:       []byte(appCfg.Auth.JWTSecret),
		JWTIssuer:       appCfg.Auth.JWTIssuer,
		AccessTokenTTL:  appCfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: appCfg.Auth.RefreshTokenTTL,
		LoginFailTTL:    appCfg.Auth.LoginFailTTL,
		LoginFailLimit:  appCfg.Auth.LoginFailLimit,
	})
	profileSvc := userService.NewProfileService(users, objStorage, &userService.ProfileServiceConfig{
		Bucket:     appCfg.Profile.Bucket,
		PresignTTL: appCfg.Profile.PresignTTL,
	})

	reconciler := submissionService.NewReconciler(judgeClient, submissions, appCfg.Submission.Reconciler)
	submissionSvc := submissionService.NewSubmissionService(submissions, judgeClient, reconciler)

	consumerOpts := appCfg.Email.Consumer.toSubscribeOptions()
	if consumerOpts.DeadLetterTopic == "" {
		consumerOpts.DeadLetterTopic = userService.TopicEmailVerificationDLQ
	}
	consumerOpts.SetDefaults()
	if err := mqClient.SubscribeWithOptions(context.Background(), userService.TopicEmailVerification, emailSvc.HandleVerificationMessage, &consumerOpts); err != nil {
		logger.Error(context.Background(), "subscribe email verification topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg, redisCache, authSvc, emailSvc, profileSvc, submissionSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if err := reconciler.Shutdown(ctx); err != nil {
		logger.Warn(context.Background(), "reconciler shutdown incomplete", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(
	cfg *AppConfig,
	redisCache cache.Cache,
	authSvc *userService.AuthService,
	emailSvc *userService.EmailService,
	profileSvc *userService.ProfileService,
	submissionSvc *submissionService.SubmissionService,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))

	limiter := commonmw.NewRateLimiter(redisCache, time.Minute, 500*time.Millisecond)

	userCtl := userController.NewUserController(authSvc, emailSvc, profileSvc, userController.UserControllerConfig{
		CookieDomain: cfg.Auth.CookieDomain,
		CookieSecure: cfg.Auth.CookieSecure,
	})
	submissionCtl := submissionController.NewSubmissionController(submissionSvc)

	api := router.Group("/api/v1")
	api.POST("/users/register", commonmw.RateLimitMiddleware(limiter, "register", cfg.RateLimit.Register), userCtl.Register)
	api.POST("/users/login", commonmw.RateLimitMiddleware(limiter, "login", cfg.RateLimit.Login), userCtl.Login)
	api.POST("/users/refresh", userCtl.Refresh)
	api.GET("/users/verify-email", userCtl.VerifyEmail)

	protected := api.Group("", commonmw.AuthMiddleware(authSvc))
	userCtl.RegisterProtectedRoutes(protected)
	protected.POST("/submissions/submit", commonmw.RateLimitMiddleware(limiter, "submit", cfg.Submission.RateLimit), submissionCtl.Submit)
	protected.GET("/submissions", submissionCtl.List)
	protected.GET("/submissions/analytics", commonmw.AdminMiddleware(), submissionCtl.Analytics)
	protected.GET("/submissions/result/:submissionId", submissionCtl.Get)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
