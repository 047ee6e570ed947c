// Package bootstrap builds the service graph from configuration. It is
// shared by the server and the admin CLI.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/handlers"
	"github.com/idgate/idgate/internal/mailer"
	"github.com/idgate/idgate/internal/middleware"
	"github.com/idgate/idgate/internal/repository"
	"github.com/idgate/idgate/internal/service"
	"github.com/idgate/idgate/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App is the assembled HTTP service.
type App struct {
	Handler    http.Handler
	OTPLimiter *middleware.IPRateLimiter
	closers    []io.Closer
}

func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{}

	var dynamoClient *dynamodb.Client
	dynamo := func() (*dynamodb.Client, error) {
		if dynamoClient != nil {
			return dynamoClient, nil
		}
		c, err := NewDynamoDBClient(ctx, cfg.DynamoDB, logger)
		if err != nil {
			return nil, err
		}
		dynamoClient = c
		return c, nil
	}

	// Repositories
	var users service.UserStore
	if cfg.Store.Users == "memory" {
		logger.Warn("Using in-memory user store; data is lost on restart")
		users = repository.NewMemoryUserRepository()
	} else {
		client, err := dynamo()
		if err != nil {
			return nil, err
		}
		users = repository.NewUserRepository(client, cfg.DynamoDB.TableName, logger)
	}

	var otpStore service.OTPStore
	switch cfg.Store.OTP {
	case "memory":
		otpStore = repository.NewMemoryOTPStore()
	case "dynamodb":
		client, err := dynamo()
		if err != nil {
			return nil, err
		}
		otpStore = repository.NewOTPRepository(client, cfg.DynamoDB.TableName, logger)
	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		app.closers = append(app.closers, redisClient)
		otpStore = repository.NewRedisOTPStore(redisClient, logger)
	}

	var documents service.DocumentStore
	switch cfg.Store.Documents {
	case "memory":
		documents = storage.NewMemoryStore()
	default:
		c, err := LoadAWSConfig(ctx, cfg.S3.Region)
		if err != nil {
			return nil, err
		}
		documents = storage.NewS3Store(c, cfg.S3.Bucket, cfg.S3.Endpoint, cfg.S3.PresignTTL, logger)
	}

	var sender mailer.Sender
	switch cfg.Mail.Provider {
	case "smtp":
		smtpCfg := cfg.Mail.SMTP
		sender = mailer.NewSMTPSender(smtpCfg.Host, smtpCfg.Port, smtpCfg.Username, smtpCfg.Password,
			cfg.Mail.From, cfg.Mail.FromName, smtpCfg.ImplicitTLS)
	case "ses":
		c, err := LoadAWSConfig(ctx, cfg.Mail.SESRegion)
		if err != nil {
			return nil, err
		}
		sender = mailer.NewSESSender(sesv2.NewFromConfig(c), cfg.Mail.From, cfg.Mail.FromName)
	default:
		logger.Warn("Mail provider is log; emails are written to the log")
		sender = mailer.NewLogSender(logger)
	}
	notifier := mailer.NewNotifier(sender, cfg.Mail.FromName, cfg.OTP.Expiry, logger)

	// Services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	rules := service.Rules{
		PhoneRegion:       cfg.Phone.DefaultRegion,
		MinPasswordLength: cfg.Password.MinLength,
	}
	hasher := service.NewBcryptHasher(cfg.Password.BcryptCost)
	otpService := service.NewOTPService(otpStore, &cfg.OTP, logger)

	authService := service.NewAuthService(users, hasher, jwtService, otpService, notifier, documents, rules, cfg.Mail.Timeout, logger)
	adminService := service.NewAdminService(users, documents, notifier, cfg.Mail.Timeout, logger)
	profileService := service.NewProfileService(users, rules, logger)

	// HTTP
	authHandlers := handlers.NewAuthHandlers(authService, cfg.Server.MaxUploadBytes, cfg.OTP.Expiry, logger)
	userHandlers := handlers.NewUserHandlers(adminService, profileService, authService, jwtService, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, users, logger)
	app.OTPLimiter = middleware.NewIPRateLimiter(cfg.RateLimit.OTPPerMinute, cfg.RateLimit.Burst, logger)

	app.Handler = handlers.NewRouter(authHandlers, userHandlers, authMiddleware, app.OTPLimiter, cfg.Server.AllowedOrigins, logger)
	return app, nil
}

// NewUserStore returns the user store selected by USER_STORE.
func NewUserStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (service.UserStore, error) {
	if cfg.Store.Users == "memory" {
		return repository.NewMemoryUserRepository(), nil
	}
	client, err := NewDynamoDBClient(ctx, cfg.DynamoDB, logger)
	if err != nil {
		return nil, err
	}
	return repository.NewUserRepository(client, cfg.DynamoDB.TableName, logger), nil
}

// NewDynamoDBClient builds a client for the configured region, pointing it
// at cfg.Endpoint when one is set (DynamoDB Local).
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDBConfig, logger *logrus.Logger) (*dynamodb.Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	logger.Info("DynamoDB client initialized")
	return client, nil
}

// LoadAWSConfig loads the default AWS configuration for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return c, nil
}
