package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	S3        S3Config
	JWT       JWTConfig
	OTP       OTPConfig
	Password  PasswordConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
	Phone     PhoneConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

// StoreConfig selects the backend for each persistence concern.
type StoreConfig struct {
	Users     string // dynamodb | memory
	OTP       string // redis | dynamodb | memory
	Documents string // s3 | memory
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	PresignTTL time.Duration
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
}

type OTPConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
}

type PasswordConfig struct {
	BcryptCost int
	MinLength  int
}

type MailConfig struct {
	Provider  string // smtp | ses | log
	From      string
	FromName  string
	Timeout   time.Duration
	SMTP      SMTPConfig
	SESRegion string
}

type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	ImplicitTLS bool
}

type RateLimitConfig struct {
	OTPPerMinute int
	Burst        int
}

type PhoneConfig struct {
	DefaultRegion string
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Users:     getEnv("USER_STORE", "dynamodb"),
			OTP:       getEnv("OTP_STORE", "redis"),
			Documents: getEnv("DOCUMENT_STORE", "s3"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "IDGateTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			Region:     getEnv("S3_REGION", "us-east-1"),
			Bucket:     getEnv("S3_BUCKET", "idgate-documents"),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Expiry:    getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		},
		OTP: OTPConfig{
			Length:      getEnvAsInt("OTP_LENGTH", 6),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		Password: PasswordConfig{
			BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
			MinLength:  getEnvAsInt("PASSWORD_MIN_LENGTH", 6),
		},
		Mail: MailConfig{
			Provider:  getEnv("MAIL_PROVIDER", "log"),
			From:      getEnv("MAIL_FROM", "no-reply@idgate.local"),
			FromName:  getEnv("MAIL_FROM_NAME", "IDGate"),
			Timeout:   getEnvAsDuration("MAIL_TIMEOUT", 10*time.Second),
			SMTP: SMTPConfig{
				Host:        getEnv("SMTP_HOST", ""),
				Port:        getEnv("SMTP_PORT", "587"),
				Username:    getEnv("SMTP_USERNAME", ""),
				Password:    getEnv("SMTP_PASSWORD", ""),
				ImplicitTLS: getEnvAsBool("SMTP_IMPLICIT_TLS", false),
			},
			SESRegion: getEnv("SES_REGION", "us-east-1"),
		},
		RateLimit: RateLimitConfig{
			OTPPerMinute: getEnvAsInt("OTP_RATE_PER_MINUTE", 5),
			Burst:        getEnvAsInt("OTP_RATE_BURST", 3),
		},
		Phone: PhoneConfig{
			DefaultRegion: getEnv("PHONE_DEFAULT_REGION", "BD"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}

	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Store.Users {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("unsupported USER_STORE %q", c.Store.Users)
	}

	switch c.Store.OTP {
	case "redis", "dynamodb", "memory":
	default:
		return fmt.Errorf("unsupported OTP_STORE %q", c.Store.OTP)
	}

	switch c.Store.Documents {
	case "s3", "memory":
	default:
		return fmt.Errorf("unsupported DOCUMENT_STORE %q", c.Store.Documents)
	}

	switch c.Mail.Provider {
	case "log", "ses":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_PROVIDER=smtp")
		}
	default:
		return fmt.Errorf("unsupported MAIL_PROVIDER %q", c.Mail.Provider)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
