package config

import "time"

// Config holds runtime configuration for the account service.
type Config struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	BaseURL            string
	MailFrom           string
	MailSiteName       string
	SMTPAddr           string
	SMTPUser           string
	SMTPPassword       string
	StoreTimeout       time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		ResetTokenTTL:      time.Duration(GetInt("RESET_TOKEN_TTL_HOURS", 24)) * time.Hour,
		BaseURL:            GetString("BASE_URL", "http://localhost:4000"),
		MailFrom:           GetString("MAIL_FROM", "no-reply@accountd.local"),
		MailSiteName:       GetString("MAIL_SITE_NAME", "accountd"),
		SMTPAddr:           GetString("SMTP_ADDR", ""),
		SMTPUser:           GetString("SMTP_USER", ""),
		SMTPPassword:       GetString("SMTP_PASSWORD", ""),
		StoreTimeout:       time.Duration(GetInt("STORE_TIMEOUT_MS", 3000)) * time.Millisecond,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
