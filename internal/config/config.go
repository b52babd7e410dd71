package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "VGo Portal"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultCredentialTTL    = 10 * time.Second
	defaultSessionTTL       = time.Hour
	defaultOTPTTL           = 5 * time.Minute
	defaultChallengeTTL     = 10 * time.Minute
	defaultSubmitLockTTL    = 15 * time.Second
	defaultDispatchPerMin   = 3
	defaultOAuthProviders   = "google"
	defaultPublicURL        = "http://localhost:8080"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	credentialBackendGoTrue = "gotrue"
	credentialBackendMemory = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration

	// CredentialBackend selects the identity provider: "gotrue" (Supabase Auth) or "memory".
	CredentialBackend string
	SupabaseURL       string
	SupabaseAnonKey   string
	CredentialTimeout time.Duration

	// SessionSecret signs tokens issued by the memory credential backend.
	SessionSecret string
	SessionTTL    time.Duration

	OTPTTL               time.Duration
	OTPChallengeTTL      time.Duration
	OTPDispatchPerMinute int
	SubmitLockTTL        time.Duration

	OAuthProviders []string
	PublicURL      string
	CookieSecure   bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present; real environment
// variables take precedence over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		CredentialBackend: strings.ToLower(getEnv("CREDENTIAL_BACKEND", credentialBackendGoTrue)),
		SupabaseURL:       strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey:   os.Getenv("SUPABASE_ANON_KEY"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		OAuthProviders:    splitList(getEnv("OAUTH_PROVIDERS", defaultOAuthProviders)),
		PublicURL:         strings.TrimRight(getEnv("PUBLIC_URL", defaultPublicURL), "/"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	var err error
	if cfg.CredentialTimeout, err = getDuration("CREDENTIAL_TIMEOUT", defaultCredentialTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = getDuration("OTP_TTL", defaultOTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPChallengeTTL, err = getDuration("OTP_CHALLENGE_TTL", defaultChallengeTTL); err != nil {
		return Config{}, err
	}
	if cfg.SubmitLockTTL, err = getDuration("SUBMIT_LOCK_TTL", defaultSubmitLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPDispatchPerMinute, err = getInt("OTP_DISPATCH_PER_MINUTE", defaultDispatchPerMin); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", !cfg.IsDev()); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.CredentialBackend {
	case credentialBackendGoTrue:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY must be set for the gotrue credential backend")
		}
	case credentialBackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("memory credential backend is not allowed when APP_ENV=%s", c.AppEnv)
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET must be set for the memory credential backend")
		}
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.CredentialBackend)
	}

	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	return nil
}

// UsesMemoryBackend reports whether identities are served by the in-process backend.
func (c Config) UsesMemoryBackend() bool {
	return c.CredentialBackend == credentialBackendMemory
}

// IsDev reports whether the service runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// CallbackURL is the absolute OAuth redirect target for the given path.
func (c Config) CallbackURL(path string) string {
	return c.PublicURL + path
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
