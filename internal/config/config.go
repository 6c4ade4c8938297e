package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Credential is a buyer identity allowed to open punch-out sessions. SecretHash
// holds an argon2id hash of the shared secret. OnBehalfOf lists the From
// identities the credential may open sessions for.
type Credential struct {
	Domain     string
	Identity   string
	SecretHash string
	OnBehalfOf []Party
}

// Party is a domain-qualified identity.
type Party struct {
	Domain   string
	Identity string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBAutoMigrate      bool
	DBMaxConns         int
	RedisURL           string
	CORSAllowedOrigins []string
	StorefrontURL      string

	SessionTTL       time.Duration
	SessionRetention time.Duration
	SweepInterval    time.Duration
	Credentials      []Credential
	SenderDomain     string
	SenderIdentity   string
	OrderEncoding    string
	DeliveryLeadDays int
	DeliveryTimezone *time.Location

	TransferTimeout       time.Duration
	TransferMaxAttempts   int
	TransferBackoffBase   time.Duration
	TransferBackoffJitter float64
	TransferAllowInsecure bool
	CircuitMinRequests    int
	CircuitFailureRatio   float64
	CircuitOpenFor        time.Duration

	MarginBands       string
	GlobalDiscountPct string
	DefaultCurrency   string
	DefaultCountry    string
	PriceCacheTTL     time.Duration

	ServiceTokenSecret   string
	ServiceTokenIssuer   string
	ServiceTokenAudience string

	SetupRateLimitPerMin int
	APIRateLimit         string
	BodyLimitBytes       int64
	CXMLBodyLimitBytes   int64
	IdempotencyTTL       time.Duration
	LockTTL              time.Duration
	LockRetryBackoff     time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		DBMaxConns:         parseInt(k.String("DB_MAX_CONNS"), 0),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		StorefrontURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_STOREFRONT_URL")), "/"),

		SessionTTL:       parseDuration(k.String("PUNCHOUT_SESSION_TTL"), "8h"),
		SessionRetention: parseDuration(k.String("PUNCHOUT_SESSION_RETENTION"), "24h"),
		SweepInterval:    parseDuration(k.String("PUNCHOUT_SWEEP_INTERVAL"), "5m"),
		SenderDomain:     valueOrDefault(k.String("PUNCHOUT_SENDER_DOMAIN"), "NetworkID"),
		SenderIdentity:   valueOrDefault(k.String("PUNCHOUT_SENDER_IDENTITY"), "procurement-catalog"),
		OrderEncoding:    strings.ToLower(valueOrDefault(k.String("PUNCHOUT_ORDER_ENCODING"), "xml")),
		DeliveryLeadDays: parseInt(k.String("DELIVERY_LEAD_DAYS"), 14),

		TransferTimeout:       parseDuration(k.String("TRANSFER_TIMEOUT"), "10s"),
		TransferMaxAttempts:   parseInt(k.String("TRANSFER_MAX_ATTEMPTS"), 3),
		TransferBackoffBase:   parseDuration(k.String("TRANSFER_BACKOFF_BASE"), "500ms"),
		TransferBackoffJitter: parseFloat(k.String("TRANSFER_BACKOFF_JITTER"), 0.2),
		TransferAllowInsecure: parseBool(k.String("TRANSFER_ALLOW_INSECURE_HTTP")),
		CircuitMinRequests:    parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio:   parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:        parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		MarginBands:       valueOrDefault(k.String("PRICING_MARGIN_BANDS"), "0:12,50:9,100:7,1000:5"),
		GlobalDiscountPct: valueOrDefault(k.String("PRICING_GLOBAL_DISCOUNT_PCT"), "0"),
		DefaultCurrency:   strings.ToUpper(valueOrDefault(k.String("PRICING_DEFAULT_CURRENCY"), "USD")),
		DefaultCountry:    strings.ToUpper(valueOrDefault(k.String("PRICING_DEFAULT_COUNTRY"), "US")),
		PriceCacheTTL:     parseDuration(k.String("PRICING_CACHE_TTL"), "10m"),

		ServiceTokenSecret:   k.String("SERVICE_TOKEN_SECRET"),
		ServiceTokenIssuer:   valueOrDefault(k.String("SERVICE_TOKEN_ISSUER"), "storefront"),
		ServiceTokenAudience: valueOrDefault(k.String("SERVICE_TOKEN_AUDIENCE"), "punchout-gateway"),

		SetupRateLimitPerMin: parseInt(k.String("SETUP_RATE_LIMIT_PER_MIN"), 60),
		APIRateLimit:         valueOrDefault(k.String("API_RATE_LIMIT"), "600-M"),
		BodyLimitBytes:       int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		CXMLBodyLimitBytes:   int64(parseInt(k.String("CXML_BODY_LIMIT_BYTES"), 4<<20)),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "2m"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
	}

	loc, err := time.LoadLocation(valueOrDefault(k.String("DELIVERY_TIMEZONE"), "UTC"))
	if err != nil {
		return nil, fmt.Errorf("DELIVERY_TIMEZONE: %w", err)
	}
	cfg.DeliveryTimezone = loc

	creds, err := ParseCredentials(k.String("PUNCHOUT_CREDENTIALS"))
	if err != nil {
		return nil, fmt.Errorf("PUNCHOUT_CREDENTIALS: %w", err)
	}
	cfg.Credentials = creds

	if cfg.StorefrontURL == "" {
		return nil, errors.New("PUBLIC_STOREFRONT_URL is required")
	}
	if len(cfg.Credentials) == 0 {
		return nil, errors.New("PUNCHOUT_CREDENTIALS is required")
	}
	if cfg.ServiceTokenSecret == "" {
		return nil, errors.New("SERVICE_TOKEN_SECRET is required")
	}
	switch cfg.OrderEncoding {
	case "xml", "form":
	default:
		return nil, fmt.Errorf("PUNCHOUT_ORDER_ENCODING must be xml or form, got %q", cfg.OrderEncoding)
	}
	if cfg.TransferMaxAttempts < 1 {
		cfg.TransferMaxAttempts = 1
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// ParseCredentials decodes "domain|identity|hash[|domain:identity,...]"
// entries separated by ';'. Hashes are argon2id encoded strings and may
// themselves contain commas. The optional fourth field lists the From
// identities the credential may act for.
func ParseCredentials(value string) ([]Credential, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var out []Credential
	seen := map[string]struct{}{}
	for _, raw := range strings.Split(value, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, "|", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("entry %q: expected domain|identity|hash", raw)
		}
		cred := Credential{
			Domain:     strings.TrimSpace(parts[0]),
			Identity:   strings.TrimSpace(parts[1]),
			SecretHash: strings.TrimSpace(parts[2]),
		}
		if cred.Domain == "" || cred.Identity == "" || cred.SecretHash == "" {
			return nil, fmt.Errorf("entry %q: empty field", raw)
		}
		if !strings.HasPrefix(cred.SecretHash, "$argon2id$") {
			return nil, fmt.Errorf("entry for %s/%s: secret must be an argon2id hash", cred.Domain, cred.Identity)
		}
		if len(parts) == 4 {
			parties, err := parseParties(parts[3])
			if err != nil {
				return nil, fmt.Errorf("entry for %s/%s: %w", cred.Domain, cred.Identity, err)
			}
			cred.OnBehalfOf = parties
		}
		key := strings.ToLower(cred.Domain) + "|" + cred.Identity
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate credential for %s/%s", cred.Domain, cred.Identity)
		}
		seen[key] = struct{}{}
		out = append(out, cred)
	}
	return out, nil
}

func parseParties(value string) ([]Party, error) {
	var out []Party
	for _, raw := range splitAndTrim(value) {
		domain, identity, ok := strings.Cut(raw, ":")
		domain, identity = strings.TrimSpace(domain), strings.TrimSpace(identity)
		if !ok || domain == "" || identity == "" {
			return nil, fmt.Errorf("on-behalf-of %q: expected domain:identity", raw)
		}
		out = append(out, Party{Domain: domain, Identity: identity})
	}
	return out, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
