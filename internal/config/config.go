package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"warden.dev/internal/auth"
	"warden.dev/internal/password"
)

const (
	minAccessTTL  = time.Minute
	maxAccessTTL  = 24 * time.Hour
	maxRefreshTTL = 90 * 24 * time.Hour
)

// Config is the whole process configuration. It is read once at startup and
// passed to constructors by value.
type Config struct {
	Env          string       `yaml:"env" env:"WARDEN_ENV" env-default:"local"`
	HTTP         HTTP         `yaml:"http"`
	GRPC         GRPC         `yaml:"grpc"`
	DB           DB           `yaml:"db"`
	Log          Log          `yaml:"log"`
	Hash         Hash         `yaml:"hash"`
	Password     Password     `yaml:"password"`
	Token        Token        `yaml:"token"`
	Session      Session      `yaml:"session"`
	Bootstrap    Bootstrap    `yaml:"bootstrap"`
	Housekeeping Housekeeping `yaml:"housekeeping"`
}

type HTTP struct {
	Address      string        `yaml:"address" env:"WARDEN_HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"WARDEN_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WARDEN_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"WARDEN_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"WARDEN_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"WARDEN_HTTP_CORS_ORIGINS" env-separator:","`
	// RateLimit is requests per second per client IP on /v1/auth/*.
	RateLimit      float64 `yaml:"rate_limit" env:"WARDEN_HTTP_RATE_LIMIT" env-default:"5"`
	RateBurst      int     `yaml:"rate_burst" env:"WARDEN_HTTP_RATE_BURST" env-default:"10"`
	RefreshCookie  bool    `yaml:"refresh_cookie" env:"WARDEN_HTTP_REFRESH_COOKIE" env-default:"false"`
	CookieSecure   bool    `yaml:"cookie_secure" env:"WARDEN_HTTP_COOKIE_SECURE" env-default:"true"`
	TrustedProxies bool    `yaml:"trusted_proxies" env:"WARDEN_HTTP_TRUSTED_PROXIES" env-default:"false"`
}

type GRPC struct {
	Enabled    bool   `yaml:"enabled" env:"WARDEN_GRPC_ENABLED" env-default:"true"`
	Address    string `yaml:"address" env:"WARDEN_GRPC_ADDRESS" env-default:":9090"`
	Reflection bool   `yaml:"reflection" env:"WARDEN_GRPC_REFLECTION" env-default:"true"`
}

// DB holds the Postgres DSN. An empty DSN selects the in-memory store, which
// is only accepted outside production.
type DB struct {
	DSN             string        `yaml:"dsn" env:"WARDEN_DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"WARDEN_DB_MAX_OPEN_CONNS" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"WARDEN_DB_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"WARDEN_DB_CONN_MAX_LIFETIME" env-default:"15m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"WARDEN_DB_CONN_MAX_IDLE_TIME" env-default:"5m"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"WARDEN_DB_MIGRATE_ON_START" env-default:"false"`
}

type Log struct {
	Level  string `yaml:"level" env:"WARDEN_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"WARDEN_LOG_FORMAT" env-default:"json"`
}

type Hash struct {
	Algorithm         string `yaml:"algorithm" env:"WARDEN_HASH_ALGORITHM" env-default:"argon2id"`
	Argon2MemoryKiB   uint32 `yaml:"argon2_memory_kib" env:"WARDEN_HASH_ARGON2_MEMORY_KIB" env-default:"65536"`
	Argon2Iterations  uint32 `yaml:"argon2_iterations" env:"WARDEN_HASH_ARGON2_ITERATIONS" env-default:"3"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism" env:"WARDEN_HASH_ARGON2_PARALLELISM" env-default:"2"`
	Argon2SaltLength  uint32 `yaml:"argon2_salt_length" env:"WARDEN_HASH_ARGON2_SALT_LENGTH" env-default:"16"`
	Argon2KeyLength   uint32 `yaml:"argon2_key_length" env:"WARDEN_HASH_ARGON2_KEY_LENGTH" env-default:"32"`
	BcryptCost        int    `yaml:"bcrypt_cost" env:"WARDEN_HASH_BCRYPT_COST" env-default:"12"`
}

type Password struct {
	MinLength      int    `yaml:"min_length" env:"WARDEN_PASSWORD_MIN_LENGTH" env-default:"12"`
	MaxLength      int    `yaml:"max_length" env:"WARDEN_PASSWORD_MAX_LENGTH" env-default:"256"`
	MinUpper       int    `yaml:"min_upper" env:"WARDEN_PASSWORD_MIN_UPPER" env-default:"1"`
	MinDigits      int    `yaml:"min_digits" env:"WARDEN_PASSWORD_MIN_DIGITS" env-default:"1"`
	MinSpecial     int    `yaml:"min_special" env:"WARDEN_PASSWORD_MIN_SPECIAL" env-default:"1"`
	SpecialChars   string `yaml:"special_chars" env:"WARDEN_PASSWORD_SPECIAL_CHARS"`
	RejectVeryWeak bool   `yaml:"reject_very_weak" env:"WARDEN_PASSWORD_REJECT_VERY_WEAK" env-default:"true"`
}

// Token configures access-token signing. HS256 needs Secret; RS256 needs
// PrivateKeyFile and optionally PublicKeyFile.
type Token struct {
	Issuer         string        `yaml:"issuer" env:"WARDEN_TOKEN_ISSUER" env-default:"warden"`
	Algorithm      string        `yaml:"algorithm" env:"WARDEN_TOKEN_ALGORITHM" env-default:"HS256"`
	Secret         string        `yaml:"secret" env:"WARDEN_TOKEN_SECRET"`
	PrivateKeyFile string        `yaml:"private_key_file" env:"WARDEN_TOKEN_PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `yaml:"public_key_file" env:"WARDEN_TOKEN_PUBLIC_KEY_FILE"`
	KeyID          string        `yaml:"key_id" env:"WARDEN_TOKEN_KEY_ID"`
	AccessTTL      time.Duration `yaml:"access_ttl" env:"WARDEN_TOKEN_ACCESS_TTL" env-default:"15m"`
	Leeway         time.Duration `yaml:"leeway" env:"WARDEN_TOKEN_LEEWAY" env-default:"30s"`
}

type Session struct {
	RefreshTTL             time.Duration `yaml:"refresh_ttl" env:"WARDEN_SESSION_REFRESH_TTL" env-default:"336h"`
	RefreshTokenBytes      int           `yaml:"refresh_token_bytes" env:"WARDEN_SESSION_REFRESH_TOKEN_BYTES" env-default:"32"`
	RefreshPepper          string        `yaml:"refresh_pepper" env:"WARDEN_SESSION_REFRESH_PEPPER"`
	VerifyClaimsPerRequest bool          `yaml:"verify_claims_per_request" env:"WARDEN_SESSION_VERIFY_CLAIMS_PER_REQUEST" env-default:"false"`
}

// Bootstrap drives cmd/bootstrap and the startup permission seeding.
type Bootstrap struct {
	SeedPermissions bool   `yaml:"seed_permissions" env:"WARDEN_BOOTSTRAP_SEED_PERMISSIONS" env-default:"true"`
	PermissionsFile string `yaml:"permissions_file" env:"WARDEN_BOOTSTRAP_PERMISSIONS_FILE"`
	AdminEmail      string `yaml:"admin_email" env:"WARDEN_BOOTSTRAP_ADMIN_EMAIL"`
	AdminPassword   string `yaml:"admin_password" env:"WARDEN_BOOTSTRAP_ADMIN_PASSWORD"`
	AdminFullName   string `yaml:"admin_full_name" env:"WARDEN_BOOTSTRAP_ADMIN_FULL_NAME" env-default:"Administrator"`
}

// Housekeeping controls the purge of expired and revoked refresh tokens.
// Rows are deleted once they have been terminal for longer than Retention.
type Housekeeping struct {
	Enabled   bool          `yaml:"enabled" env:"WARDEN_HOUSEKEEPING_ENABLED" env-default:"true"`
	Interval  time.Duration `yaml:"interval" env:"WARDEN_HOUSEKEEPING_INTERVAL" env-default:"1h"`
	Retention time.Duration `yaml:"retention" env:"WARDEN_HOUSEKEEPING_RETENTION" env-default:"24h"`
}

// Load reads the YAML file at path when given, then applies environment
// overrides. Without a path only the environment is read.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Production reports whether the process runs in a production environment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToUpper(c.Token.Algorithm) {
	case "HS256":
		if c.Token.Secret == "" {
			errs = append(errs, errors.New("token.secret is required for HS256"))
		} else if len(c.Token.Secret) < 32 {
			errs = append(errs, errors.New("token.secret must be at least 32 bytes"))
		}
	case "RS256":
		if c.Token.PrivateKeyFile == "" {
			errs = append(errs, errors.New("token.private_key_file is required for RS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("token.algorithm %q is not supported", c.Token.Algorithm))
	}
	if c.Token.AccessTTL < minAccessTTL || c.Token.AccessTTL > maxAccessTTL {
		errs = append(errs, fmt.Errorf("token.access_ttl %s out of range [%s..%s]", c.Token.AccessTTL, minAccessTTL, maxAccessTTL))
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > time.Minute*5 {
		errs = append(errs, fmt.Errorf("token.leeway %s out of range [0..5m]", c.Token.Leeway))
	}
	if c.Session.RefreshTTL <= c.Token.AccessTTL || c.Session.RefreshTTL > maxRefreshTTL {
		errs = append(errs, fmt.Errorf("session.refresh_ttl %s must exceed token.access_ttl and not exceed %s", c.Session.RefreshTTL, maxRefreshTTL))
	}
	if c.Session.RefreshTokenBytes < 16 || c.Session.RefreshTokenBytes > 64 {
		errs = append(errs, fmt.Errorf("session.refresh_token_bytes %d out of range [16..64]", c.Session.RefreshTokenBytes))
	}

	if err := c.HashConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hash: %w", err))
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		errs = append(errs, fmt.Errorf("password.min_length %d must be positive and not exceed max_length %d", c.Password.MinLength, c.Password.MaxLength))
	}
	if c.Password.MinUpper+c.Password.MinDigits+c.Password.MinSpecial > c.Password.MaxLength {
		errs = append(errs, errors.New("password character class minimums exceed max_length"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.DB.DSN == "" && c.Production() {
		errs = append(errs, errors.New("db.dsn is required in production"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateBurst <= 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must be positive"))
	}
	if c.Housekeeping.Enabled && c.Housekeeping.Interval <= 0 {
		errs = append(errs, errors.New("housekeeping.interval must be positive"))
	}
	if c.Housekeeping.Retention < 0 {
		errs = append(errs, errors.New("housekeeping.retention must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// HashConfig converts the hash section for password.NewHasher.
func (c Config) HashConfig() password.Config {
	return password.Config{
		Algorithm: password.Algorithm(strings.ToLower(c.Hash.Algorithm)),
		Argon2id: password.Argon2idParams{
			MemoryKiB:   c.Hash.Argon2MemoryKiB,
			Iterations:  c.Hash.Argon2Iterations,
			Parallelism: c.Hash.Argon2Parallelism,
			SaltLength:  c.Hash.Argon2SaltLength,
			KeyLength:   c.Hash.Argon2KeyLength,
		},
		BcryptCost: c.Hash.BcryptCost,
	}
}

// Policy converts the password section.
func (c Config) Policy() password.Policy {
	special := c.Password.SpecialChars
	if special == "" {
		special = password.DefaultSpecialChars
	}
	return password.Policy{
		MinLength:      c.Password.MinLength,
		MaxLength:      c.Password.MaxLength,
		MinUpper:       c.Password.MinUpper,
		MinDigits:      c.Password.MinDigits,
		MinSpecial:     c.Password.MinSpecial,
		SpecialChars:   special,
		RejectVeryWeak: c.Password.RejectVeryWeak,
	}
}

// TokenConfig converts the token section, reading PEM files from disk.
func (c Config) TokenConfig() (auth.TokenConfig, error) {
	tc := auth.TokenConfig{
		Issuer:    c.Token.Issuer,
		Algorithm: strings.ToUpper(c.Token.Algorithm),
		KeyID:     c.Token.KeyID,
		AccessTTL: c.Token.AccessTTL,
		Leeway:    c.Token.Leeway,
	}
	if c.Token.Secret != "" {
		tc.Secret = []byte(c.Token.Secret)
	}
	if c.Token.PrivateKeyFile != "" {
		pem, err := os.ReadFile(c.Token.PrivateKeyFile)
		if err != nil {
			return auth.TokenConfig{}, fmt.Errorf("read private key: %w", err)
		}
		tc.PrivateKeyPEM = string(pem)
	}
	if c.Token.PublicKeyFile != "" {
		pem, err := os.ReadFile(c.Token.PublicKeyFile)
		if err != nil {
			return auth.TokenConfig{}, fmt.Errorf("read public key: %w", err)
		}
		tc.PublicKeyPEM = string(pem)
	}
	return tc, nil
}

// ServiceConfig converts the session and password sections.
func (c Config) ServiceConfig() auth.ServiceConfig {
	sc := auth.ServiceConfig{
		Session: auth.SessionConfig{
			RefreshTTL:        c.Session.RefreshTTL,
			RefreshTokenBytes: c.Session.RefreshTokenBytes,
		},
		Policy:                 c.Policy(),
		VerifyClaimsPerRequest: c.Session.VerifyClaimsPerRequest,
	}
	if c.Session.RefreshPepper != "" {
		sc.Session.RefreshPepper = []byte(c.Session.RefreshPepper)
	}
	return sc
}
