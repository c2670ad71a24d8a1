package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
)

const (
	SigningModeAsymmetric = "asymmetric"
	SigningModeSymmetric  = "symmetric"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// minSecretLength is the HS256 key size.
	minSecretLength = 32
)

type Config struct {
	Issuer string

	Env       string // dev, prod
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	ListenAddr           string
	ShutdownGracePeriod  time.Duration
	HousekeepingInterval time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	SigningMode    string
	PrivateKeyFile string // RS256 PEM, generated when missing
	RSABits        int
	SecretKey      string // HS256 secret
	SecretARN      string // AWS Secrets Manager secret holding the HS256 secret
	SecretRegion   string

	// PublicKeyURL points validation at another issuer's public-key
	// endpoint instead of the local key.
	PublicKeyURL     string
	KeyFetchAttempts int
	KeyFetchBackoff  time.Duration
	KeyFetchTimeout  time.Duration
	WatchKeyFile     bool

	DBDriver   string
	DBDSN      string
	PepperFile string
	RedisURL   string

	IPRate        ratelimit.Config
	PrincipalRate ratelimit.Config
	TrustProxy    bool

	LockoutThreshold int
	LockoutWindow    time.Duration

	RevocationFailClosed bool
	MetricsEnabled       bool

	// Created on startup when the user table is empty.
	AdminEmail    string
	AdminPassword string
}

func DefaultConfig() Config {
	return Config{
		Issuer:               "gatekeeper",
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "json",
		ListenAddr:           ":8080",
		ShutdownGracePeriod:  10 * time.Second,
		HousekeepingInterval: time.Hour,
		AccessTTL:            jwtx.DefaultAccessTokenTTL,
		RefreshTTL:           jwtx.DefaultRefreshTokenTTL,
		SigningMode:          SigningModeAsymmetric,
		PrivateKeyFile:       "signing_key.pem",
		RSABits:              2048,
		KeyFetchAttempts:     jwtx.DefaultKeyFetchAttempts,
		KeyFetchBackoff:      jwtx.DefaultKeyFetchBackoff,
		KeyFetchTimeout:      jwtx.DefaultKeyFetchTimeout,
		WatchKeyFile:         true,
		DBDriver:             DriverSQLite,
		DBDSN:                "auth.db",
		PepperFile:           "pepper",
		IPRate:               ratelimit.OriginDefault,
		PrincipalRate:        ratelimit.PrincipalDefault,
		LockoutThreshold:     domain.DefaultLockoutPolicy.Threshold,
		LockoutWindow:        domain.DefaultLockoutPolicy.Window,
	}
}

// LoadConfig layers defaults, a .env file in the working directory, the
// process environment and finally command-line flags.
func LoadConfig(args []string) (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadDotEnv(os.Getwd); err != nil {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.ParseFlags(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv applies variables from '.env' in the working directory. A
// missing file is not an error.
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))
	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string { return envMap[key] })
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv overrides fields whose AUTH_* variable is set and non-empty.
func (c *Config) LoadEnv(getenv func(string) string) error {
	var errs []error

	setString := func(o *string) func(string) {
		return func(v string) { *o = v }
	}
	setInt := func(o *int) func(string) {
		return func(v string) {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, err)
				return
			}
			*o = n
		}
	}
	setDuration := func(o *time.Duration) func(string) {
		return func(v string) {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, err)
				return
			}
			*o = d
		}
	}
	setBool := func(o *bool) func(string) {
		return func(v string) {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, err)
				return
			}
			*o = b
		}
	}

	envMap := map[string]func(string){
		"AUTH_ISSUER":                  setString(&c.Issuer),
		"AUTH_ENV":                     setString(&c.Env),
		"AUTH_LOG_LEVEL":               setString(&c.LogLevel),
		"AUTH_LOG_FORMAT":              setString(&c.LogFormat),
		"AUTH_LISTEN_ADDR":             setString(&c.ListenAddr),
		"AUTH_SHUTDOWN_GRACE_PERIOD":   setDuration(&c.ShutdownGracePeriod),
		"AUTH_HOUSEKEEPING_INTERVAL":   setDuration(&c.HousekeepingInterval),
		"AUTH_ACCESS_TTL":              setDuration(&c.AccessTTL),
		"AUTH_REFRESH_TTL":             setDuration(&c.RefreshTTL),
		"AUTH_SIGNING_MODE":            setString(&c.SigningMode),
		"AUTH_PRIVATE_KEY_FILE":        setString(&c.PrivateKeyFile),
		"AUTH_RSA_BITS":                setInt(&c.RSABits),
		"AUTH_SECRET_KEY":              setString(&c.SecretKey),
		"AUTH_SECRET_ARN":              setString(&c.SecretARN),
		"AUTH_SECRET_REGION":           setString(&c.SecretRegion),
		"AUTH_PUBLIC_KEY_URL":          setString(&c.PublicKeyURL),
		"AUTH_KEY_FETCH_ATTEMPTS":      setInt(&c.KeyFetchAttempts),
		"AUTH_KEY_FETCH_BACKOFF":       setDuration(&c.KeyFetchBackoff),
		"AUTH_KEY_FETCH_TIMEOUT":       setDuration(&c.KeyFetchTimeout),
		"AUTH_WATCH_KEY_FILE":          setBool(&c.WatchKeyFile),
		"AUTH_DB_DRIVER":               setString(&c.DBDriver),
		"AUTH_DB_DSN":                  setString(&c.DBDSN),
		"AUTH_PEPPER_FILE":             setString(&c.PepperFile),
		"AUTH_REDIS_URL":               setString(&c.RedisURL),
		"AUTH_RATE_IP_CAPACITY":        setInt(&c.IPRate.Capacity),
		"AUTH_RATE_IP_RATE":            setInt(&c.IPRate.Rate),
		"AUTH_RATE_IP_WINDOW":          setDuration(&c.IPRate.Window),
		"AUTH_RATE_PRINCIPAL_CAPACITY": setInt(&c.PrincipalRate.Capacity),
		"AUTH_RATE_PRINCIPAL_RATE":     setInt(&c.PrincipalRate.Rate),
		"AUTH_RATE_PRINCIPAL_WINDOW":   setDuration(&c.PrincipalRate.Window),
		"AUTH_TRUST_PROXY":             setBool(&c.TrustProxy),
		"AUTH_LOCKOUT_THRESHOLD":       setInt(&c.LockoutThreshold),
		"AUTH_LOCKOUT_WINDOW":          setDuration(&c.LockoutWindow),
		"AUTH_REVOCATION_FAIL_CLOSED":  setBool(&c.RevocationFailClosed),
		"AUTH_METRICS_ENABLED":         setBool(&c.MetricsEnabled),
		"AUTH_ADMIN_EMAIL":             setString(&c.AdminEmail),
		"AUTH_ADMIN_PASSWORD":          setString(&c.AdminPassword),
	}

	for key, parseFn := range envMap {
		if v := getenv(key); v != "" {
			before := len(errs)
			parseFn(v)
			if len(errs) > before {
				errs[len(errs)-1] = fmt.Errorf("%s: %w", key, errs[len(errs)-1])
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gatekeeper", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.Issuer, "issuer", "i", c.Issuer, "Issuer claim of minted tokens")
	fs.StringVar(&c.DBDriver, "db-driver", c.DBDriver, "Store driver (sqlite, postgres)")
	fs.StringVarP(&c.DBDSN, "database", "d", c.DBDSN, "Database file or connection string")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL for shared rate limits and revocations")
	fs.StringVar(&c.SigningMode, "signing-mode", c.SigningMode, "Signing mode (asymmetric, symmetric)")
	fs.StringVar(&c.PrivateKeyFile, "private-key", c.PrivateKeyFile, "RS256 private key PEM file")
	fs.StringVar(&c.PublicKeyURL, "public-key-url", c.PublicKeyURL, "Validate against a remote issuer's public key")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Env, "environment", "e", c.Env, "Environment (dev, prod)")
	fs.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "Enable OpenTelemetry providers")

	return fs.Parse(args)
}

func (c Config) Validate() error {
	var errs []error

	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer must not be empty"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RefreshTTL < c.AccessTTL {
		errs = append(errs, errors.New("refresh lifetime must not be shorter than access lifetime"))
	}

	switch c.SigningMode {
	case SigningModeAsymmetric:
		if c.PrivateKeyFile == "" {
			errs = append(errs, errors.New("asymmetric signing needs a private key file"))
		}
	case SigningModeSymmetric:
		if c.SecretARN == "" && len(c.SecretKey) < minSecretLength {
			errs = append(errs, fmt.Errorf("symmetric signing needs a secret of at least %d bytes", minSecretLength))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown signing mode %q", c.SigningMode))
	}

	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DBDriver))
	}

	if err := c.IPRate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ip rate: %w", err))
	}
	if err := c.PrincipalRate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("principal rate: %w", err))
	}

	return errors.Join(errs...)
}

func (c Config) LockoutPolicy() domain.LockoutPolicy {
	return domain.LockoutPolicy{Threshold: c.LockoutThreshold, Window: c.LockoutWindow}
}
