package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for both the translation backend
// and the embedded client.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Client        ClientConfig        `mapstructure:"client"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	MaxAudioMB            int           `mapstructure:"max_audio_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	EngineTimeout         time.Duration `mapstructure:"engine_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// LedgerConfig controls the backend credit ledger.
type LedgerConfig struct {
	Store               string        `mapstructure:"store"`
	FreeMinutes         float64       `mapstructure:"free_minutes"`
	AdminUserIDs        []string      `mapstructure:"admin_user_ids"`
	MaxRecordingMinutes float64       `mapstructure:"max_recording_minutes"`
	InFlightTimeout     time.Duration `mapstructure:"in_flight_timeout"`
	SubscriptionPeriod  time.Duration `mapstructure:"subscription_period"`
}

type PricingConfig struct {
	DefaultTier      string  `mapstructure:"default_tier"`
	BaseCostPerMin   float64 `mapstructure:"base_cost_per_minute"`
	EnablePrompting  bool    `mapstructure:"enable_prompting"`
	EnableFallback   bool    `mapstructure:"enable_fallback"`
	ChargePrecision  int32   `mapstructure:"charge_precision"`
	UnlimitedMinutes float64 `mapstructure:"unlimited_minutes"`
}

// EngineConfig selects the speech/translation engine.
type EngineConfig struct {
	Provider         string  `mapstructure:"provider"`
	OpenAIKey        string  `mapstructure:"openai_key"`
	OpenAIBaseURL    string  `mapstructure:"openai_base_url"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxTokens        int64   `mapstructure:"max_tokens"`
	DetectLanguage   bool    `mapstructure:"detect_language"`
	DetectMinLetters int     `mapstructure:"detect_min_letters"`
}

type ArchiveConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Storage       string           `mapstructure:"storage"`
	EncryptionKey string           `mapstructure:"encryption_key"`
	S3            ArchiveS3Config  `mapstructure:"s3"`
	Local         ArchiveLocalConf `mapstructure:"local"`
}

type ArchiveS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type ArchiveLocalConf struct {
	Directory string `mapstructure:"directory"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// ReportingConfig controls how usage analytics buckets days.
type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// ClientConfig drives the embedded translation request coordinator.
type ClientConfig struct {
	BaseURL                     string        `mapstructure:"base_url"`
	AuthToken                   string        `mapstructure:"auth_token"`
	RequestTimeout              time.Duration `mapstructure:"request_timeout"`
	QuickCheckTimeout           time.Duration `mapstructure:"quick_check_timeout"`
	MaxRetryAttempts            int           `mapstructure:"max_retry_attempts"`
	RetryBaseDelay              time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay               time.Duration `mapstructure:"retry_max_delay"`
	MinRecordingDuration        time.Duration `mapstructure:"min_recording_duration"`
	MaxRecordingDurationMinutes float64       `mapstructure:"max_recording_duration_minutes"`
	CacheValidDuration          time.Duration `mapstructure:"cache_valid_duration"`
	UnhealthyCacheDuration      time.Duration `mapstructure:"unhealthy_cache_duration"`
	ProbeInterval               time.Duration `mapstructure:"probe_interval"`
	ProbeGraceWindow            time.Duration `mapstructure:"probe_grace_window"`
	ConnectivityInterval        time.Duration `mapstructure:"connectivity_interval"`
	MirrorKeyPrefix             string        `mapstructure:"mirror_key_prefix"`
}

// MaxRecordingDuration converts the minute-based limit into a duration.
func (c ClientConfig) MaxRecordingDuration() time.Duration {
	return time.Duration(c.MaxRecordingDurationMinutes * float64(time.Minute))
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("TRANSLATOR_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("translator")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("TRANSLATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeStringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes values shared by both roles.
func (c *Config) Validate() error {
	c.Ledger.AdminUserIDs = normalizeStringSlice(c.Ledger.AdminUserIDs)
	c.Pricing.DefaultTier = strings.ToLower(strings.TrimSpace(c.Pricing.DefaultTier))
	switch c.Pricing.DefaultTier {
	case "basic", "premium", "ultra":
	case "":
		c.Pricing.DefaultTier = "premium"
	default:
		return fmt.Errorf("pricing.default_tier must be basic, premium or ultra")
	}
	if c.Pricing.BaseCostPerMin <= 0 {
		return fmt.Errorf("pricing.base_cost_per_minute must be > 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	return nil
}

// ValidateServer ensures the values required by the backend are present.
func (c *Config) ValidateServer() error {
	var missing []string

	store := strings.ToLower(strings.TrimSpace(c.Ledger.Store))
	switch store {
	case "postgres":
		if c.Database.URL == "" {
			missing = append(missing, "TRANSLATOR_DATABASE_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("ledger.store must be postgres or memory")
	}
	c.Ledger.Store = store

	if strings.EqualFold(c.Engine.Provider, "openai") && strings.TrimSpace(c.Engine.OpenAIKey) == "" {
		missing = append(missing, "TRANSLATOR_ENGINE_OPENAI_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Ledger.FreeMinutes < 0 {
		return fmt.Errorf("ledger.free_minutes must be >= 0")
	}
	if c.Ledger.MaxRecordingMinutes <= 0 {
		return fmt.Errorf("ledger.max_recording_minutes must be > 0")
	}
	if c.Ledger.InFlightTimeout <= 0 {
		c.Ledger.InFlightTimeout = 2 * time.Minute
	}
	if c.Server.MaxAudioMB <= 0 {
		c.Server.MaxAudioMB = 25
	}
	if c.Server.BodyLimitMB < c.Server.MaxAudioMB*2 {
		// base64 inflates the payload by a third; leave headroom for the JSON envelope.
		c.Server.BodyLimitMB = c.Server.MaxAudioMB * 2
	}
	if c.Database.RunMigrations && store == "postgres" && c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "embedded"
	}
	return c.Archive.validate()
}

// ValidateClient ensures the coordinator has a usable backend address and sane limits.
func (c *Config) ValidateClient() error {
	cl := &c.Client
	base := strings.TrimSpace(cl.BaseURL)
	if base == "" {
		return fmt.Errorf("missing required configuration: TRANSLATOR_CLIENT_BASE_URL")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return fmt.Errorf("client.base_url: %w", err)
	}
	cl.BaseURL = strings.TrimRight(base, "/")

	if cl.MaxRetryAttempts <= 0 {
		return fmt.Errorf("client.max_retry_attempts must be > 0")
	}
	if cl.RequestTimeout <= 0 || cl.QuickCheckTimeout <= 0 {
		return fmt.Errorf("client.request_timeout and client.quick_check_timeout must be > 0")
	}
	if cl.RetryMaxDelay < cl.RetryBaseDelay {
		return fmt.Errorf("client.retry_max_delay must be >= client.retry_base_delay")
	}
	if cl.MaxRecordingDuration() <= cl.MinRecordingDuration {
		return fmt.Errorf("client.max_recording_duration_minutes must exceed client.min_recording_duration")
	}
	if cl.CacheValidDuration <= 0 {
		return fmt.Errorf("client.cache_valid_duration must be > 0")
	}
	if cl.UnhealthyCacheDuration <= 0 || cl.UnhealthyCacheDuration > cl.CacheValidDuration/2 {
		cl.UnhealthyCacheDuration = cl.CacheValidDuration / 2
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(a.Storage)) {
	case "", "local":
		a.Storage = "local"
		if strings.TrimSpace(a.Local.Directory) == "" {
			a.Local.Directory = "./data/audio"
		}
	case "s3":
		a.Storage = "s3"
		if strings.TrimSpace(a.S3.Bucket) == "" {
			return fmt.Errorf("archive.s3.bucket must be provided when archive.storage is s3")
		}
	default:
		return fmt.Errorf("archive.storage must be local or s3")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("server.max_audio_mb", 25)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.engine_timeout", "90s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "embedded")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.idempotency_ttl", "30m")

	v.SetDefault("ledger.store", "postgres")
	v.SetDefault("ledger.free_minutes", 30)
	v.SetDefault("ledger.admin_user_ids", []string{})
	v.SetDefault("ledger.max_recording_minutes", 2.0)
	v.SetDefault("ledger.in_flight_timeout", "2m")
	v.SetDefault("ledger.subscription_period", "8760h")

	v.SetDefault("pricing.default_tier", "premium")
	v.SetDefault("pricing.base_cost_per_minute", 0.006)
	v.SetDefault("pricing.enable_prompting", true)
	v.SetDefault("pricing.enable_fallback", true)
	v.SetDefault("pricing.charge_precision", 4)
	v.SetDefault("pricing.unlimited_minutes", 999999)

	v.SetDefault("engine.provider", "openai")
	v.SetDefault("engine.openai_key", "")
	v.SetDefault("engine.openai_base_url", "")
	v.SetDefault("engine.temperature", 0.1)
	v.SetDefault("engine.max_tokens", 1000)
	v.SetDefault("engine.detect_language", true)
	v.SetDefault("engine.detect_min_letters", 12)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.storage", "local")
	v.SetDefault("archive.encryption_key", "")
	v.SetDefault("archive.local.directory", "./data/audio")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "audio")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.use_path_style", false)

	v.SetDefault("rate_limits.requests_per_minute", 30)
	v.SetDefault("rate_limits.parallel_requests", 2)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("client.base_url", "http://localhost:8000")
	v.SetDefault("client.auth_token", "")
	v.SetDefault("client.request_timeout", "30s")
	v.SetDefault("client.quick_check_timeout", "3s")
	v.SetDefault("client.max_retry_attempts", 3)
	v.SetDefault("client.retry_base_delay", "1s")
	v.SetDefault("client.retry_max_delay", "4s")
	v.SetDefault("client.min_recording_duration", "500ms")
	v.SetDefault("client.max_recording_duration_minutes", 2.0)
	v.SetDefault("client.cache_valid_duration", "45s")
	v.SetDefault("client.unhealthy_cache_duration", "15s")
	v.SetDefault("client.probe_interval", "30s")
	v.SetDefault("client.probe_grace_window", "10s")
	v.SetDefault("client.connectivity_interval", "5s")
	v.SetDefault("client.mirror_key_prefix", "translator:direction")
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	clean := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
