package conf

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultLockTTL = 10 * time.Minute
const defaultProviderTimeout = 10 * time.Second
const defaultMaxConsecutiveErrors = 5

// OAuthProviderConfiguration holds all config related to a single external
// account provider. Values come from INTEGRATION_<PROVIDER>_* environment
// variables; a provider without a secret is treated as disabled.
type OAuthProviderConfiguration struct {
	ClientID     string `json:"client_id" split_words:"true"`
	Secret       string `json:"secret"`
	AuthorizeURL string `json:"authorize_url" split_words:"true"`
	AppID        string `json:"app_id" split_words:"true"`
	URL          string `json:"url"`
}

// Enabled reports whether the provider may run an OAuth flow at all.
func (o *OAuthProviderConfiguration) Enabled() bool {
	return o.ClientID != "" && o.Secret != ""
}

// ProviderConfiguration is the catalog of per-provider overrides.
type ProviderConfiguration struct {
	Github        OAuthProviderConfiguration `json:"github"`
	Gitlab        OAuthProviderConfiguration `json:"gitlab"`
	Stackexchange OAuthProviderConfiguration `json:"stackexchange"`
	Wakatime      OAuthProviderConfiguration `json:"wakatime"`

	// RedirectURIBase is prepended to /oauth/callback/{provider} when a
	// provider has no explicit redirect URI. Overridden for local dev.
	RedirectURIBase string `json:"redirect_uri_base" split_words:"true"`
}

// DBConfiguration holds all the database related configuration.
type DBConfiguration struct {
	Driver            string        `json:"driver"`
	URL               string        `json:"url" envconfig:"DATABASE_URL" required:"true"`
	MaxPoolSize       int           `json:"max_pool_size" split_words:"true"`
	MaxIdlePoolSize   int           `json:"max_idle_pool_size" split_words:"true"`
	ConnMaxLifetime   time.Duration `json:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime   time.Duration `json:"conn_max_idle_time" split_words:"true"`
	HealthCheckPeriod time.Duration `json:"health_check_period" split_words:"true"`
	MigrationsPath    string        `json:"migrations_path" split_words:"true" default:"./migrations"`
}

// APIConfiguration holds all the API related configuration.
type APIConfiguration struct {
	Host            string  `json:"host"`
	Port            string  `json:"port" default:"8080"`
	ExternalURL     string  `json:"external_url" split_words:"true" required:"true"`
	RequestIDHeader string  `json:"request_id_header" split_words:"true"`
	SiteURL         string  `json:"site_url" split_words:"true"`
	RateLimit       float64 `json:"rate_limit" split_words:"true" default:"30"`
}

// LockConfiguration selects and tunes the lease backend used to serialize
// per-connection background work.
type LockConfiguration struct {
	Backend  string        `json:"backend" default:"postgres"`
	TTL      time.Duration `json:"ttl"`
	RedisURL string        `json:"redis_url" split_words:"true"`
}

// SyncConfiguration tunes background synchronization behavior.
type SyncConfiguration struct {
	// ProviderTimeout bounds every outbound provider HTTP call.
	ProviderTimeout time.Duration `json:"provider_timeout" split_words:"true"`

	// MaxConsecutiveErrors is the circuit breaker threshold: connections
	// whose error count exceeds it are skipped until reset.
	MaxConsecutiveErrors int `json:"max_consecutive_errors" split_words:"true"`

	// Staleness windows per scrape type. A snapshot younger than the
	// window makes the sync a no-op.
	ReposStaleness time.Duration `json:"repos_staleness" split_words:"true" default:"6h"`
	StatsStaleness time.Duration `json:"stats_staleness" split_words:"true" default:"1h"`

	// WorkerCount is the size of the background task pool.
	WorkerCount int `json:"worker_count" split_words:"true" default:"4"`

	// QueueSize bounds the pending task queue.
	QueueSize int `json:"queue_size" split_words:"true" default:"256"`

	// SweepInterval is how often the standalone worker scans for
	// connections due for a sync.
	SweepInterval time.Duration `json:"sweep_interval" split_words:"true" default:"10m"`

	// BadgeThreshold is the minimum accumulated per-language score
	// required before a badge is materialized.
	BadgeThreshold float64 `json:"badge_threshold" split_words:"true" default:"100"`
}

// LoggingConfig controls logrus behavior.
type LoggingConfig struct {
	Level string `json:"level" default:"info"`
	File  string `json:"file"`
}

// GlobalConfiguration holds all the configuration that applies to the
// whole service.
type GlobalConfiguration struct {
	API       APIConfiguration
	DB        DBConfiguration
	Lock      LockConfiguration
	Sync      SyncConfiguration
	Logging   LoggingConfig `envconfig:"LOG"`
	Providers ProviderConfiguration
}

func loadEnvironment(filename string) error {
	var err error
	if filename != "" {
		err = godotenv.Overload(filename)
	} else {
		err = godotenv.Load()
		// handle if .env file does not exist, this is OK
		if os.IsNotExist(err) {
			return nil
		}
	}
	return err
}

// LoadGlobal loads configuration from file and environment variables.
func LoadGlobal(filename string) (*GlobalConfiguration, error) {
	if err := loadEnvironment(filename); err != nil {
		return nil, err
	}

	config := new(GlobalConfiguration)
	if err := envconfig.Process("sync", config); err != nil {
		return nil, err
	}

	// per-provider overrides use their own INTEGRATION_* namespace, e.g.
	// INTEGRATION_GITHUB_CLIENT_ID or INTEGRATION_WAKATIME_SECRET
	if err := envconfig.Process("integration", &config.Providers); err != nil {
		return nil, err
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults sets defaults for a GlobalConfiguration
func (config *GlobalConfiguration) ApplyDefaults() error {
	if config.Lock.TTL == 0 {
		config.Lock.TTL = defaultLockTTL
	}
	if config.Sync.ProviderTimeout == 0 {
		config.Sync.ProviderTimeout = defaultProviderTimeout
	}
	if config.Sync.MaxConsecutiveErrors == 0 {
		config.Sync.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if config.Providers.RedirectURIBase == "" {
		config.Providers.RedirectURIBase = config.API.ExternalURL
	}
	if config.API.SiteURL == "" {
		config.API.SiteURL = config.API.ExternalURL
	}
	return nil
}

// Validate checks the configuration is coherent enough to start with.
func (config *GlobalConfiguration) Validate() error {
	if _, err := url.Parse(config.API.ExternalURL); err != nil {
		return fmt.Errorf("invalid API external URL: %w", err)
	}

	switch config.Lock.Backend {
	case "postgres", "memory":
	case "redis":
		if config.Lock.RedisURL == "" {
			return errors.New("lock backend redis requires SYNC_LOCK_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", config.Lock.Backend)
	}

	return nil
}

// RedirectURI computes the callback URI registered with a provider.
func (config *GlobalConfiguration) RedirectURI(providerID string) string {
	base := strings.TrimSuffix(config.Providers.RedirectURIBase, "/")
	return base + "/oauth/callback/" + providerID
}

// Provider returns the override block for the given provider id, or nil
// when the id is not part of the catalog.
func (p *ProviderConfiguration) Provider(id string) *OAuthProviderConfiguration {
	switch id {
	case "github":
		return &p.Github
	case "gitlab":
		return &p.Gitlab
	case "stackexchange":
		return &p.Stackexchange
	case "wakatime":
		return &p.Wakatime
	default:
		return nil
	}
}
