package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DateLayout is the format of ingest.earliestExpiredDate.
const DateLayout = "2006-01-02"

var (
	ErrMissingDatabaseURL = errors.New("database.url is required")
	ErrInvalidProvider    = errors.New("unknown ct.provider")
)

var providers = []string{"certspotter", "crtsh", "crtsh-dnsname"}

type Config struct {
	Database struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"maxConns"`
	} `mapstructure:"database"`
	Redis struct {
		URL string        `mapstructure:"url"`
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	CT struct {
		Provider       string        `mapstructure:"provider"`
		BaseURL        string        `mapstructure:"baseURL"`
		APIKeyFile     string        `mapstructure:"apiKeyFile"`
		RateLimit      float64       `mapstructure:"rateLimit"`
		RateBurst      int           `mapstructure:"rateBurst"`
		MaxRetries     int           `mapstructure:"maxRetries"`
		ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
		ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	} `mapstructure:"ct"`
	Ingest struct {
		EarliestExpiredDate        string        `mapstructure:"earliestExpiredDate"`
		Workers                    int           `mapstructure:"workers"`
		TaskTimeout                time.Duration `mapstructure:"taskTimeout"`
		PollInterval               time.Duration `mapstructure:"pollInterval"`
		IncludeSubdomains          bool          `mapstructure:"includeSubdomains"`
		ExceptionDomains           []string      `mapstructure:"exceptionDomains"`
		ExceptionIncludeExpired    bool          `mapstructure:"exceptionIncludeExpired"`
		ExceptionIncludeSubdomains bool          `mapstructure:"exceptionIncludeSubdomains"`

		// Cutoff is EarliestExpiredDate parsed as midnight UTC.
		Cutoff time.Time `mapstructure:"-"`
	} `mapstructure:"ingest"`
	Server struct {
		Port            int    `mapstructure:"port"`
		CORSAllowOrigin string `mapstructure:"corsAllowOrigin"`
	} `mapstructure:"server"`
	Logging struct {
		IsDevelopment      bool `mapstructure:"isDevelopment"`
		SamplingInitial    int  `mapstructure:"samplingInitial"`
		SamplingThereafter int  `mapstructure:"samplingThereafter"`
	} `mapstructure:"logging"`
}

// Load reads configuration from path, or from config.yaml in /config,
// ./config or the working directory when path is empty. Every key can be
// overridden by an environment variable prefixed with HARVESTER_, with dots
// replaced by underscores (HARVESTER_DATABASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("harvester")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetTypeByDefaultValue(true)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxConns", int32(8))
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("ct.provider", "certspotter")
	v.SetDefault("ct.baseURL", "")
	v.SetDefault("ct.apiKeyFile", "/run/secrets/sslmate-api-key.txt")
	v.SetDefault("ct.rateLimit", 1.0)
	v.SetDefault("ct.rateBurst", 1)
	v.SetDefault("ct.maxRetries", 16)
	v.SetDefault("ct.connectTimeout", 5*time.Second)
	v.SetDefault("ct.readTimeout", 30*time.Second)
	v.SetDefault("ingest.earliestExpiredDate", "2018-10-01")
	v.SetDefault("ingest.workers", 16)
	v.SetDefault("ingest.taskTimeout", 2*time.Minute)
	v.SetDefault("ingest.pollInterval", 500*time.Millisecond)
	v.SetDefault("ingest.includeSubdomains", true)
	v.SetDefault("ingest.exceptionDomains", []string{"nasa.gov"})
	v.SetDefault("ingest.exceptionIncludeExpired", false)
	v.SetDefault("ingest.exceptionIncludeSubdomains", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.corsAllowOrigin", "http://localhost:3000")
	v.SetDefault("logging.isDevelopment", false)
	v.SetDefault("logging.samplingInitial", math.MaxInt)
	v.SetDefault("logging.samplingThereafter", math.MaxInt)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if !slices.Contains(providers, c.CT.Provider) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.CT.Provider)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.CT.MaxRetries < 0 {
		return fmt.Errorf("ct.maxRetries must not be negative, got %d", c.CT.MaxRetries)
	}
	if c.Ingest.TaskTimeout <= 0 || c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("ingest.taskTimeout and ingest.pollInterval must be positive")
	}
	if c.CT.RateLimit <= 0 {
		return fmt.Errorf("ct.rateLimit must be positive, got %v", c.CT.RateLimit)
	}
	cutoff, err := time.ParseInLocation(DateLayout, c.Ingest.EarliestExpiredDate, time.UTC)
	if err != nil {
		return fmt.Errorf("parse ingest.earliestExpiredDate: %w", err)
	}
	c.Ingest.Cutoff = cutoff

	for i, d := range c.Ingest.ExceptionDomains {
		c.Ingest.ExceptionDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return nil
}
