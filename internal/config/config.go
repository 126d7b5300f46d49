package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/gookit/validate"
	"github.com/pkg/errors"

	"github.com/totegamma/examwatch/internal/domain"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Directory Directory `yaml:"directory"`
	Forensics Forensics `yaml:"forensics"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr" validate:"required"`
	PostgresDsn   string `yaml:"postgresDsn" validate:"required"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
	EnableMetrics bool   `yaml:"enableMetrics"`
	LogLevel      string `yaml:"logLevel" validate:"required|in:trace,debug,info,warn,error"`
}

type Directory struct {
	URL               string        `yaml:"url" validate:"required"`
	BindDN            string        `yaml:"bindDN" validate:"required"`
	BindPassword      string        `yaml:"bindPassword" validate:"required"`
	BaseDN            string        `yaml:"baseDN" validate:"required"`
	ClassAttribute    string        `yaml:"classAttribute" validate:"required"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	SearchTimeout     time.Duration `yaml:"searchTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	WatchInterval     time.Duration `yaml:"watchInterval"`
}

type Forensics struct {
	StaleThreshold time.Duration `yaml:"staleThreshold"`
	Workers        int           `yaml:"workers" validate:"min:1"`
}

// Domain returns the tuning the usecases need.
func (c Config) Domain() domain.Config {
	return domain.Config{
		StaleThreshold: c.Forensics.StaleThreshold,
		Workers:        c.Forensics.Workers,
	}
}

// Load reads path (optional), applies environment overrides and defaults,
// and validates the result.
func Load(path string) (Config, error) {
	var config Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		config, err = Parse(raw)
		if err != nil {
			return Config{}, err
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func Parse(raw []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return config, nil
}

// ApplyEnv overrides file values with the deployment environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVICE_URL":    &c.Directory.URL,
		"SERVICE_DN":     &c.Directory.BindDN,
		"SERVICE_PW":     &c.Directory.BindPassword,
		"SEARCH_BASE":    &c.Directory.BaseDN,
		"POSTGRES_DSN":   &c.Server.PostgresDsn,
		"REDIS_ADDR":     &c.Server.RedisAddr,
		"MEMCACHED_ADDR": &c.Server.MemcachedAddr,
		"LOG_LEVEL":      &c.Server.LogLevel,
		"LISTEN_ADDR":    &c.Server.ListenAddr,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("FORENSIC_STALE_MINUTES"); ok && v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return errors.Errorf("FORENSIC_STALE_MINUTES must be a positive integer, got %q", v)
		}
		c.Forensics.StaleThreshold = time.Duration(minutes) * time.Minute
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Directory.ClassAttribute == "" {
		c.Directory.ClassAttribute = "physicalDeliveryOfficeName"
	}
	if c.Directory.DialTimeout <= 0 {
		c.Directory.DialTimeout = 5 * time.Second
	}
	if c.Directory.ReconnectInterval <= 0 {
		c.Directory.ReconnectInterval = 7 * time.Second
	}
	if c.Directory.SearchTimeout <= 0 {
		c.Directory.SearchTimeout = 7 * time.Second
	}
	if c.Directory.IdleTimeout <= 0 {
		c.Directory.IdleTimeout = 15 * time.Minute
	}
	if c.Directory.WatchInterval <= 0 {
		c.Directory.WatchInterval = 30 * time.Second
	}
	if c.Forensics.StaleThreshold <= 0 {
		c.Forensics.StaleThreshold = 3 * time.Minute
	}
	if c.Forensics.Workers <= 0 {
		c.Forensics.Workers = 8
	}
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return errors.Wrap(v.Errors, "invalid config")
	}
	return nil
}
