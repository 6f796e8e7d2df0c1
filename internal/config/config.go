// Package config loads service settings from defaults, an optional config
// file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// writeTimeoutSlack is added to the compile timeout when no write timeout is set.
const writeTimeoutSlack = 30 * time.Second

type Config struct {
	HTTP      HTTP
	Compiler  Compiler
	Site      Site
	Auth      Auth
	Log       Log
	Store     Store
	RateLimit RateLimit
}

type HTTP struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

func (h HTTP) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type Compiler struct {
	Binary        string
	Args          []string
	MaxConcurrent int
	Timeout       time.Duration
	TemplateDir   string
	ScratchRoot   string
}

type Site struct {
	StaticDir string
}

type Auth struct {
	// Code overrides the host-derived access code when set.
	Code string
}

type Log struct {
	Level  string
	Format string
}

type Store struct {
	Driver      string
	Retention   time.Duration
	Redis       Redis
	DatabaseURL string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type RateLimit struct {
	RPS   float64
	Burst int
}

// env maps config keys to the environment variables that set them.
var env = map[string]string{
	"http.host":               "HTTP_HOST",
	"http.port":               "PORT",
	"http.read_timeout":       "HTTP_READ_TIMEOUT",
	"http.write_timeout":      "HTTP_WRITE_TIMEOUT",
	"http.shutdown_timeout":   "HTTP_SHUTDOWN_TIMEOUT",
	"http.max_body_bytes":     "MAX_BODY_BYTES",
	"http.trust_proxy":        "TRUST_PROXY",
	"compiler.binary":         "COMPILER_BIN",
	"compiler.args":           "COMPILER_ARGS",
	"compiler.max_concurrent": "MAX_CONCURRENT_COMPILATIONS",
	"compiler.timeout_ms":     "COMPILATION_TIMEOUT_MS",
	"compiler.template_dir":   "TEMPLATE_DIR",
	"compiler.scratch_root":   "SCRATCH_ROOT",
	"site.static_dir":         "STATIC_DIR",
	"auth.code":               "AUTH_CODE",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"store.driver":            "STORE_DRIVER",
	"store.retention":         "JOB_RETENTION",
	"store.redis.addr":        "REDIS_ADDR",
	"store.redis.password":    "REDIS_PASSWORD",
	"store.redis.db":          "REDIS_DB",
	"store.database_url":      "DATABASE_URL",
	"rate_limit.rps":          "RATE_LIMIT_RPS",
	"rate_limit.burst":        "RATE_LIMIT_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.trust_proxy", false)

	v.SetDefault("compiler.binary", "typst")
	v.SetDefault("compiler.args", []string{"compile", "--root", "{workdir}", "--format", "pdf", "{workdir}/main.typ", "-"})
	v.SetDefault("compiler.max_concurrent", 5)
	v.SetDefault("compiler.timeout_ms", 30000)
	v.SetDefault("compiler.template_dir", "./templates/prescription")
	v.SetDefault("compiler.scratch_root", filepath.Join(os.TempDir(), "rx-jobs"))

	v.SetDefault("site.static_dir", "./public")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.retention", 24*time.Hour)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)

	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 5)
}

// Load builds the configuration. configPath may be empty, in which case an
// optional rxpdf.yaml in the working directory is read if present.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rxpdf")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTP{
			Host:            v.GetString("http.host"),
			Port:            v.GetInt("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			TrustProxy:      v.GetBool("http.trust_proxy"),
		},
		Compiler: Compiler{
			Binary:        strings.TrimSpace(v.GetString("compiler.binary")),
			Args:          v.GetStringSlice("compiler.args"),
			MaxConcurrent: v.GetInt("compiler.max_concurrent"),
			Timeout:       time.Duration(v.GetInt64("compiler.timeout_ms")) * time.Millisecond,
			TemplateDir:   v.GetString("compiler.template_dir"),
			ScratchRoot:   v.GetString("compiler.scratch_root"),
		},
		Site: Site{StaticDir: v.GetString("site.static_dir")},
		Auth: Auth{Code: strings.TrimSpace(v.GetString("auth.code"))},
		Log: Log{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Store: Store{
			Driver:    strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			Retention: v.GetDuration("store.retention"),
			Redis: Redis{
				Addr:     v.GetString("store.redis.addr"),
				Password: v.GetString("store.redis.password"),
				DB:       v.GetInt("store.redis.db"),
			},
			DatabaseURL: v.GetString("store.database_url"),
		},
		RateLimit: RateLimit{
			RPS:   v.GetFloat64("rate_limit.rps"),
			Burst: v.GetInt("rate_limit.burst"),
		},
	}

	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = cfg.Compiler.Timeout + writeTimeoutSlack
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.HTTP.Port)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body bytes: %d", c.HTTP.MaxBodyBytes)
	}
	if c.Compiler.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid max concurrent compilations: %d", c.Compiler.MaxConcurrent)
	}
	if c.Compiler.Timeout <= 0 {
		return fmt.Errorf("invalid compilation timeout: %s", c.Compiler.Timeout)
	}
	if c.Compiler.Binary == "" {
		return errors.New("compiler binary is required")
	}
	if len(c.Compiler.Args) == 0 {
		return errors.New("compiler args are required")
	}
	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	return nil
}
