package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest HS256 secret accepted.
const MinJWTSecretLength = 32

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		IdleTimeout     time.Duration `yaml:"idleTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Cache struct {
		TTLMinutes             int   `yaml:"ttlMinutes"`
		RefreshIntervalMinutes int   `yaml:"refreshIntervalMinutes"`
		EngineTimeoutMinutes   int   `yaml:"engineTimeoutMinutes"`
		RefreshOnStart         *bool `yaml:"refreshOnStart"`
	} `yaml:"cache"`

	Engine struct {
		Type              string   `yaml:"type"`
		Command           string   `yaml:"command"`
		Args              []string `yaml:"args"`
		EnvironmentFilter string   `yaml:"environmentFilter"`
		EnvironmentArg    string   `yaml:"environmentArg"`
		File              string   `yaml:"file"`
	} `yaml:"engine"`

	Auth struct {
		Enabled   bool     `yaml:"enabled"`
		JWTSecret string   `yaml:"jwtSecret"`
		JWTIssuer string   `yaml:"jwtIssuer"`
		APIKeys   []APIKey `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Enabled              bool `yaml:"enabled"`
		MaxRequestsPerMinute int  `yaml:"maxRequestsPerMinute"`
		Redis                struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"rateLimit"`

	CORS struct {
		Enabled        bool     `yaml:"enabled"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
		AllowedMethods []string `yaml:"allowedMethods"`
		AllowedHeaders []string `yaml:"allowedHeaders"`
	} `yaml:"cors"`

	Swagger struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"swagger"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Archive struct {
		Driver  string `yaml:"driver"`
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
		Keep    int    `yaml:"keep"`
	} `yaml:"archive"`

	Export struct {
		Formats []string `yaml:"formats"`
		Minio   struct {
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
			Prefix     string `yaml:"prefix"`
		} `yaml:"minio"`
	} `yaml:"export"`

	AI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"ai"`
}

// APIKey is one configured API key principal.
type APIKey struct {
	Key         string     `yaml:"key"`
	Name        string     `yaml:"name"`
	Permissions []string   `yaml:"permissions"`
	ExpiresAt   *time.Time `yaml:"expiresAt"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Log.Level = "info"
	c.Cache.TTLMinutes = 60
	c.Cache.RefreshIntervalMinutes = 60
	c.Cache.EngineTimeoutMinutes = 10
	c.Engine.Type = "command"
	c.Engine.Command = "pwsh"
	c.Engine.EnvironmentArg = "-EnvironmentName"
	c.Auth.Enabled = true
	c.RateLimit.Enabled = true
	c.RateLimit.MaxRequestsPerMinute = 100
	c.CORS.Enabled = true
	c.CORS.AllowedOrigins = []string{"*"}
	c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-API-Key"}
	c.Swagger.Enabled = true
	c.Archive.Migrate = true
	c.Archive.Keep = 168
	c.Export.Formats = []string{"json", "csv"}
	c.AI.Model = "gpt-4o-mini"
	return &c
}

// Load reads a YAML file over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PPSEC_JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("PPSEC_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PPSEC_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("PPSEC_ARCHIVE_DSN"); ok {
		c.Archive.DSN = v
	}
	if v, ok := lookup("PPSEC_OPENAI_API_KEY"); ok {
		c.AI.APIKey = v
	}
	return nil
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Cache.TTLMinutes <= 0 {
		errs = append(errs, errors.New("cache.ttlMinutes must be positive"))
	}
	if c.Cache.RefreshIntervalMinutes <= 0 {
		errs = append(errs, errors.New("cache.refreshIntervalMinutes must be positive"))
	}
	if c.Cache.EngineTimeoutMinutes <= 0 {
		errs = append(errs, errors.New("cache.engineTimeoutMinutes must be positive"))
	}
	switch c.Engine.Type {
	case "command":
		if strings.TrimSpace(c.Engine.Command) == "" {
			errs = append(errs, errors.New("engine.command is required for command engine"))
		}
	case "file":
		if strings.TrimSpace(c.Engine.File) == "" {
			errs = append(errs, errors.New("engine.file is required for file engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.type %q must be command or file", c.Engine.Type))
	}
	if c.Auth.Enabled {
		if len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth enabled without apiKeys or jwtSecret"))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.apiKeys[%d].key is empty", i))
			}
		}
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwtSecret must be at least %d bytes", MinJWTSecretLength))
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxRequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rateLimit.maxRequestsPerMinute must be positive"))
	}
	switch c.Archive.Driver {
	case "":
	case "mysql", "postgres":
		if c.Archive.DSN == "" {
			errs = append(errs, errors.New("archive.dsn is required when archive.driver is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q must be mysql or postgres", c.Archive.Driver))
	}
	for _, f := range c.Export.Formats {
		if f != "json" && f != "csv" {
			errs = append(errs, fmt.Errorf("export format %q not supported", f))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

func (c *Config) TTL() time.Duration { return time.Duration(c.Cache.TTLMinutes) * time.Minute }

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Cache.RefreshIntervalMinutes) * time.Minute
}

func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Cache.EngineTimeoutMinutes) * time.Minute
}

// RefreshOnStart defaults to true when unset.
func (c *Config) RefreshOnStart() bool {
	return c.Cache.RefreshOnStart == nil || *c.Cache.RefreshOnStart
}

// MinioEnabled reports whether export uploads are configured.
func (c *Config) MinioEnabled() bool {
	return c.Export.Minio.Endpoint != "" && c.Export.Minio.BucketName != ""
}

// AuthDisabled is true when every request is granted full access.
func (c *Config) AuthDisabled() bool { return !c.Auth.Enabled }
