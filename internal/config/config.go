package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeBackend = "backend"
	ModeDirect  = "direct"

	FormatPDF      = "pdf"
	FormatMarkdown = "markdown"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// batch starts per client per minute
		BatchRateLimit int      `yaml:"batchRateLimit"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	// Mode chooses where analysis, history and status come from.
	Mode string `yaml:"mode"`

	API struct {
		Host     string        `yaml:"host"`
		BasePath string        `yaml:"basePath"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	AI struct {
		Mode string `yaml:"mode"`
		VLLM struct {
			BaseURL string `yaml:"baseURL"`
			Model   string `yaml:"model"`
		} `yaml:"vllm"`
		OpenAI struct {
			APIKey  string `yaml:"apiKey"`
			BaseURL string `yaml:"baseURL"`
			Model   string `yaml:"model"`
		} `yaml:"openai"`
	} `yaml:"ai"`

	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Cache struct {
		Enabled  bool   `yaml:"enabled"`
		RedisURL string `yaml:"redisURL"`
		TTLHours int    `yaml:"ttlHours"`
	} `yaml:"cache"`

	Export struct {
		Format   string        `yaml:"format"`
		Dir      string        `yaml:"dir"`
		Interval time.Duration `yaml:"interval"`
		Minio    struct {
			Enabled    bool   `yaml:"enabled"`
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
		} `yaml:"minio"`
	} `yaml:"export"`

	Refresh struct {
		StatusInterval   time.Duration `yaml:"statusInterval"`
		AnalyzedInterval time.Duration `yaml:"analyzedInterval"`
	} `yaml:"refresh"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	var c Config
	c.Server.Port = 8090
	c.Server.BatchRateLimit = 10
	c.Server.AllowedOrigins = []string{"*"}
	c.Mode = ModeBackend
	c.API.Host = "http://localhost:8000"
	c.API.BasePath = "/api"
	c.API.Timeout = 120 * time.Second
	c.AI.Mode = "mixed"
	c.AI.VLLM.BaseURL = "http://vllm:8000/v1"
	c.AI.VLLM.Model = "meta-llama/Meta-Llama-3-8B-Instruct"
	c.AI.OpenAI.BaseURL = "https://api.openai.com/v1"
	c.AI.OpenAI.Model = "gpt-4"
	c.Database.Driver = "mysql"
	c.Database.Port = 3306
	c.Cache.Enabled = true
	c.Cache.TTLHours = 24
	c.Export.Format = FormatPDF
	c.Export.Dir = "exports"
	c.Export.Interval = 500 * time.Millisecond
	c.Refresh.StatusInterval = 30 * time.Second
	c.Refresh.AnalyzedInterval = 30 * time.Second
	c.Log.Level = "info"
	c.Log.Format = "json"
	return &c
}

// Load baca file config.yaml, lalu env override. File yang tidak ada bukan error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("API_BASE_URL"); v != "" {
		if u, err := url.Parse(v); err == nil && u.Scheme != "" && u.Host != "" {
			c.API.Host = u.Scheme + "://" + u.Host
			c.API.BasePath = u.Path
		} else {
			c.API.BasePath = v
		}
	}
	if v := getenv("EXPORT_FORMAT"); v != "" {
		c.Export.Format = strings.ToLower(v)
	}
	if v := getenv("AI_MODE"); v != "" {
		c.AI.Mode = strings.ToLower(v)
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.AI.OpenAI.APIKey = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeBackend, ModeDirect:
	default:
		return fmt.Errorf("invalid mode %q (allowed: backend, direct)", c.Mode)
	}
	switch c.Export.Format {
	case FormatPDF, FormatMarkdown:
	default:
		return fmt.Errorf("invalid export format %q (allowed: pdf, markdown)", c.Export.Format)
	}
	switch c.AI.Mode {
	case "local", "external", "mixed":
	default:
		return fmt.Errorf("invalid ai mode %q (allowed: local, external, mixed)", c.AI.Mode)
	}
	if c.Mode == ModeDirect {
		switch c.Database.Driver {
		case "mysql", "postgres":
		default:
			return fmt.Errorf("invalid database driver %q (allowed: mysql, postgres)", c.Database.Driver)
		}
	}
	return nil
}

// BaseURL is the absolute base for every backend call.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.API.Host, "/") + "/" + strings.Trim(c.API.BasePath, "/")
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
