package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/labreport/internal/securestore"
	"github.com/soaringjerry/labreport/internal/utils"
)

const (
	DefaultAddr       = ":8080"
	DefaultSQLitePath = "./data/labreport.db"
	DefaultCipher     = "aes-gcm"
	DefaultSessionTTL = 2 * time.Hour
	DefaultLLMModel   = "gpt-4o-mini"
)

type LLM struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Addr          string        `yaml:"addr"`
	Env           string        `yaml:"env"`
	LogLevel      string        `yaml:"log_level"`
	SQLitePath    string        `yaml:"sqlite_path"`
	MigrationsDir string        `yaml:"migrations_dir"`
	StaticDir     string        `yaml:"static_dir"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	JWTSecret     string        `yaml:"jwt_secret"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
	Cipher        string        `yaml:"cipher"`
	ContactKey    string        `yaml:"contact_key"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	LLM           LLM           `yaml:"llm"`
	Commit        string        `yaml:"-"`
	BuildTime     string        `yaml:"-"`
}

func Default() Config {
	return Config{
		Addr:          DefaultAddr,
		Env:           "production",
		LogLevel:      "info",
		SQLitePath:    DefaultSQLitePath,
		Cipher:        DefaultCipher,
		SessionTTL:    DefaultSessionTTL,
		SweepInterval: time.Minute,
		LLM:           LLM{Model: DefaultLLMModel, Timeout: 30 * time.Second},
	}
}

// Load reads the optional YAML file named by LABREPORT_CONFIG and then
// applies LABREPORT_* environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := utils.SafeEnv("LABREPORT_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = utils.SafeEnv("LABREPORT_ADDR", c.Addr)
	c.Env = utils.SafeEnv("LABREPORT_ENV", c.Env)
	c.LogLevel = utils.SafeEnv("LABREPORT_LOG_LEVEL", c.LogLevel)
	c.SQLitePath = utils.SafeEnv("LABREPORT_SQLITE_PATH", c.SQLitePath)
	c.MigrationsDir = utils.SafeEnv("LABREPORT_MIGRATIONS_DIR", c.MigrationsDir)
	c.StaticDir = utils.SafeEnv("LABREPORT_STATIC_DIR", c.StaticDir)
	c.JWTSecret = utils.SafeEnv("LABREPORT_JWT_SECRET", c.JWTSecret)
	c.AdminEmail = utils.SafeEnv("LABREPORT_ADMIN_EMAIL", c.AdminEmail)
	c.AdminPassword = utils.SafeEnv("LABREPORT_ADMIN_PASSWORD", c.AdminPassword)
	c.Cipher = utils.SafeEnv("LABREPORT_CIPHER", c.Cipher)
	c.ContactKey = utils.SafeEnv("LABREPORT_CONTACT_KEY", c.ContactKey)
	c.LLM.BaseURL = utils.SafeEnv("LABREPORT_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = utils.SafeEnv("LABREPORT_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = utils.SafeEnv("LABREPORT_LLM_MODEL", c.LLM.Model)
	c.Commit = utils.SafeEnv("LABREPORT_COMMIT", c.Commit)
	c.BuildTime = utils.SafeEnv("LABREPORT_BUILD_TIME", c.BuildTime)
	if origins := utils.SafeEnv("LABREPORT_CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}

	var err error
	if c.SessionTTL, err = utils.SafeEnvDuration("LABREPORT_SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.SweepInterval, err = utils.SafeEnvDuration("LABREPORT_SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	if c.LLM.Timeout, err = utils.SafeEnvDuration("LABREPORT_LLM_TIMEOUT", c.LLM.Timeout); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if strings.TrimSpace(c.SQLitePath) == "" {
		errs = append(errs, errors.New("sqlite_path is required"))
	}
	if p, err := securestore.ProviderByName(c.Cipher); err != nil {
		errs = append(errs, fmt.Errorf("cipher: %w", err))
	} else if c.ContactKey != "" {
		if _, err := securestore.New(p, nil).ImportKey(strings.TrimSpace(c.ContactKey)); err != nil {
			errs = append(errs, fmt.Errorf("contact_key: %w", err))
		}
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 bytes"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("admin_email and admin_password must be set together"))
	}
	return errors.Join(errs...)
}

// AdminEnabled reports whether admin routes can issue tokens.
func (c Config) AdminEnabled() bool {
	return c.JWTSecret != ""
}
