package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration shared by the client and the
// dev backend.
type Config struct {
	APIBaseURL string
	UserAgent  string
	CADir      string

	IdentityURL     string
	IdentityAnonKey string

	StorageDir    string
	MasterKeyPath string

	LogLevel string
	LogFile  string

	DevAddr         string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
	RedisURL        string
}

// configFile mirrors the YAML layout of config.yaml.
type configFile struct {
	API struct {
		BaseURL   string `yaml:"base_url"`
		UserAgent string `yaml:"user_agent"`
		CADir     string `yaml:"ca_dir"`
	} `yaml:"api"`
	Identity struct {
		URL     string `yaml:"url"`
		AnonKey string `yaml:"anon_key"`
	} `yaml:"identity"`
	Storage struct {
		Dir           string `yaml:"dir"`
		MasterKeyPath string `yaml:"master_key_path"`
	} `yaml:"storage"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	DevServer struct {
		Addr                  string `yaml:"addr"`
		JWTSecret             string `yaml:"jwt_secret"`
		AccessTokenTTLSeconds int    `yaml:"access_token_ttl_seconds"`
		RefreshTokenTTLHours  int    `yaml:"refresh_token_ttl_hours"`
		OTPTTLSeconds         int    `yaml:"otp_ttl_seconds"`
		RedisURL              string `yaml:"redis_url"`
	} `yaml:"devserver"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	home := AppHome()
	return Config{
		APIBaseURL:      "http://localhost:8081",
		UserAgent:       "civicreport-client/1",
		StorageDir:      filepath.Join(home, "secure"),
		MasterKeyPath:   filepath.Join(home, "master.key"),
		LogLevel:        "info",
		DevAddr:         ":8081",
		JWTSecret:       "dev-only-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		OTPTTL:          5 * time.Minute,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// An empty path or a missing file skips the file layer.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			applyFile(&cfg, f)
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.IdentityURL == "" {
		cfg.IdentityURL = cfg.APIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields every command depends on.
func (c Config) Validate() error {
	for name, raw := range map[string]string{"api base url": c.APIBaseURL, "identity url": c.IdentityURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}
	if c.StorageDir == "" {
		return errors.New("storage dir must not be empty")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.OTPTTL <= 0 {
		return errors.New("token and otp ttls must be positive")
	}
	return nil
}

func applyFile(cfg *Config, f configFile) {
	setString(&cfg.APIBaseURL, f.API.BaseURL)
	setString(&cfg.UserAgent, f.API.UserAgent)
	setString(&cfg.CADir, f.API.CADir)
	setString(&cfg.IdentityURL, f.Identity.URL)
	setString(&cfg.IdentityAnonKey, f.Identity.AnonKey)
	setString(&cfg.StorageDir, f.Storage.Dir)
	setString(&cfg.MasterKeyPath, f.Storage.MasterKeyPath)
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFile, f.Log.File)
	setString(&cfg.DevAddr, f.DevServer.Addr)
	setString(&cfg.JWTSecret, f.DevServer.JWTSecret)
	setString(&cfg.RedisURL, f.DevServer.RedisURL)
	if f.DevServer.AccessTokenTTLSeconds > 0 {
		cfg.AccessTokenTTL = time.Duration(f.DevServer.AccessTokenTTLSeconds) * time.Second
	}
	if f.DevServer.RefreshTokenTTLHours > 0 {
		cfg.RefreshTokenTTL = time.Duration(f.DevServer.RefreshTokenTTLHours) * time.Hour
	}
	if f.DevServer.OTPTTLSeconds > 0 {
		cfg.OTPTTL = time.Duration(f.DevServer.OTPTTLSeconds) * time.Second
	}
}

func applyEnv(cfg *Config) {
	cfg.APIBaseURL = envOrDefault("CIVIC_API_BASE_URL", cfg.APIBaseURL)
	cfg.UserAgent = envOrDefault("CIVIC_USER_AGENT", cfg.UserAgent)
	cfg.CADir = envOrDefault("CIVIC_CA_DIR", cfg.CADir)
	cfg.IdentityURL = envOrDefault("CIVIC_IDENTITY_URL", cfg.IdentityURL)
	cfg.IdentityAnonKey = envOrDefault("CIVIC_IDENTITY_ANON_KEY", cfg.IdentityAnonKey)
	cfg.StorageDir = envOrDefault("CIVIC_STORAGE_DIR", cfg.StorageDir)
	cfg.MasterKeyPath = envOrDefault("CIVIC_MASTER_KEY_PATH", cfg.MasterKeyPath)
	cfg.LogLevel = strings.ToLower(envOrDefault("CIVIC_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = envOrDefault("CIVIC_LOG_FILE", cfg.LogFile)
	cfg.DevAddr = envOrDefault("CIVIC_DEV_ADDR", cfg.DevAddr)
	cfg.JWTSecret = envOrDefault("CIVIC_JWT_SECRET", cfg.JWTSecret)
	cfg.RedisURL = envOrDefault("CIVIC_REDIS_URL", cfg.RedisURL)

	cfg.AccessTokenTTL = time.Duration(envInt("CIVIC_ACCESS_TOKEN_TTL_SECONDS", int(cfg.AccessTokenTTL.Seconds()))) * time.Second
	cfg.RefreshTokenTTL = time.Duration(envInt("CIVIC_REFRESH_TOKEN_TTL_HOURS", int(cfg.RefreshTokenTTL.Hours()))) * time.Hour
	cfg.OTPTTL = time.Duration(envInt("CIVIC_OTP_TTL_SECONDS", int(cfg.OTPTTL.Seconds()))) * time.Second
}

// AppHome is ~/.civicreport, or a temp dir fallback when $HOME is unknown.
func AppHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".civicreport")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
