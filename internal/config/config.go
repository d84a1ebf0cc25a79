package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIConfig describes how the CLI talks to the schedule backend.
type APIConfig struct {
	// BaseURL is the backend origin, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url"`
	// CSRFCookie is the cookie whose value is echoed in X-CSRF-Token.
	CSRFCookie string `yaml:"csrf_cookie"`
	// TimeoutSeconds bounds a single HTTP attempt.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Retries is the number of retries after the first attempt.
	Retries int `yaml:"retries"`
	// SessionFile stores session cookies between CLI invocations.
	SessionFile string `yaml:"session_file"`
}

// HolidayConfig configures the third-party public holiday source.
type HolidayConfig struct {
	BaseURL  string `yaml:"base_url"`
	CacheDir string `yaml:"cache_dir"`
}

// ServerConfig configures the backend served by `worksched serve`.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	DBPath         string `yaml:"db_path"`
	JWTSecret      string `yaml:"jwt_secret"`
	AccessMinutes  int    `yaml:"access_minutes"`
	RefreshMinutes int    `yaml:"refresh_minutes"`
	SecureCookies  bool   `yaml:"secure_cookies"`
	FrontendOrigin string `yaml:"frontend_origin"`
	// MachineAPIKey guards the token login used by scheduled jobs.
	MachineAPIKey string `yaml:"machine_api_key"`
}

// SMTPConfig is optional; without a host reminders are only logged.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ReminderConfig drives the missing-schedule reminder job.
type ReminderConfig struct {
	// Cron is a 5-field cron expression.
	Cron string `yaml:"cron"`
	// BusinessDays is how many business days into the month reminders start.
	BusinessDays int        `yaml:"business_days"`
	Email        string     `yaml:"email"`
	Password     string     `yaml:"password"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used to pick "this month".
	Timezone string         `yaml:"timezone"`
	LogLevel string         `yaml:"log_level"`
	API      APIConfig      `yaml:"api"`
	Holidays HolidayConfig  `yaml:"holidays"`
	Server   ServerConfig   `yaml:"server"`
	Reminder ReminderConfig `yaml:"reminder"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone: "Asia/Tokyo",
		LogLevel: "info",
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8000",
			CSRFCookie:     "csrf_token",
			TimeoutSeconds: 10,
			Retries:        3,
			SessionFile:    defaultSessionFile(),
		},
		Holidays: HolidayConfig{
			BaseURL:  "https://holidays-jp.github.io",
			CacheDir: "./var/holiday-cache",
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8000",
			DBPath:         "worksched.db",
			AccessMinutes:  15,
			RefreshMinutes: 60 * 24 * 7,
			FrontendOrigin: "http://localhost:5173",
		},
		Reminder: ReminderConfig{
			Cron:         "0 9 * * 1-5",
			BusinessDays: 3,
			SMTP:         SMTPConfig{Port: 587},
		},
	}
}

func defaultSessionFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "worksched", "session.json")
	}
	return ".worksched-session.json"
}

// Normalize fills in missing/zero values so partially-filled files still work.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.CSRFCookie == "" {
		c.API.CSRFCookie = def.API.CSRFCookie
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.API.Retries < 0 {
		c.API.Retries = 0
	}
	if c.API.SessionFile == "" {
		c.API.SessionFile = def.API.SessionFile
	}

	c.Holidays.BaseURL = strings.TrimRight(c.Holidays.BaseURL, "/")
	if c.Holidays.BaseURL == "" {
		c.Holidays.BaseURL = def.Holidays.BaseURL
	}
	if c.Holidays.CacheDir == "" {
		c.Holidays.CacheDir = def.Holidays.CacheDir
	}

	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = def.Server.DBPath
	}
	if c.Server.AccessMinutes <= 0 {
		c.Server.AccessMinutes = def.Server.AccessMinutes
	}
	if c.Server.RefreshMinutes <= 0 {
		c.Server.RefreshMinutes = def.Server.RefreshMinutes
	}

	if c.Reminder.Cron == "" {
		c.Reminder.Cron = def.Reminder.Cron
	}
	if c.Reminder.BusinessDays <= 0 {
		c.Reminder.BusinessDays = def.Reminder.BusinessDays
	}
	if c.Reminder.SMTP.Port <= 0 {
		c.Reminder.SMTP.Port = def.Reminder.SMTP.Port
	}
}

// Timeout returns the per-attempt API timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - A ".env" next to the config (and in the working directory) is loaded first;
//     variables already set in the environment win.
//   - If the file does not exist a default config is written with 0600 perms.
//   - WORKSCHED_* environment variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				applyEnv(cfg)
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	cfg.Normalize()

	return &cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(p)
	}
}

func applyEnv(c *Config) {
	if v, ok := os.LookupEnv("WORKSCHED_API_BASE_URL"); ok {
		c.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := os.LookupEnv("WORKSCHED_JWT_SECRET"); ok {
		c.Server.JWTSecret = v
	}
	if v, ok := os.LookupEnv("WORKSCHED_DB_PATH"); ok {
		c.Server.DBPath = v
	}
	if v, ok := os.LookupEnv("WORKSCHED_LISTEN"); ok {
		c.Server.Listen = v
	}
	if v, ok := os.LookupEnv("WORKSCHED_MACHINE_API_KEY"); ok {
		c.Server.MachineAPIKey = v
	}
	if v, ok := os.LookupEnv("WORKSCHED_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".worksched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// String returns a summary with secrets masked.
func (c *Config) String() string {
	secret := "(unset)"
	if c.Server.JWTSecret != "" {
		secret = "*** (masked) ***"
	}
	return fmt.Sprintf("Config{API: %s, Holidays: %s, Listen: %s, DB: %s, JWT: %s, TZ: %s}",
		c.API.BaseURL, c.Holidays.BaseURL, c.Server.Listen, c.Server.DBPath, secret, c.Timezone)
}
