package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"agenda/internal/model"
)

// CalendarConfig describes one calendar: its display metadata, an optional
// ICS subscription and optional inline events.
type CalendarConfig struct {
	// ID is the calendar identity; events refer to it via calendar_id.
	ID string `yaml:"id" json:"id"`
	// Name is the label shown next to the visibility checkbox.
	Name string `yaml:"name" json:"name"`
	// Color is a display token (CSS color) for the calendar's events.
	Color string `yaml:"color" json:"color"`
	// URL is an optional ICS subscription endpoint.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Events are inline events owned by this calendar. Their calendar_id
	// may be left empty.
	Events []model.Event `yaml:"events,omitempty" json:"events,omitempty"`
}

// Calendar returns the model view of c.
func (c CalendarConfig) Calendar() model.Calendar {
	return model.Calendar{ID: c.ID, Name: c.Name, Color: c.Color}
}

// colorRe accepts hex colors, named colors and rgb()/rgba()/hsl()/hsla()/
// var() forms with plain arguments.
var colorRe = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]+|(rgb|rgba|hsl|hsla)\([0-9.,%\s/a-z]*\)|var\(--[a-zA-Z0-9_-]+\))$`)

// ValidColor reports whether s is a CSS color value safe to place in a
// style attribute.
func ValidColor(s string) bool {
	return colorRe.MatchString(s)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines the local calendar. Event
	// timestamps from ICS feeds are converted into it before their date is
	// taken.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects weekday labels (BCP 47, e.g. "pt-BR").
	Locale string `yaml:"locale" json:"locale"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-fetching calendars and events.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFile, if set, enables rotated file logging.
	LogFile string `yaml:"log_file,omitempty" json:"log_file,omitempty"`

	// CacheDir holds per-feed ICS bodies and HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// FetchTimeoutSec bounds a single ICS HTTP request.
	FetchTimeoutSec int `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
	// MaxConcurrentFetches bounds parallel ICS requests.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" json:"max_concurrent_fetches"`
	// FetchRetries is the number of attempts per ICS request.
	FetchRetries uint `yaml:"fetch_retries" json:"fetch_retries"`
	// FetchRetryDelayMs is the base backoff between attempts.
	FetchRetryDelayMs int `yaml:"fetch_retry_delay_ms" json:"fetch_retry_delay_ms"`

	// Calendars is the calendar set, in display order.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultLocale       = "en"
	defaultRefreshCron  = "*/15 * * * *"
	defaultLogLevel     = "info"
	defaultCacheDir     = "/var/lib/agenda/ics-cache"
	defaultFetchTimeout = 15
	defaultConcurrency  = 4
	defaultRetries      = 3
	defaultRetryDelayMs = 500
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               defaultListen,
		Timezone:             defaultTimezone,
		Locale:               defaultLocale,
		RefreshCron:          defaultRefreshCron,
		LogLevel:             defaultLogLevel,
		CacheDir:             defaultCacheDir,
		FetchTimeoutSec:      defaultFetchTimeout,
		MaxConcurrentFetches: defaultConcurrency,
		FetchRetries:         defaultRetries,
		FetchRetryDelayMs:    defaultRetryDelayMs,
		Calendars: []CalendarConfig{
			{ID: "personal", Name: "Personal", Color: "#1e88e5"},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.FetchTimeoutSec <= 0 {
		c.FetchTimeoutSec = defaultFetchTimeout
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = defaultConcurrency
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = defaultRetries
	}
	if c.FetchRetryDelayMs <= 0 {
		c.FetchRetryDelayMs = defaultRetryDelayMs
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		cal := &c.Calendars[i]
		if cal.Name == "" {
			cal.Name = cal.ID
		}
		for j := range cal.Events {
			if cal.Events[j].CalendarID == "" {
				cal.Events[j].CalendarID = cal.ID
			}
		}
	}
}

// Validate reports configuration that cannot be normalized away.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		if cal.ID == "" {
			return fmt.Errorf("config: calendars[%d]: id is empty", i)
		}
		if seen[cal.ID] {
			return fmt.Errorf("config: calendars[%d]: duplicate id %q", i, cal.ID)
		}
		seen[cal.ID] = true
		if cal.Color != "" && !ValidColor(cal.Color) {
			return fmt.Errorf("config: calendars[%d]: invalid color %q", i, cal.Color)
		}
	}
	return nil
}

// RetryDelay returns FetchRetryDelayMs as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.FetchRetryDelayMs) * time.Millisecond
}

// Location returns the configured display zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".agenda-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
