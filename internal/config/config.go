package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"monthcal/internal/dedup"
	"monthcal/internal/grid"
	appLog "monthcal/internal/log"
	"monthcal/internal/place"
	"monthcal/internal/view"
)

// EnvPrefix prefixes environment overrides. Nesting uses a double
// underscore: MONTHCAL_CALENDAR__MODE=currentWeek sets calendar.mode.
const EnvPrefix = "MONTHCAL_"

// ICSConfig describes a single ICS subscription.
type ICSConfig struct {
	ID   string `yaml:"id" koanf:"id" json:"id"`
	Name string `yaml:"name,omitempty" koanf:"name" json:"name,omitempty"`
	URL  string `yaml:"url" koanf:"url" json:"url"`

	Symbol []string `yaml:"symbol,omitempty" koanf:"symbol" json:"symbol,omitempty"`
	Color  string   `yaml:"color,omitempty" koanf:"color" json:"color,omitempty"`
}

// GoogleConfig describes a Google Calendar read through the API, with either
// a service account key file or an API key.
type GoogleConfig struct {
	ID              string `yaml:"id" koanf:"id" json:"id"`
	Name            string `yaml:"name,omitempty" koanf:"name" json:"name,omitempty"`
	CalendarID      string `yaml:"calendar_id" koanf:"calendar_id" json:"calendar_id"`
	CredentialsFile string `yaml:"credentials_file,omitempty" koanf:"credentials_file" json:"-"`
	APIKey          string `yaml:"api_key,omitempty" koanf:"api_key" json:"-"`

	Symbol []string `yaml:"symbol,omitempty" koanf:"symbol" json:"symbol,omitempty"`
	Color  string   `yaml:"color,omitempty" koanf:"color" json:"color,omitempty"`
}

// BasicAuthConfig enables HTTP Basic Auth on everything except /health when
// Username is set.
type BasicAuthConfig struct {
	Username string `yaml:"username,omitempty" koanf:"username" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" koanf:"password" json:"-"`
}

func (b BasicAuthConfig) Enabled() bool {
	return b.Username != ""
}

// CalendarConfig is the view option set.
type CalendarConfig struct {
	Mode           string `yaml:"mode" koanf:"mode" json:"mode"`
	FirstDayOfWeek string `yaml:"first_day_of_week" koanf:"first_day_of_week" json:"first_day_of_week"`
	ShowWeekNumber bool   `yaml:"show_week_number" koanf:"show_week_number" json:"show_week_number"`
	DisplaySymbol  bool   `yaml:"display_symbol" koanf:"display_symbol" json:"display_symbol"`
	WrapTitles     bool   `yaml:"wrap_titles" koanf:"wrap_titles" json:"wrap_titles"`

	// HideCalendars lists calendar names whose events are dropped.
	HideCalendars []string `yaml:"hide_calendars" koanf:"hide_calendars" json:"hide_calendars"`

	LuminanceThreshold float64 `yaml:"luminance_threshold" koanf:"luminance_threshold" json:"luminance_threshold"`
	DisplayTime        bool    `yaml:"display_time" koanf:"display_time" json:"display_time"`
	// TimeFormat is 24 or 12.
	TimeFormat int `yaml:"time_format" koanf:"time_format" json:"time_format"`

	CellHeightPixels int `yaml:"cell_height_pixels" koanf:"cell_height_pixels" json:"cell_height_pixels"`
	FontSizePixels   int `yaml:"font_size_pixels" koanf:"font_size_pixels" json:"font_size_pixels"`

	DuplicateEventColor string `yaml:"duplicate_event_color" koanf:"duplicate_event_color" json:"duplicate_event_color"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" koanf:"listen" json:"listen"`

	// Timezone is the IANA zone all dates are laid out in; "Local" uses the
	// host zone.
	Timezone string `yaml:"timezone" koanf:"timezone" json:"timezone"`

	// Refresh is a cron spec (e.g. "*/15 * * * *" or "@every 10m").
	Refresh string `yaml:"refresh" koanf:"refresh" json:"refresh"`

	HorizonDays     int    `yaml:"horizon_days" koanf:"horizon_days" json:"horizon_days"`
	BackfillDays    int    `yaml:"backfill_days" koanf:"backfill_days" json:"backfill_days"`
	DebounceSeconds int    `yaml:"debounce_seconds" koanf:"debounce_seconds" json:"debounce_seconds"`
	CacheDir        string `yaml:"cache_dir" koanf:"cache_dir" json:"cache_dir"`
	LogLevel        string `yaml:"log_level" koanf:"log_level" json:"log_level"`

	Calendar CalendarConfig `yaml:"calendar" koanf:"calendar" json:"calendar"`

	ICS    []ICSConfig    `yaml:"ics" koanf:"ics" json:"ics"`
	Google []GoogleConfig `yaml:"google" koanf:"google" json:"google"`

	BasicAuth BasicAuthConfig `yaml:"basic_auth,omitempty" koanf:"basic_auth" json:"basic_auth"`

	loc *time.Location
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "Local",
		Refresh:         "*/15 * * * *",
		HorizonDays:     42,
		BackfillDays:    7,
		DebounceSeconds: 5,
		CacheDir:        "/var/lib/monthcal/ics-cache",
		LogLevel:        "info",
		Calendar: CalendarConfig{
			Mode:                string(grid.ModeCurrentMonth),
			FirstDayOfWeek:      "sunday",
			HideCalendars:       []string{},
			LuminanceThreshold:  place.DefaultLuminanceThreshold,
			DisplayTime:         true,
			TimeFormat:          24,
			CellHeightPixels:    100,
			FontSizePixels:      16,
			DuplicateEventColor: dedup.DefaultDuplicateColor,
		},
		ICS:    []ICSConfig{},
		Google: []GoogleConfig{},
	}
}

// Normalize fills zero values with defaults and validates enum options. An
// unknown mode or first day is logged and replaced by its documented
// fallback; it never fails the load.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Warn("config: unknown timezone, using host zone", "timezone", c.Timezone, "error", err)
		c.Timezone = "Local"
		loc = time.Local
	}
	c.loc = loc

	if c.Refresh == "" {
		c.Refresh = def.Refresh
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.DebounceSeconds <= 0 {
		c.DebounceSeconds = def.DebounceSeconds
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	cal := &c.Calendar
	mode, err := grid.ParseMode(cal.Mode)
	if err != nil {
		appLog.Warn("config: invalid option", "error", err)
	}
	cal.Mode = string(mode)

	firstDay, err := grid.ParseFirstDay(cal.FirstDayOfWeek)
	if err != nil {
		appLog.Warn("config: invalid option", "error", err)
	}
	cal.FirstDayOfWeek = firstDay.String()

	// 0 is a valid threshold: always black text.
	if cal.LuminanceThreshold < 0 {
		cal.LuminanceThreshold = def.Calendar.LuminanceThreshold
	}
	if cal.TimeFormat != 12 {
		cal.TimeFormat = 24
	}
	if cal.CellHeightPixels <= 0 {
		cal.CellHeightPixels = def.Calendar.CellHeightPixels
	}
	if cal.FontSizePixels <= 0 {
		cal.FontSizePixels = def.Calendar.FontSizePixels
	}
	if cal.DuplicateEventColor == "" {
		cal.DuplicateEventColor = def.Calendar.DuplicateEventColor
	}
	if cal.HideCalendars == nil {
		cal.HideCalendars = []string{}
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.Google == nil {
		c.Google = []GoogleConfig{}
	}
	for i := range c.Google {
		if c.Google[i].ID == "" {
			c.Google[i].ID = fmt.Sprintf("google-%d", i+1)
		}
		if c.Google[i].CalendarID == "" {
			c.Google[i].CalendarID = "primary"
		}
	}
}

// Location is the resolved Timezone. Valid after Normalize.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// ViewOptions maps the calendar options onto the layout packages. Enum
// values were validated by Normalize, so parse errors cannot occur here.
func (c *Config) ViewOptions() view.Options {
	mode, _ := grid.ParseMode(c.Calendar.Mode)
	firstDay, _ := grid.ParseFirstDay(c.Calendar.FirstDayOfWeek)
	return view.Options{
		Grid: grid.Options{
			Mode:           mode,
			FirstDay:       firstDay,
			ShowWeekNumber: c.Calendar.ShowWeekNumber,
		},
		Place: place.Options{
			DisplayTime:        c.Calendar.DisplayTime,
			DisplaySymbol:      c.Calendar.DisplaySymbol,
			WrapTitles:         c.Calendar.WrapTitles,
			LuminanceThreshold: c.Calendar.LuminanceThreshold,
			TimeFormat:         c.Calendar.TimeFormat,
		},
		Capacity: place.Capacity(c.Calendar.CellHeightPixels, c.Calendar.FontSizePixels),
	}
}

// Load builds the configuration from three layers, later ones winning:
// defaults, the YAML file at path, and MONTHCAL_* environment variables.
//
// A missing file is created with the defaults (0600) on first run.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		appLog.Info("config file not found, writing defaults", "path", path)
		if err := Save(path, DefaultConfig()); err != nil {
			appLog.Error("config: first-run save failed", err, "path", path)
		}
	} else {
		appLog.Info("loaded configuration", "path", path)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// envKey maps MONTHCAL_CALENDAR__HIDE_CALENDARS=a,b to
// calendar.hide_calendars=[a b].
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if strings.HasSuffix(k, "hide_calendars") {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return k, out
	}
	return k, v
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".monthcal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
