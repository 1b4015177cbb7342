package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monthcal/internal/grid"
)

const sampleYAML = `
listen: 0.0.0.0:9000
timezone: Europe/Berlin
refresh: "@every 5m"
calendar:
  mode: currentWeek
  first_day_of_week: monday
  wrap_titles: true
  hide_calendars: [private]
ics:
  - id: family
    url: https://calendar.example.com/family.ics
    symbol: [home]
    color: "#00ff00"
  - url: https://calendar.example.com/other.ics
google:
  - id: work
    api_key: secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Equal(t, "currentMonth", cfg.Calendar.Mode)
	assert.True(t, cfg.Calendar.DisplayTime)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Calendar, again.Calendar)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "@every 5m", cfg.Refresh)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())

	assert.Equal(t, "currentWeek", cfg.Calendar.Mode)
	assert.Equal(t, "monday", cfg.Calendar.FirstDayOfWeek)
	assert.True(t, cfg.Calendar.WrapTitles)
	assert.True(t, cfg.Calendar.DisplayTime, "unset booleans keep their default")
	assert.Equal(t, []string{"private"}, cfg.Calendar.HideCalendars)
	assert.Equal(t, 100, cfg.Calendar.CellHeightPixels)

	require.Len(t, cfg.ICS, 2)
	assert.Equal(t, "family", cfg.ICS[0].ID)
	assert.Equal(t, []string{"home"}, cfg.ICS[0].Symbol)
	assert.Equal(t, "ics-2", cfg.ICS[1].ID)

	require.Len(t, cfg.Google, 1)
	assert.Equal(t, "primary", cfg.Google[0].CalendarID)
	assert.Equal(t, "secret", cfg.Google[0].APIKey)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("MONTHCAL_LISTEN", "127.0.0.1:7000")
	t.Setenv("MONTHCAL_CALENDAR__MODE", "twoWeeks")
	t.Setenv("MONTHCAL_CALENDAR__SHOW_WEEK_NUMBER", "true")
	t.Setenv("MONTHCAL_CALENDAR__HIDE_CALENDARS", "a, b,")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "twoWeeks", cfg.Calendar.Mode)
	assert.True(t, cfg.Calendar.ShowWeekNumber)
	assert.Equal(t, []string{"a", "b"}, cfg.Calendar.HideCalendars)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "listen: [unclosed"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestNormalize_FallsBackOnUnknownValues(t *testing.T) {
	cfg := &Config{
		Timezone: "Mars/Olympus_Mons",
		Calendar: CalendarConfig{
			Mode:           "fortnight",
			FirstDayOfWeek: "someday",
			TimeFormat:     13,
		},
	}
	cfg.Normalize()

	assert.Equal(t, "currentMonth", cfg.Calendar.Mode)
	assert.Equal(t, "sunday", cfg.Calendar.FirstDayOfWeek)
	assert.Equal(t, 24, cfg.Calendar.TimeFormat)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.Equal(t, time.Local, cfg.Location())
	assert.Equal(t, 5*time.Second, cfg.Debounce())
	assert.Equal(t, "rgba(100,100,100,1.0)", cfg.Calendar.DuplicateEventColor)
}

func TestViewOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calendar.Mode = "fourweeks"
	cfg.Calendar.FirstDayOfWeek = "Today"
	cfg.Calendar.TimeFormat = 12
	cfg.Normalize()

	opts := cfg.ViewOptions()
	assert.Equal(t, grid.ModeFourWeeks, opts.Grid.Mode)
	assert.True(t, opts.Grid.FirstDay.Today)
	assert.Equal(t, 4, opts.Capacity)
	assert.Equal(t, 12, opts.Place.TimeFormat)
	assert.True(t, opts.Place.DisplayTime)
	assert.InDelta(t, 110, opts.Place.LuminanceThreshold, 0.001)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{{ID: "family", URL: "https://calendar.example.com/family.ics"}}
	cfg.BasicAuth = BasicAuthConfig{Username: "admin", Password: "pw"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ICS, loaded.ICS)
	assert.True(t, loaded.BasicAuth.Enabled())
	assert.Equal(t, "pw", loaded.BasicAuth.Password)
}

func TestLoad_LuminanceThreshold(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want float64
	}{
		{"unset keeps default", "listen: 127.0.0.1:9000\n", 110},
		{"zero is kept", "calendar:\n  luminance_threshold: 0\n", 0},
		{"negative falls back", "calendar:\n  luminance_threshold: -3\n", 110},
		{"custom", "calendar:\n  luminance_threshold: 150.5\n", 150.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.body))
			require.NoError(t, err)
			assert.InDelta(t, tc.want, cfg.Calendar.LuminanceThreshold, 0.001)
			assert.InDelta(t, tc.want, cfg.ViewOptions().Place.LuminanceThreshold, 0.001)
		})
	}
}
