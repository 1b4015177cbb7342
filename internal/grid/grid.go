// Package grid computes the cell layout of a week or month calendar view.
// It knows nothing about events.
package grid

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeCurrentMonth  Mode = "currentMonth"
	ModeLastMonth     Mode = "lastMonth"
	ModeNextMonth     Mode = "nextMonth"
	ModeCurrentWeek   Mode = "currentWeek"
	ModeOneWeek       Mode = "oneWeek"
	ModeNextOneWeek   Mode = "nextOneWeek"
	ModeTwoWeeks      Mode = "twoWeeks"
	ModeThreeWeeks    Mode = "threeWeeks"
	ModeFourWeeks     Mode = "fourWeeks"
	ModeNextFourWeeks Mode = "nextFourWeeks"
)

var modes = []Mode{
	ModeCurrentMonth, ModeLastMonth, ModeNextMonth,
	ModeCurrentWeek, ModeOneWeek, ModeNextOneWeek,
	ModeTwoWeeks, ModeThreeWeeks, ModeFourWeeks, ModeNextFourWeeks,
}

// weekModeExtraDays is the number of days after the first cell that a
// week-based mode covers.
var weekModeExtraDays = map[Mode]int{
	ModeCurrentWeek:   0,
	ModeOneWeek:       0,
	ModeNextOneWeek:   0,
	ModeTwoWeeks:      7,
	ModeThreeWeeks:    14,
	ModeFourWeeks:     21,
	ModeNextFourWeeks: 21,
}

const maxWeeks = 6

// ConfigurationError reports an unrecognized option value. The caller gets
// the documented fallback together with the error and can keep rendering.
type ConfigurationError struct {
	Option   string
	Value    string
	Fallback string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unrecognized %s %q, using %q", e.Option, e.Value, e.Fallback)
}

// ParseMode matches s case-insensitively. Unknown modes fall back to the
// month-based layout.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for _, m := range modes {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return ModeCurrentMonth, &ConfigurationError{Option: "mode", Value: s, Fallback: string(ModeCurrentMonth)}
}

func (m Mode) IsWeekBased() bool {
	_, ok := weekModeExtraDays[m]
	return ok
}

// FirstDay is the configured first column of the grid: a fixed weekday, or
// whatever weekday it is today.
type FirstDay struct {
	Weekday time.Weekday
	Today   bool
}

// ParseFirstDay accepts sunday..saturday or today, case-insensitively.
// Anything else means no rotation (sunday).
func ParseFirstDay(s string) (FirstDay, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "today") {
		return FirstDay{Today: true}, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return FirstDay{Weekday: d}, nil
		}
	}
	return FirstDay{Weekday: time.Sunday}, &ConfigurationError{Option: "first_day_of_week", Value: s, Fallback: "sunday"}
}

func (f FirstDay) Resolve(now time.Time) time.Weekday {
	if f.Today {
		return now.Weekday()
	}
	return f.Weekday
}

func (f FirstDay) String() string {
	if f.Today {
		return "today"
	}
	return strings.ToLower(f.Weekday.String())
}

type Options struct {
	Mode           Mode
	FirstDay       FirstDay
	ShowWeekNumber bool
}

// Cell is one day slot of the grid.
type Cell struct {
	Date time.Time `json:"date"`

	// Index is the day number relative to the month the grid is anchored on:
	// 1 is the 1st, 0 the last day of the previous month, and so on.
	Index     int `json:"index"`
	WeekIndex int `json:"week_index"`
	DayIndex  int `json:"day_index"`

	IsCurrentMonth bool `json:"is_current_month"`
	IsToday        bool `json:"is_today"`
	IsPast         bool `json:"is_past"`

	// ShowMonthLabel marks cells whose day label should include the month:
	// the top-left cell and every 1st.
	ShowMonthLabel bool `json:"show_month_label"`
}

type Week struct {
	// Number is the week number, or 0 when week numbers are disabled.
	Number int    `json:"number,omitempty"`
	Cells  []Cell `json:"cells"`
}

type Grid struct {
	Mode     Mode            `json:"mode"`
	Weekdays [7]time.Weekday `json:"weekdays"`
	Weeks    []Week          `json:"weeks"`

	// MonthStart is the 1st of the month the cell indexes are relative to.
	MonthStart time.Time `json:"month_start"`

	// PeriodStart and PeriodEnd bound the days that receive events. Month
	// modes cover the target month; week modes cover every cell.
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Calculate lays out the grid for opts around now. All dates are in now's
// location.
func Calculate(opts Options, now time.Time) Grid {
	loc := now.Location()
	today := now.Day()
	offset := int(opts.FirstDay.Resolve(now))

	year, month := now.Year(), now.Month()
	var first, last int

	if extra, ok := weekModeExtraDays[opts.Mode]; ok {
		first = today - int(now.Weekday()) + offset
		for first > today {
			first -= 7
		}
		last = first + extra
	} else {
		switch opts.Mode {
		case ModeLastMonth:
			month--
		case ModeNextMonth:
			month++
		}
		// Shift from the 1st so e.g. Jan 31 + 1 month never overflows into March.
		shifted := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		year, month = shifted.Year(), shifted.Month()

		first = 1 - int(shifted.Weekday()) + offset
		for first > 1 {
			first -= 7
		}
		last = daysIn(year, month, loc)
	}

	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	monthDays := daysIn(year, month, loc)
	flagged := opts.Mode != ModeLastMonth && opts.Mode != ModeNextMonth

	g := Grid{
		Mode:       opts.Mode,
		MonthStart: monthStart,
	}
	for i := range g.Weekdays {
		g.Weekdays[i] = time.Weekday((offset + i) % 7)
	}

	idx := first
	for week := 0; week < maxWeeks && idx <= last; week++ {
		w := Week{Cells: make([]Cell, 0, 7)}
		for day := 0; day < 7; day, idx = day+1, idx+1 {
			date := time.Date(year, month, idx, 0, 0, 0, 0, loc)
			inMonth := idx >= 1 && idx <= monthDays

			c := Cell{
				Date:           date,
				Index:          idx,
				WeekIndex:      week,
				DayIndex:       day,
				IsCurrentMonth: inMonth,
				ShowMonthLabel: (week == 0 && day == 0) || date.Day() == 1,
			}
			switch {
			case !flagged:
			case idx == today:
				c.IsToday = true
			case !inMonth && opts.Mode == ModeCurrentMonth:
				// other-month cell: never marked past
			case idx < today:
				c.IsPast = true
			}
			w.Cells = append(w.Cells, c)
		}
		if opts.ShowWeekNumber {
			w.Number = WeekNumber(w.Cells[0].Date)
		}
		g.Weeks = append(g.Weeks, w)
	}

	if opts.Mode.IsWeekBased() {
		g.PeriodStart = time.Date(year, month, first, 0, 0, 0, 0, loc)
		g.PeriodEnd = time.Date(year, month, idx-1, 23, 59, 59, 0, loc)
	} else {
		g.PeriodStart = monthStart
		g.PeriodEnd = time.Date(year, month, monthDays, 23, 59, 59, 0, loc)
	}

	return g
}

// Cells returns all cells in row-major order.
func (g Grid) Cells() []Cell {
	out := make([]Cell, 0, len(g.Weeks)*7)
	for _, w := range g.Weeks {
		out = append(out, w.Cells...)
	}
	return out
}

// Span returns the date of the first cell and the midnight after the last
// cell. An empty grid returns zero times.
func (g Grid) Span() (time.Time, time.Time) {
	if len(g.Weeks) == 0 {
		return time.Time{}, time.Time{}
	}
	last := g.Weeks[len(g.Weeks)-1].Cells
	return g.Weeks[0].Cells[0].Date, last[len(last)-1].Date.AddDate(0, 0, 1)
}

// Position maps a calendar day to its row-major cell position. It reports
// false for days outside the period or without a cell.
func (g Grid) Position(day time.Time) (int, bool) {
	if len(g.Weeks) == 0 {
		return 0, false
	}
	day = day.In(g.MonthStart.Location())
	if civilDay(day) < civilDay(g.PeriodStart) || civilDay(day) > civilDay(g.PeriodEnd) {
		return 0, false
	}
	pos := civilDay(day) - civilDay(g.Weeks[0].Cells[0].Date)
	if pos < 0 || pos >= len(g.Weeks)*7 {
		return 0, false
	}
	return pos, true
}

// WeekNumber returns the ISO-8601 week of the Thursday belonging to the
// Sunday-started week that contains d.
func WeekNumber(d time.Time) int {
	thursday := time.Date(d.Year(), d.Month(), d.Day()+4-int(d.Weekday()), 12, 0, 0, 0, d.Location())
	_, week := thursday.ISOWeek()
	return week
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// civilDay numbers calendar days independent of DST and location offsets.
func civilDay(t time.Time) int {
	return int(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
