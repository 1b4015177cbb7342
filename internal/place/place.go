// Package place maps events onto grid cells and enforces per-cell capacity.
package place

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"

	"monthcal/internal/grid"
	"monthcal/internal/model"
)

const (
	// eventChrome is the vertical space an entry needs besides its font:
	// 1px margin plus 4px of border.
	eventChrome = 1 + 4

	OverflowTitle = "   · · ·"

	DefaultLuminanceThreshold = 110
)

type Options struct {
	DisplayTime        bool
	DisplaySymbol      bool
	WrapTitles         bool
	LuminanceThreshold float64
	// TimeFormat is 12 or 24.
	TimeFormat int
}

// Entry is one render-ready line inside a cell.
type Entry struct {
	EventID         string   `json:"event_id,omitempty"`
	TimeLabel       string   `json:"time_label,omitempty"`
	SymbolLabels    []string `json:"symbol_labels,omitempty"`
	Title           string   `json:"title"`
	TextColor       string   `json:"text_color,omitempty"`
	BackgroundColor string   `json:"background_color,omitempty"`
	FullDay         bool     `json:"full_day,omitempty"`
	NoWrap          bool     `json:"no_wrap,omitempty"`
	Overflow        bool     `json:"overflow"`
}

// Capacity is how many entries fit in a cell of the given pixel height.
func Capacity(cellHeightPixels, fontSizePixels int) int {
	per := fontSizePixels + eventChrome
	if per <= 0 || cellHeightPixels <= 0 {
		return 0
	}
	return cellHeightPixels / per
}

// Place returns, for every cell of g in row-major order, the entries of the
// events touching that day. An event contributes one entry per whole day from
// its start date through its end date, but only for days inside the grid's
// period. Events keep their input order within a cell.
func Place(events []model.Event, g grid.Grid, opts Options) [][]Entry {
	cells := make([][]Entry, len(g.Weeks)*7)
	loc := g.MonthStart.Location()

	for _, ev := range events {
		start, end := ev.Start.In(loc), ev.End.In(loc)
		// Only the days inside the period can receive entries.
		firstDay, lastDay := midnight(start), midnight(end)
		if periodStart := midnight(g.PeriodStart.In(loc)); firstDay.Before(periodStart) {
			firstDay = periodStart
		}
		if periodEnd := midnight(g.PeriodEnd.In(loc)); lastDay.After(periodEnd) {
			lastDay = periodEnd
		}
		var entry *Entry

		for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
			pos, ok := g.Position(day)
			if !ok {
				continue
			}
			if entry == nil {
				e := newEntry(ev, start, opts)
				entry = &e
			}
			cells[pos] = append(cells[pos], *entry)
		}
	}

	return cells
}

// Collapse applies the overflow policy for a cell holding capacity entries.
// When everything fits, all entries render. Otherwise the first capacity-1
// render followed by one overflow marker.
func Collapse(entries []Entry, capacity int) []Entry {
	if len(entries) <= capacity {
		return entries
	}
	keep := max(capacity-1, 0)
	out := make([]Entry, 0, keep+1)
	out = append(out, entries[:keep]...)
	return append(out, Entry{Title: OverflowTitle, Overflow: true})
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func newEntry(ev model.Event, start time.Time, opts Options) Entry {
	e := Entry{
		EventID: ev.ID.String(),
		Title:   ev.Title,
		FullDay: ev.FullDay,
		NoWrap:  !opts.WrapTitles,
	}
	if !ev.FullDay && opts.DisplayTime {
		e.TimeLabel = FormatTime(start.Hour(), start.Minute(), opts.TimeFormat)
	}
	if opts.DisplaySymbol && len(ev.Symbols) > 0 {
		e.SymbolLabels = slices.Clone(ev.Symbols)
	}
	if ev.Color != "" {
		if ev.FullDay {
			e.BackgroundColor = ev.Color
			if Luminance(ev.Color) >= opts.LuminanceThreshold {
				e.TextColor = "black"
			}
		} else {
			e.TextColor = ev.Color
		}
	}
	return e
}

// FormatTime renders "9:05" in 24h mode, "9am" or "9:05pm" in 12h mode.
func FormatTime(hour, minute, format int) string {
	if format == 12 {
		h := hour % 12
		if h == 0 {
			h = 12
		}
		suffix := "pm"
		if hour < 12 {
			suffix = "am"
		}
		if minute > 0 {
			return fmt.Sprintf("%d:%02d%s", h, minute, suffix)
		}
		return strconv.Itoa(h) + suffix
	}
	return fmt.Sprintf("%d:%02d", hour, minute)
}

var numberRe = regexp.MustCompile(`[0-9.]+`)

// Luminance returns the perceptual luminance 0.299R+0.587G+0.114B (0..255)
// of a #rgb, #rrggbb or rgb()/rgba() color. Unparseable colors yield 0.
func Luminance(color string) float64 {
	s := strings.TrimSpace(color)
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return 0
		}
		r, g, b := c.RGB255()
		return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	}

	parts := numberRe.FindAllString(s, 3)
	if len(parts) < 3 {
		return 0
	}
	var rgb [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0
		}
		rgb[i] = v
	}
	return 0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]
}
