// Package view composes grid layout, event placement and overflow collapse
// into the structure handed to the rendering shell.
package view

import (
	"time"

	"monthcal/internal/coalesce"
	"monthcal/internal/grid"
	"monthcal/internal/model"
	"monthcal/internal/place"
)

type Options struct {
	Grid  grid.Options
	Place place.Options

	// Capacity is the number of entry lines a cell can hold.
	Capacity int
}

type Cell struct {
	grid.Cell
	Entries []place.Entry `json:"entries"`

	// Hidden counts events folded into the overflow marker.
	Hidden int `json:"hidden,omitempty"`
}

type Week struct {
	Number int    `json:"number,omitempty"`
	Cells  []Cell `json:"cells"`
}

type View struct {
	Mode        grid.Mode `json:"mode"`
	Weekdays    []string  `json:"weekdays"`
	Weeks       []Week    `json:"weeks"`
	MonthStart  time.Time `json:"month_start"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Capacity    int       `json:"capacity"`
	EventCount  int       `json:"event_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Build lays out the grid around now and fills it with the events of st.
// A nil state renders an empty grid.
func Build(st *coalesce.State, opts Options, now time.Time) View {
	var events []model.Event
	if st != nil {
		events = st.Events
	}

	g := grid.Calculate(opts.Grid, now)
	placed := place.Place(events, g, opts.Place)

	v := View{
		Mode:        g.Mode,
		Weekdays:    make([]string, 0, len(g.Weekdays)),
		Weeks:       make([]Week, 0, len(g.Weeks)),
		MonthStart:  g.MonthStart,
		PeriodStart: g.PeriodStart,
		PeriodEnd:   g.PeriodEnd,
		Capacity:    opts.Capacity,
		EventCount:  len(events),
		GeneratedAt: now,
	}
	for _, d := range g.Weekdays {
		v.Weekdays = append(v.Weekdays, d.String())
	}

	pos := 0
	for _, w := range g.Weeks {
		week := Week{Number: w.Number, Cells: make([]Cell, 0, len(w.Cells))}
		for _, c := range w.Cells {
			all := placed[pos]
			shown := place.Collapse(all, opts.Capacity)
			cell := Cell{Cell: c, Entries: shown}
			if cell.Entries == nil {
				cell.Entries = []place.Entry{}
			}
			if len(all) > opts.Capacity {
				cell.Hidden = len(all) - (len(shown) - 1)
			}
			week.Cells = append(week.Cells, cell)
			pos++
		}
		v.Weeks = append(v.Weeks, week)
	}

	return v
}
