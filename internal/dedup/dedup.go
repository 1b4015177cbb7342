// Package dedup collapses logically identical events coming from several
// calendars.
//
// An event reported twice by the same calendar (for example after a re-fetch)
// is redundant and dropped silently. An event copied into two different
// calendars renders once; the first-seen instance is recolored so the user can
// tell it lives in more than one calendar.
package dedup

import (
	"github.com/google/uuid"

	"monthcal/internal/model"
)

// DefaultDuplicateColor is a mid-gray.
const DefaultDuplicateColor = "rgba(100,100,100,1.0)"

type Deduplicator struct {
	DuplicateColor string
}

// Result is the deduplicated event list in first-occurrence order.
type Result struct {
	Events []model.Event

	// CrossCalendar counts events dropped because another calendar already
	// had them; SameCalendar counts repeats within one calendar.
	CrossCalendar int
	SameCalendar  int
}

// Get returns the stored event with the given id.
func (r Result) Get(id uuid.UUID) (model.Event, bool) {
	for _, e := range r.Events {
		if e.ID == id {
			return e, true
		}
	}
	return model.Event{}, false
}

// Run deduplicates events, which must already be sorted by start instant.
// The first occurrence always wins. The input slice is not modified.
func (d Deduplicator) Run(events []model.Event) Result {
	color := d.DuplicateColor
	if color == "" {
		color = DefaultDuplicateColor
	}

	var res Result
	seen := make(map[uuid.UUID]int) // id -> position in res.Events
	perCalendar := make(map[string]map[uuid.UUID]struct{})

	for _, ev := range events {
		calSet, ok := perCalendar[ev.CalendarName]
		if !ok {
			calSet = make(map[uuid.UUID]struct{})
			perCalendar[ev.CalendarName] = calSet
		}

		if pos, dup := seen[ev.ID]; dup {
			if _, sameCal := calSet[ev.ID]; sameCal {
				res.SameCalendar++
				continue
			}
			res.Events[pos] = res.Events[pos].WithColor(color)
			calSet[ev.ID] = struct{}{}
			res.CrossCalendar++
			continue
		}

		seen[ev.ID] = len(res.Events)
		calSet[ev.ID] = struct{}{}
		res.Events = append(res.Events, ev)
	}

	return res
}
