package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "monthcal/internal/log"
	"monthcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

type ExpandConfig struct {
	// DisplayLocation is where all-day dates are pinned to local midnight.
	// Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// Occurrence is one concrete instance of a (possibly recurring) VEVENT.
type Occurrence struct {
	UID     string
	Summary string
	Color   string
	AllDay  bool
	Start   time.Time
	End     time.Time
}

// Raw converts the occurrence into the record shape the normalizer expects.
// All-day occurrences keep the feed convention of an exclusive end at the
// next local midnight.
func (o Occurrence) Raw(src Source, calendarName string) model.RawEvent {
	color := o.Color
	if color == "" {
		color = src.Color
	}
	return model.RawEvent{
		Title:        o.Summary,
		StartDate:    model.MillisOf(o.Start),
		EndDate:      model.MillisOf(o.End),
		FullDayEvent: o.AllDay,
		CalendarName: calendarName,
		Symbol:       slices.Clone(src.Symbol),
		Color:        color,
	}
}

type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed events into the concrete occurrences inside
// the configured range. It applies RRULE, EXDATE and RECURRENCE-ID overrides
// and drops cancelled instances. The result is ordered by start.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			truncated = truncated || hitCap
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	slices.SortStableFunc(result.Occurrences, func(a, b Occurrence) int {
		return a.Start.Compare(b.Start)
	})
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if ev.Cancelled {
		return nil
	}
	occ := makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)
	if !timeRangesOverlap(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []Occurrence{occ}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.Cancelled {
		return nil, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so instances that started
	// before the range but are still running are included.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, occStart := range starts {
		inst := ev
		instStart, instEnd := occStart, occStart.Add(dur)

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if o.Cancelled {
				continue
			}
			inst, instStart, instEnd = o, o.Start, o.End
		}

		occ := makeOccurrence(inst, instStart, instEnd, cfg.DisplayLocation)
		if timeRangesOverlap(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, occ)
		}
	}

	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the given
// instance start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence pins all-day instances to midnight in displayLoc, keeping
// their length in days. Timed instances keep their instants.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) Occurrence {
	occ := Occurrence{
		UID:     ev.UID,
		Summary: ev.Summary,
		Color:   ev.Color,
		AllDay:  ev.AllDay,
		Start:   start.In(displayLoc),
		End:     end.In(displayLoc),
	}
	if ev.AllDay {
		days := max(civilDays(start, end), 1)
		occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		occ.End = occ.Start.AddDate(0, 0, days)
	}
	return occ
}

func civilDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
