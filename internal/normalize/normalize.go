// Package normalize turns raw source records into canonical model.Event values.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"monthcal/internal/model"
)

// NormalizationError reports a record that could not be normalized. Only the
// offending record is dropped; the rest of its batch proceeds.
type NormalizationError struct {
	SourceID string
	Title    string
	Field    string
	Value    string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: source %q event %q: %s=%q: %v", e.SourceID, e.Title, e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

var (
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrEndBeforeStart   = errors.New("end is before start")
)

// Normalize converts one raw record from sourceID into an Event whose
// instants are expressed in loc.
//
// Full-day events end one second before the nominal next-day boundary so they
// never spill into the following cell. Their start moves forward by one hour,
// or, when the adjusted end is now before the start, snaps to 01:00 on the end
// date.
func Normalize(sourceID string, raw model.RawEvent, loc *time.Location) (model.Event, error) {
	if loc == nil {
		loc = time.Local
	}

	start, err := parseMillis(raw.StartDate, loc)
	if err != nil {
		return model.Event{}, &NormalizationError{SourceID: sourceID, Title: raw.Title, Field: "startDate", Value: string(raw.StartDate), Err: err}
	}
	end, err := parseMillis(raw.EndDate, loc)
	if err != nil {
		return model.Event{}, &NormalizationError{SourceID: sourceID, Title: raw.Title, Field: "endDate", Value: string(raw.EndDate), Err: err}
	}

	if raw.FullDayEvent {
		end = end.Add(-time.Second)
		if start.After(end) {
			start = time.Date(end.Year(), end.Month(), end.Day(), 1, 0, 0, 0, loc)
		} else {
			start = start.Add(time.Hour)
		}
	} else if end.Before(start) {
		return model.Event{}, &NormalizationError{SourceID: sourceID, Title: raw.Title, Field: "endDate", Value: string(raw.EndDate), Err: ErrEndBeforeStart}
	}

	return model.Event{
		ID:           model.DeriveID(raw.Title, start, end),
		Title:        raw.Title,
		Start:        start,
		End:          end,
		FullDay:      raw.FullDayEvent,
		CalendarName: raw.CalendarName,
		SourceID:     sourceID,
		Color:        raw.Color,
		Symbols:      slices.Clone(raw.Symbol),
	}, nil
}

// Batch normalizes a whole source batch. Records without a calendar name or
// whose calendar is in hide are filtered out. Records that fail to normalize
// are dropped and their errors returned alongside the surviving events.
func Batch(sourceID string, raws []model.RawEvent, hide []string, loc *time.Location) ([]model.Event, []error) {
	events := make([]model.Event, 0, len(raws))
	var errs []error

	for _, raw := range raws {
		if raw.CalendarName == "" || slices.Contains(hide, raw.CalendarName) {
			continue
		}
		ev, err := Normalize(sourceID, raw, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}

	return events, errs
}

func parseMillis(m model.Millis, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(string(m))
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some feeds send floats such as "1710460800000.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, err
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).In(loc), nil
}
