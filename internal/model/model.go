package model

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// eventNamespace scopes derived event ids. Any fixed UUID works; changing it
// changes every id.
var eventNamespace = uuid.MustParse("6f1c7c1e-3f0a-4c55-9a2e-5b8f7d8e2a41")

// Millis is an epoch-milliseconds timestamp as delivered by a source. It is
// kept as text because upstreams send either JSON numbers or numeric strings.
type Millis string

// MillisOf formats t as epoch milliseconds.
func MillisOf(t time.Time) Millis {
	return Millis(strconv.FormatInt(t.UnixMilli(), 10))
}

// UnmarshalJSON accepts 1700000000000 as well as "1700000000000".
func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*m = Millis(strings.TrimSpace(s))
		return nil
	}
	*m = Millis(b)
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(m), 10, 64); err != nil {
		return []byte(strconv.Quote(string(m))), nil
	}
	return []byte(m), nil
}

// RawEvent is one event record exactly as a source delivers it, before
// normalization.
type RawEvent struct {
	Title        string   `json:"title"`
	StartDate    Millis   `json:"startDate"`
	EndDate      Millis   `json:"endDate"`
	FullDayEvent bool     `json:"fullDayEvent"`
	CalendarName string   `json:"calendarName,omitempty"` // "" means absent
	Symbol       []string `json:"symbol,omitempty"`
	Color        string   `json:"color,omitempty"`
}

// Event is the canonical, normalized event used by the whole pipeline.
type Event struct {
	// ID is derived from (Title, Start, End); see DeriveID.
	ID uuid.UUID

	Title        string
	Start        time.Time
	End          time.Time
	FullDay      bool
	CalendarName string
	SourceID     string

	// Color is empty when the event has no color of its own.
	Color   string
	Symbols []string
}

// DeriveID computes the logical identity of an event. Two events with the
// same title and the same start/end instants share an id, whatever their
// source.
func DeriveID(title string, start, end time.Time) uuid.UUID {
	name := title + "\x00" + strconv.FormatInt(start.UnixMilli(), 10) + "\x00" + strconv.FormatInt(end.UnixMilli(), 10)
	return uuid.NewSHA1(eventNamespace, []byte(name))
}

// WithColor returns a copy of e carrying color. Symbols are copied too so the
// result never aliases the original.
func (e Event) WithColor(color string) Event {
	out := e
	out.Color = color
	out.Symbols = append([]string(nil), e.Symbols...)
	return out
}

// Equal reports whether e and o are structurally identical. Instants are
// compared with time.Time.Equal, so the same instant in two locations is equal.
func (e Event) Equal(o Event) bool {
	return e.ID == o.ID &&
		e.Title == o.Title &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End) &&
		e.FullDay == o.FullDay &&
		e.CalendarName == o.CalendarName &&
		e.SourceID == o.SourceID &&
		e.Color == o.Color &&
		stringsEqual(e.Symbols, o.Symbols)
}

// EventsEqual compares two ordered event lists element by element.
func EventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// stringsEqual treats nil and empty as equal.
func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
