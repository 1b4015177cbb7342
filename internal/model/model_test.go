package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMillis_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  Millis
	}{
		{name: "number", input: `{"startDate": 1710460800000}`, want: "1710460800000"},
		{name: "numeric string", input: `{"startDate": "1710460800000"}`, want: "1710460800000"},
		{name: "padded string", input: `{"startDate": " 42 "}`, want: "42"},
		{name: "null", input: `{"startDate": null}`, want: ""},
		{name: "missing", input: `{}`, want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var raw RawEvent
			require.NoError(t, json.Unmarshal([]byte(tc.input), &raw))
			assert.Equal(t, tc.want, raw.StartDate)
		})
	}
}

func TestMillis_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(RawEvent{Title: "x", StartDate: "1000", EndDate: "oops"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x","startDate":1000,"endDate":"oops","fullDayEvent":false}`, string(b))
}

func TestDeriveID_IsDeterministic(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	a := DeriveID("Standup", start, end)
	b := DeriveID("Standup", start.In(time.FixedZone("X", 3600)), end)
	assert.Equal(t, a, b, "same instant in another zone must give the same id")

	assert.NotEqual(t, a, DeriveID("Standup ", start, end))
	assert.NotEqual(t, a, DeriveID("Standup", start, end.Add(time.Millisecond)))
	assert.NotEqual(t, a, DeriveID("Standup", start.Add(time.Millisecond), end))
}

func TestEvent_Equal(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	base := Event{
		ID:           DeriveID("A", start, start.Add(time.Hour)),
		Title:        "A",
		Start:        start,
		End:          start.Add(time.Hour),
		CalendarName: "work",
		SourceID:     "s1",
		Symbols:      []string{"calendar"},
	}

	same := base
	same.Start = start.In(time.FixedZone("Y", -7200))
	same.Symbols = []string{"calendar"}
	assert.True(t, base.Equal(same))

	recolored := base.WithColor("#fff")
	assert.False(t, base.Equal(recolored))
	assert.Empty(t, base.Color, "WithColor must not touch the receiver")

	noSymbols := base
	noSymbols.Symbols = nil
	assert.False(t, base.Equal(noSymbols))

	assert.True(t, Event{}.Equal(Event{Symbols: []string{}}))
}

func TestEventsEqual(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	a := Event{Title: "A", Start: start, End: start}
	b := Event{Title: "B", Start: start, End: start}

	assert.True(t, EventsEqual(nil, []Event{}))
	assert.True(t, EventsEqual([]Event{a, b}, []Event{a, b}))
	assert.False(t, EventsEqual([]Event{a, b}, []Event{b, a}))
	assert.False(t, EventsEqual([]Event{a}, []Event{a, b}))
}
