package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monthcal/internal/model"
)

func ms(t time.Time) model.Millis {
	return model.MillisOf(t)
}

func TestNormalize_TimedEvent(t *testing.T) {
	loc := time.UTC
	start := time.Date(2024, 3, 15, 9, 30, 0, 0, loc)
	end := start.Add(90 * time.Minute)

	ev, err := Normalize("src", model.RawEvent{
		Title:        "Standup",
		StartDate:    ms(start),
		EndDate:      ms(end),
		CalendarName: "work",
		Symbol:       []string{"users"},
		Color:        "#ff0000",
	}, loc)
	require.NoError(t, err)

	assert.True(t, ev.Start.Equal(start))
	assert.True(t, ev.End.Equal(end))
	assert.False(t, ev.FullDay)
	assert.Equal(t, "src", ev.SourceID)
	assert.Equal(t, "work", ev.CalendarName)
	assert.Equal(t, "#ff0000", ev.Color)
	assert.Equal(t, []string{"users"}, ev.Symbols)
	assert.Equal(t, model.DeriveID("Standup", start, end), ev.ID)
}

func TestNormalize_FullDayEvent(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, loc)

	testCases := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "single day, end at next midnight",
			start:     day,
			end:       day.AddDate(0, 0, 1),
			wantStart: day.Add(time.Hour),
			wantEnd:   day.AddDate(0, 0, 1).Add(-time.Second),
		},
		{
			name:      "three days",
			start:     day,
			end:       day.AddDate(0, 0, 3),
			wantStart: day.Add(time.Hour),
			wantEnd:   day.AddDate(0, 0, 3).Add(-time.Second),
		},
		{
			name:      "start equals end snaps start to 01:00 of the end date",
			start:     day,
			end:       day,
			wantStart: time.Date(2024, 3, 14, 1, 0, 0, 0, loc),
			wantEnd:   day.Add(-time.Second),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Normalize("src", model.RawEvent{
				Title:        "Holiday",
				StartDate:    ms(tc.start),
				EndDate:      ms(tc.end),
				FullDayEvent: true,
				CalendarName: "home",
			}, loc)
			require.NoError(t, err)
			assert.True(t, ev.FullDay)
			assert.Truef(t, ev.Start.Equal(tc.wantStart), "start = %s, want %s", ev.Start, tc.wantStart)
			assert.Truef(t, ev.End.Equal(tc.wantEnd), "end = %s, want %s", ev.End, tc.wantEnd)
			assert.False(t, ev.Start.After(ev.End))
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		raw       model.RawEvent
		wantField string
		wantErr   error
	}{
		{
			name:      "missing start",
			raw:       model.RawEvent{Title: "x", EndDate: ms(now)},
			wantField: "startDate",
			wantErr:   ErrMissingTimestamp,
		},
		{
			name:      "malformed end",
			raw:       model.RawEvent{Title: "x", StartDate: ms(now), EndDate: "tomorrow"},
			wantField: "endDate",
		},
		{
			name:      "timed event ending before it starts",
			raw:       model.RawEvent{Title: "x", StartDate: ms(now), EndDate: ms(now.Add(-time.Minute))},
			wantField: "endDate",
			wantErr:   ErrEndBeforeStart,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize("src", tc.raw, time.UTC)
			require.Error(t, err)

			var nerr *NormalizationError
			require.True(t, errors.As(err, &nerr))
			assert.Equal(t, tc.wantField, nerr.Field)
			assert.Equal(t, "src", nerr.SourceID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestNormalize_AcceptsFloatMillis(t *testing.T) {
	ev, err := Normalize("src", model.RawEvent{Title: "x", StartDate: "1710460800000.0", EndDate: "1710464400000"}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(1710460800000), ev.Start.UnixMilli())
}

func TestBatch_FiltersAndIsolatesFailures(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	raws := []model.RawEvent{
		{Title: "ok", StartDate: ms(now), EndDate: ms(now.Add(time.Hour)), CalendarName: "work"},
		{Title: "no calendar", StartDate: ms(now), EndDate: ms(now.Add(time.Hour))},
		{Title: "hidden", StartDate: ms(now), EndDate: ms(now.Add(time.Hour)), CalendarName: "private"},
		{Title: "broken", StartDate: "abc", EndDate: ms(now), CalendarName: "work"},
		{Title: "ok too", StartDate: ms(now.Add(time.Hour)), EndDate: ms(now.Add(2 * time.Hour)), CalendarName: "home"},
	}

	events, errs := Batch("src", raws, []string{"private"}, time.UTC)

	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Title)
	assert.Equal(t, "ok too", events[1].Title)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken")
}
