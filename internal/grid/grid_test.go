package grid

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 14, 30, 0, 0, time.UTC)
}

func sunday() FirstDay { return FirstDay{Weekday: time.Sunday} }
func monday() FirstDay { return FirstDay{Weekday: time.Monday} }

func findCell(t *testing.T, g Grid, d time.Time) Cell {
	t.Helper()
	for _, c := range g.Cells() {
		if c.Date.Equal(d) {
			return c
		}
	}
	t.Fatalf("no cell for %s", d.Format(time.DateOnly))
	return Cell{}
}

func TestCalculate_CurrentMonthSundayFirst(t *testing.T) {
	g := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: sunday()}, at(2024, 3, 15))

	cells := g.Cells()
	require.Len(t, g.Weeks, 6)
	require.Len(t, cells, 42)
	assert.Equal(t, date(2024, 2, 25), cells[0].Date)
	assert.Equal(t, date(2024, 4, 6), cells[len(cells)-1].Date)
	assert.Equal(t, time.Saturday, cells[len(cells)-1].Date.Weekday())
	assert.Equal(t, -3, cells[0].Index)

	assert.Equal(t, date(2024, 3, 1), g.PeriodStart)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC), g.PeriodEnd)
	assert.Equal(t, [7]time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}, g.Weekdays)

	other := findCell(t, g, date(2024, 2, 25))
	assert.False(t, other.IsCurrentMonth)
	assert.False(t, other.IsPast, "other-month cells are not flagged past")
	assert.True(t, other.ShowMonthLabel)

	first := findCell(t, g, date(2024, 3, 1))
	assert.True(t, first.IsCurrentMonth)
	assert.True(t, first.IsPast)
	assert.True(t, first.ShowMonthLabel)

	today := findCell(t, g, date(2024, 3, 15))
	assert.True(t, today.IsToday)
	assert.False(t, today.IsPast)
	assert.Equal(t, 2, today.WeekIndex)
	assert.Equal(t, 5, today.DayIndex)

	future := findCell(t, g, date(2024, 3, 16))
	assert.False(t, future.IsPast)
	assert.False(t, future.IsToday)
	assert.False(t, future.ShowMonthLabel)

	april := findCell(t, g, date(2024, 4, 1))
	assert.False(t, april.IsCurrentMonth)
	assert.True(t, april.ShowMonthLabel)
}

func TestCalculate_CurrentMonthMondayFirst(t *testing.T) {
	g := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: monday()}, at(2024, 3, 15))

	cells := g.Cells()
	require.Len(t, g.Weeks, 5)
	assert.Equal(t, date(2024, 2, 26), cells[0].Date)
	assert.Equal(t, date(2024, 3, 31), cells[len(cells)-1].Date)
	assert.Equal(t, time.Monday, g.Weekdays[0])
	assert.Equal(t, time.Sunday, g.Weekdays[6])
}

func TestCalculate_WeekModes(t *testing.T) {
	testCases := []struct {
		name      string
		mode      Mode
		firstDay  FirstDay
		now       time.Time
		wantFirst time.Time
		wantLast  time.Time
		wantWeeks int
	}{
		{name: "one week sunday", mode: ModeOneWeek, firstDay: sunday(), now: at(2024, 3, 15), wantFirst: date(2024, 3, 10), wantLast: date(2024, 3, 16), wantWeeks: 1},
		{name: "current week monday", mode: ModeCurrentWeek, firstDay: monday(), now: at(2024, 3, 15), wantFirst: date(2024, 3, 11), wantLast: date(2024, 3, 17), wantWeeks: 1},
		{name: "monday first on a sunday walks back", mode: ModeOneWeek, firstDay: monday(), now: at(2024, 3, 17), wantFirst: date(2024, 3, 11), wantLast: date(2024, 3, 17), wantWeeks: 1},
		{name: "two weeks", mode: ModeTwoWeeks, firstDay: monday(), now: at(2024, 3, 15), wantFirst: date(2024, 3, 11), wantLast: date(2024, 3, 24), wantWeeks: 2},
		{name: "three weeks", mode: ModeThreeWeeks, firstDay: sunday(), now: at(2024, 3, 15), wantFirst: date(2024, 3, 10), wantLast: date(2024, 3, 30), wantWeeks: 3},
		{name: "four weeks across month end", mode: ModeFourWeeks, firstDay: sunday(), now: at(2024, 3, 28), wantFirst: date(2024, 3, 24), wantLast: date(2024, 4, 20), wantWeeks: 4},
		{name: "next four weeks", mode: ModeNextFourWeeks, firstDay: sunday(), now: at(2024, 3, 28), wantFirst: date(2024, 3, 24), wantLast: date(2024, 4, 20), wantWeeks: 4},
		{name: "first day today", mode: ModeOneWeek, firstDay: FirstDay{Today: true}, now: at(2024, 3, 15), wantFirst: date(2024, 3, 15), wantLast: date(2024, 3, 21), wantWeeks: 1},
		{name: "week crossing into previous month", mode: ModeOneWeek, firstDay: sunday(), now: at(2024, 3, 2), wantFirst: date(2024, 2, 25), wantLast: date(2024, 3, 2), wantWeeks: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := Calculate(Options{Mode: tc.mode, FirstDay: tc.firstDay}, tc.now)
			cells := g.Cells()

			require.Len(t, g.Weeks, tc.wantWeeks)
			assert.Equal(t, tc.wantFirst, cells[0].Date)
			assert.Equal(t, tc.wantLast, cells[len(cells)-1].Date)
			assert.Equal(t, tc.wantFirst, g.PeriodStart)
			assert.Equal(t, tc.wantLast.Add(24*time.Hour-time.Second), g.PeriodEnd)
		})
	}
}

func TestCalculate_WeekModeFlags(t *testing.T) {
	g := Calculate(Options{Mode: ModeOneWeek, FirstDay: sunday()}, at(2024, 3, 2))

	prev := findCell(t, g, date(2024, 2, 28))
	assert.False(t, prev.IsCurrentMonth)
	assert.True(t, prev.IsPast, "week modes flag previous-month days as past")

	today := findCell(t, g, date(2024, 3, 2))
	assert.True(t, today.IsToday)
}

func TestCalculate_LastAndNextMonthHaveNoFlags(t *testing.T) {
	testCases := []struct {
		name      string
		mode      Mode
		now       time.Time
		wantMonth time.Time
		wantFirst time.Time
	}{
		{name: "last month", mode: ModeLastMonth, now: at(2024, 3, 31), wantMonth: date(2024, 2, 1), wantFirst: date(2024, 1, 28)},
		{name: "next month from the 31st", mode: ModeNextMonth, now: at(2024, 1, 31), wantMonth: date(2024, 2, 1), wantFirst: date(2024, 1, 28)},
		{name: "last month across year", mode: ModeLastMonth, now: at(2024, 1, 10), wantMonth: date(2023, 12, 1), wantFirst: date(2023, 11, 26)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := Calculate(Options{Mode: tc.mode, FirstDay: sunday()}, tc.now)

			assert.Equal(t, tc.wantMonth, g.MonthStart)
			assert.Equal(t, tc.wantMonth, g.PeriodStart)
			assert.Equal(t, tc.wantFirst, g.Cells()[0].Date)
			for _, c := range g.Cells() {
				assert.False(t, c.IsToday, c.Date)
				assert.False(t, c.IsPast, c.Date)
			}
		})
	}
}

func TestCalculate_WeekNumbers(t *testing.T) {
	g := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: sunday(), ShowWeekNumber: true}, at(2024, 3, 15))
	got := make([]int, 0, len(g.Weeks))
	for _, w := range g.Weeks {
		got = append(got, w.Number)
	}
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14}, got)

	noNumbers := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: sunday()}, at(2024, 3, 15))
	assert.Zero(t, noNumbers.Weeks[0].Number)
}

func TestWeekNumber(t *testing.T) {
	assert.Equal(t, 9, WeekNumber(date(2024, 2, 25)))  // Sunday -> Thursday Feb 29
	assert.Equal(t, 9, WeekNumber(date(2024, 2, 26)))  // Monday
	assert.Equal(t, 1, WeekNumber(date(2024, 12, 30))) // Monday -> Thursday Jan 2 2025
	assert.Equal(t, 53, WeekNumber(date(2020, 12, 28)))
}

func TestGrid_Position(t *testing.T) {
	g := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: sunday()}, at(2024, 3, 15))

	pos, ok := g.Position(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 5, pos)

	pos, ok = g.Position(date(2024, 3, 31))
	require.True(t, ok)
	assert.Equal(t, 35, pos)

	_, ok = g.Position(date(2024, 2, 27))
	assert.False(t, ok, "days before the period get no cell")
	_, ok = g.Position(date(2024, 4, 1))
	assert.False(t, ok, "days after the period get no cell")
}

func TestGrid_Span(t *testing.T) {
	g := Calculate(Options{Mode: ModeCurrentMonth, FirstDay: sunday()}, at(2024, 3, 15))
	first, end := g.Span()
	assert.Equal(t, date(2024, 2, 25), first)
	assert.Equal(t, date(2024, 4, 7), end)

	first, end = Grid{}.Span()
	assert.True(t, first.IsZero())
	assert.True(t, end.IsZero())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("CURRENTWEEK")
	require.NoError(t, err)
	assert.Equal(t, ModeCurrentWeek, m)

	m, err = ParseMode("nextfourweeks")
	require.NoError(t, err)
	assert.Equal(t, ModeNextFourWeeks, m)
	assert.True(t, m.IsWeekBased())

	m, err = ParseMode("fortnight")
	assert.Equal(t, ModeCurrentMonth, m)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "mode", cerr.Option)
	assert.False(t, m.IsWeekBased())
}

func TestParseFirstDay(t *testing.T) {
	fd, err := ParseFirstDay("Monday")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, fd.Resolve(at(2024, 3, 15)))
	assert.Equal(t, "monday", fd.String())

	fd, err = ParseFirstDay("today")
	require.NoError(t, err)
	assert.Equal(t, time.Friday, fd.Resolve(at(2024, 3, 15)))
	assert.Equal(t, "today", fd.String())

	fd, err = ParseFirstDay("someday")
	require.Error(t, err)
	assert.Equal(t, time.Sunday, fd.Resolve(at(2024, 3, 15)))
}
