// Package gcal polls a Google Calendar through the Calendar v3 API and
// converts its events into raw event records.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "monthcal/internal/log"
	"monthcal/internal/model"
)

const pageSize = 2500

// eventColors is the fixed Google Calendar event palette keyed by colorId.
var eventColors = map[string]string{
	"1":  "#7986cb",
	"2":  "#33b679",
	"3":  "#8e24aa",
	"4":  "#e67c73",
	"5":  "#f6bf26",
	"6":  "#f4511e",
	"7":  "#039be5",
	"8":  "#616161",
	"9":  "#3f51b5",
	"10": "#0b8043",
	"11": "#d50000",
}

type Calendar struct {
	ID         string
	Name       string
	CalendarID string
	Symbol     []string
	Color      string
}

type Source struct {
	cal     Calendar
	service *calendar.Service
	loc     *time.Location
}

// ClientOptions returns the auth options for a service account key file or
// an API key (public calendars only). The key file wins when both are set.
func ClientOptions(credentialsFile, apiKey string) ([]option.ClientOption, error) {
	switch {
	case credentialsFile != "":
		return []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(calendar.CalendarReadonlyScope),
		}, nil
	case apiKey != "":
		return []option.ClientOption{option.WithAPIKey(apiKey)}, nil
	default:
		return nil, errors.New("google calendar needs credentials_file or api_key")
	}
}

func New(ctx context.Context, cal Calendar, loc *time.Location, opts ...option.ClientOption) (*Source, error) {
	if cal.CalendarID == "" {
		cal.CalendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &Source{cal: cal, service: svc, loc: loc}, nil
}

func (s *Source) ID() string {
	return s.cal.ID
}

// Fetch lists single (recurrence-expanded) events overlapping [from, to].
func (s *Source) Fetch(ctx context.Context, from, to time.Time) ([]model.RawEvent, error) {
	call := s.service.Events.List(s.cal.CalendarID).
		Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize)

	var out []model.RawEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		name := s.cal.Name
		if name == "" {
			name = page.Summary
		}
		if name == "" {
			name = s.cal.ID
		}
		for _, item := range page.Items {
			raw, ok, err := s.toRaw(item, name)
			if err != nil {
				appLog.Warn("gcal: event skipped", "id", s.cal.ID, "event", item.Id, "error", err)
				continue
			}
			if ok {
				out = append(out, raw)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from Google Calendar %s: %w", s.cal.ID, err)
	}

	appLog.Debug("gcal: fetched", "id", s.cal.ID, "events", len(out))
	return out, nil
}

// toRaw maps one API event. Cancelled events report ok=false.
func (s *Source) toRaw(item *calendar.Event, calendarName string) (model.RawEvent, bool, error) {
	if item.Status == "cancelled" {
		return model.RawEvent{}, false, nil
	}
	if item.Start == nil || item.End == nil {
		return model.RawEvent{}, false, errors.New("missing start or end")
	}

	raw := model.RawEvent{
		Title:        item.Summary,
		CalendarName: calendarName,
		Symbol:       slices.Clone(s.cal.Symbol),
		Color:        s.cal.Color,
	}
	if c, ok := eventColors[item.ColorId]; ok {
		raw.Color = c
	}

	if item.Start.Date != "" {
		start, err := time.ParseInLocation(time.DateOnly, item.Start.Date, s.loc)
		if err != nil {
			return raw, false, err
		}
		end := start.AddDate(0, 0, 1)
		if item.End.Date != "" {
			if end, err = time.ParseInLocation(time.DateOnly, item.End.Date, s.loc); err != nil {
				return raw, false, err
			}
		}
		raw.FullDayEvent = true
		raw.StartDate, raw.EndDate = model.MillisOf(start), model.MillisOf(end)
		return raw, true, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return raw, false, err
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return raw, false, err
	}
	raw.StartDate, raw.EndDate = model.MillisOf(start), model.MillisOf(end)
	return raw, true, nil
}
