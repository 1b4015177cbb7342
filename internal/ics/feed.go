package ics

import (
	"context"
	"fmt"
	"time"

	"monthcal/internal/model"
)

// Feed is a pollable ICS calendar: fetch, parse, expand, and convert to raw
// event records.
type Feed struct {
	src     Source
	fetcher *Fetcher
	loc     *time.Location
}

func NewFeed(src Source, fetcher *Fetcher, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{src: src, fetcher: fetcher, loc: loc}
}

func (f *Feed) ID() string {
	return f.src.ID
}

// Fetch returns the occurrences between from and to. The calendar name is
// the configured one, else the feed's X-WR-CALNAME, else the source id.
func (f *Feed) Fetch(ctx context.Context, from, to time.Time) ([]model.RawEvent, error) {
	res, err := f.fetcher.FetchOne(ctx, f.src)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.src.ID, err)
	}

	cal, err := ParseICS(f.src, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.src.ID, err)
	}

	exp, err := ExpandOccurrences(cal.Events, ExpandConfig{
		DisplayLocation: f.loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", f.src.ID, err)
	}

	name := f.src.Name
	if name == "" {
		name = cal.Name
	}
	if name == "" {
		name = f.src.ID
	}

	out := make([]model.RawEvent, 0, len(exp.Occurrences))
	for _, occ := range exp.Occurrences {
		out = append(out, occ.Raw(f.src, name))
	}
	return out, nil
}
