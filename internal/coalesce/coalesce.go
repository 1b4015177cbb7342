// Package coalesce absorbs bursts of per-source updates and publishes a new
// render state only when the visible result actually changed.
//
// All pipeline state (the per-source store, the debounce timer and the render
// state) is owned by the goroutine running Run. Other goroutines talk to it
// through Submit and Flush and read the published result through Snapshot.
package coalesce

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"monthcal/internal/aggregate"
	"monthcal/internal/clock"
	"monthcal/internal/dedup"
	appLog "monthcal/internal/log"
	"monthcal/internal/model"
)

const (
	DefaultDebounce = 5 * time.Second

	// dayKeyHour is the hour the day key is anchored on.
	dayKeyHour = 12
)

// State is the render state: the day key and the deduplicated events that
// produced the last publish.
type State struct {
	DayKey time.Time
	Events []model.Event

	CrossCalendarDuplicates int
	SameCalendarDuplicates  int

	PublishedAt time.Time
	// Skipped is the number of updates that restarted the debounce timer
	// during the cycle that produced this state.
	Skipped int
}

// Stats is observability data for status endpoints.
type Stats struct {
	Sources      []aggregate.SourceInfo `json:"sources"`
	Skipped      int64                  `json:"skipped_updates"`
	Publishes    int64                  `json:"publishes"`
	NoOps        int64                  `json:"noops"`
	LastCycleAt  time.Time              `json:"last_cycle_at"`
	LastPublish  time.Time              `json:"last_publish"`
	PendingTimer bool                   `json:"pending_timer"`
}

type Options struct {
	Debounce     time.Duration
	Location     *time.Location
	Clock        clock.Clock
	Deduplicator dedup.Deduplicator

	// Publish is called on the owner goroutine after a state change.
	Publish func(*State)
}

type update struct {
	sourceID string
	events   []model.Event
}

type Coalescer struct {
	opts Options

	updates chan update
	flushes chan chan struct{}
	running atomic.Bool

	snapshot  atomic.Pointer[State]
	sources   atomic.Pointer[[]aggregate.SourceInfo]
	skipped   atomic.Int64
	publishes atomic.Int64
	noops     atomic.Int64
	lastCycle atomic.Pointer[time.Time]
	pending   atomic.Bool
}

func New(opts Options) *Coalescer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Coalescer{
		opts:    opts,
		updates: make(chan update),
		flushes: make(chan chan struct{}),
	}
}

// Run owns the pipeline until ctx is done. It must be called exactly once.
func (c *Coalescer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coalescer already running")
	}
	defer c.running.Store(false)

	store := aggregate.NewStore()
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		skipped int
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire = nil, nil
		c.pending.Store(false)
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u := <-c.updates:
			store.Apply(u.sourceID, u.events)
			sources := store.Sources()
			c.sources.Store(&sources)

			if timer != nil {
				timer.Stop()
				skipped++
				c.skipped.Add(1)
			}
			timer = time.NewTimer(c.opts.Debounce)
			fire = timer.C
			c.pending.Store(true)
			appLog.Debug("coalesce: update applied", "source", u.sourceID, "events", len(u.events), "skipped", skipped)

		case <-fire:
			c.cycle(store, skipped)
			stopTimer()
			skipped = 0

		case done := <-c.flushes:
			c.cycle(store, skipped)
			stopTimer()
			skipped = 0
			close(done)
		}
	}
}

// Submit hands a normalized batch for sourceID to the owner goroutine. The
// batch replaces whatever the source reported before. It blocks until Run
// accepts the update or ctx is done.
func (c *Coalescer) Submit(ctx context.Context, sourceID string, events []model.Event) error {
	select {
	case c.updates <- update{sourceID: sourceID, events: events}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush runs a recompute cycle immediately, cancelling any pending timer,
// and waits for it to complete.
func (c *Coalescer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.flushes <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published state, or nil before the first
// publish. Callers must not modify it.
func (c *Coalescer) Snapshot() *State {
	return c.snapshot.Load()
}

func (c *Coalescer) Stats() Stats {
	st := Stats{
		Skipped:      c.skipped.Load(),
		Publishes:    c.publishes.Load(),
		NoOps:        c.noops.Load(),
		PendingTimer: c.pending.Load(),
	}
	if s := c.sources.Load(); s != nil {
		st.Sources = *s
	}
	if t := c.lastCycle.Load(); t != nil {
		st.LastCycleAt = *t
	}
	if s := c.snapshot.Load(); s != nil {
		st.LastPublish = s.PublishedAt
	}
	return st
}

// DayKey is the date of t in loc at the fixed anchor hour.
func DayKey(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), dayKeyHour, 0, 0, 0, loc)
}

func (c *Coalescer) cycle(store *aggregate.Store, skipped int) {
	now := c.opts.Clock.Now()
	c.lastCycle.Store(&now)

	res := c.opts.Deduplicator.Run(store.Flatten())
	key := DayKey(now, c.opts.Location)

	prev := c.snapshot.Load()
	if prev != nil && prev.DayKey.Equal(key) && model.EventsEqual(prev.Events, res.Events) {
		c.noops.Add(1)
		appLog.Debug("coalesce: no change", "events", len(res.Events), "skipped", skipped)
		return
	}

	next := &State{
		DayKey:                  key,
		Events:                  res.Events,
		CrossCalendarDuplicates: res.CrossCalendar,
		SameCalendarDuplicates:  res.SameCalendar,
		PublishedAt:             now,
		Skipped:                 skipped,
	}
	c.snapshot.Store(next)
	c.publishes.Add(1)
	appLog.Info("coalesce: publish", "events", len(next.Events), "day", key.Format(time.DateOnly),
		"cross_calendar_dups", res.CrossCalendar, "same_calendar_dups", res.SameCalendar, "skipped", skipped)

	if c.opts.Publish != nil {
		c.opts.Publish(next)
	}
}
