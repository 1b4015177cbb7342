// Package refresh polls every configured calendar source on a cron schedule
// and hands the normalized batches to the coalescer.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"monthcal/internal/clock"
	appLog "monthcal/internal/log"
	"monthcal/internal/model"
	"monthcal/internal/normalize"
)

const (
	DefaultSchedule     = "@every 10m"
	DefaultHorizonDays  = 42
	DefaultBackfillDays = 7
)

// Source is anything that can list raw events for a time window.
type Source interface {
	ID() string
	Fetch(ctx context.Context, from, to time.Time) ([]model.RawEvent, error)
}

// Sink receives normalized batches. *coalesce.Coalescer implements it.
type Sink interface {
	Submit(ctx context.Context, sourceID string, events []model.Event) error
}

type Options struct {
	// Schedule is a robfig/cron spec; descriptors like "@every 5m" work.
	Schedule      string
	HorizonDays   int
	BackfillDays  int
	HideCalendars []string
	Location      *time.Location
	Clock         clock.Clock

	// Period, when set, returns the range the calendar currently shows. The
	// fetch window is widened to cover it.
	Period func(now time.Time) (from, to time.Time)
}

// SourceStatus is the outcome of the last poll of one source.
type SourceStatus struct {
	ID            string    `json:"id"`
	LastAttempt   time.Time `json:"last_attempt"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	RawCount      int       `json:"raw_count"`
	EventCount    int       `json:"event_count"`
	RejectedCount int       `json:"rejected_count"`
}

type Refresher struct {
	sources []Source
	sink    Sink
	opts    Options

	pollMu sync.Mutex // one poll at a time

	mu     sync.RWMutex
	status map[string]SourceStatus

	cron *cron.Cron
}

func New(sources []Source, sink Sink, opts Options) *Refresher {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	if opts.BackfillDays < 0 {
		opts.BackfillDays = 0
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Refresher{
		sources: sources,
		sink:    sink,
		opts:    opts,
		status:  make(map[string]SourceStatus, len(sources)),
	}
}

// Window is the fetch range: from the start of the day BackfillDays ago to
// HorizonDays ahead, widened to the displayed period when Period is set.
func (r *Refresher) Window() (time.Time, time.Time) {
	now := r.opts.Clock.Now().In(r.opts.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.opts.Location)
	from, to := day.AddDate(0, 0, -r.opts.BackfillDays), day.AddDate(0, 0, r.opts.HorizonDays+1)

	if r.opts.Period != nil {
		pFrom, pTo := r.opts.Period(now)
		if !pFrom.IsZero() && pFrom.Before(from) {
			from = pFrom
		}
		if pTo.After(to) {
			to = pTo
		}
	}
	return from, to
}

// PollAll polls every source once. A failing source is logged and keeps its
// previous batch; the others proceed. The returned error joins all failures.
func (r *Refresher) PollAll(ctx context.Context) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	from, to := r.Window()
	var errs []error
	for _, src := range r.sources {
		if err := r.pollOne(ctx, src, from, to); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			appLog.Error("refresh: source failed", err, "id", src.ID())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Refresher) pollOne(ctx context.Context, src Source, from, to time.Time) error {
	st := r.sourceStatus(src.ID())
	st.LastAttempt = r.opts.Clock.Now()
	defer func() { r.setStatus(st) }()

	raws, err := src.Fetch(ctx, from, to)
	if err != nil {
		st.LastError = err.Error()
		return err
	}

	events, rejected := normalize.Batch(src.ID(), raws, r.opts.HideCalendars, r.opts.Location)
	for _, rerr := range rejected {
		appLog.Warn("refresh: record dropped", "id", src.ID(), "error", rerr)
	}

	if err := r.sink.Submit(ctx, src.ID(), events); err != nil {
		st.LastError = err.Error()
		return fmt.Errorf("submit %s: %w", src.ID(), err)
	}

	st.LastSuccess = st.LastAttempt
	st.LastError = ""
	st.RawCount = len(raws)
	st.EventCount = len(events)
	st.RejectedCount = len(rejected)
	appLog.Info("refresh: source polled", "id", src.ID(), "raw", len(raws), "events", len(events), "rejected", len(rejected))
	return nil
}

// Start schedules PollAll and runs one poll right away in the background.
// Polls triggered while another is running are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	logger := cronLogger{}
	r.cron = cron.New(
		cron.WithLocation(r.opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := r.cron.AddFunc(r.opts.Schedule, func() { _ = r.PollAll(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.opts.Schedule, err)
	}
	r.cron.Start()
	appLog.Info("refresh: scheduler started", "schedule", r.opts.Schedule, "sources", len(r.sources))

	go func() { _ = r.PollAll(ctx) }()
	return nil
}

// Stop halts the scheduler and waits for a running poll to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Trigger runs a poll in the background unless one is already running.
func (r *Refresher) Trigger(ctx context.Context) bool {
	if !r.pollMu.TryLock() {
		return false
	}
	r.pollMu.Unlock()
	go func() { _ = r.PollAll(ctx) }()
	return true
}

// Status lists the last poll outcome per source in configuration order.
func (r *Refresher) Status() []SourceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceStatus, 0, len(r.sources))
	for _, src := range r.sources {
		st, ok := r.status[src.ID()]
		if !ok {
			st = SourceStatus{ID: src.ID()}
		}
		out = append(out, st)
	}
	return out
}

func (r *Refresher) sourceStatus(id string) SourceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.status[id]
	if !ok {
		st.ID = id
	}
	return st
}

func (r *Refresher) setStatus(st SourceStatus) {
	r.mu.Lock()
	r.status[st.ID] = st
	r.mu.Unlock()
}

// cronLogger routes robfig/cron's logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
