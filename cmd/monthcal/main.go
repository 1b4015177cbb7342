package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"monthcal/internal/clock"
	"monthcal/internal/coalesce"
	"monthcal/internal/config"
	"monthcal/internal/dedup"
	"monthcal/internal/gcal"
	"monthcal/internal/grid"
	"monthcal/internal/ics"
	appLog "monthcal/internal/log"
	"monthcal/internal/refresh"
	"monthcal/internal/view"
	"monthcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.CacheDir = filepath.Join(".", "cache", "ics-cache")
		conf.LogLevel = "debug"
	}
	if err := appLog.SetLevel(conf.LogLevel); err != nil {
		appLog.Warn("invalid log level, keeping default", "log_level", conf.LogLevel, "error", err)
	}

	appLog.Info("monthcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Location().String(),
		"refresh", conf.Refresh,
		"horizon_days", conf.HorizonDays,
		"mode", conf.Calendar.Mode,
		"ics_count", len(conf.ICS),
		"google_count", len(conf.Google),
		"once", flags.once,
		"debug", flags.debug,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("monthcal failed", err)
		os.Exit(1)
	}
	appLog.Info("monthcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()

	sources := buildSources(ctx, conf)
	if len(sources) == 0 {
		appLog.Warn("no calendar sources configured")
	}

	coal := coalesce.New(coalesce.Options{
		Debounce:     conf.Debounce(),
		Location:     loc,
		Deduplicator: dedup.Deduplicator{DuplicateColor: conf.Calendar.DuplicateEventColor},
		Publish: func(st *coalesce.State) {
			appLog.Info("calendar published",
				"events", len(st.Events),
				"day", st.DayKey.Format(time.DateOnly),
				"cross_calendar_duplicates", st.CrossCalendarDuplicates,
				"same_calendar_duplicates", st.SameCalendarDuplicates,
				"skipped_updates", st.Skipped,
			)
		},
	})

	ref := refresh.New(sources, coal, refresh.Options{
		Schedule:      conf.Refresh,
		HorizonDays:   conf.HorizonDays,
		BackfillDays:  conf.BackfillDays,
		HideCalendars: conf.Calendar.HideCalendars,
		Location:      loc,
		Period:        viewSpan(conf),
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runErr := make(chan error, 1)
	go func() { runErr <- coal.Run(runCtx) }()

	if flags.once {
		err := runOnce(ctx, conf, ref, coal)
		stopRun()
		<-runErr
		return err
	}

	if err := ref.Start(ctx); err != nil {
		return err
	}
	defer ref.Stop()

	srv := web.NewServer(conf, coal, ref, clock.System{})
	return srv.ListenAndServe(ctx)
}

// viewSpan returns the cell range of the configured layout around now.
func viewSpan(conf *config.Config) func(time.Time) (time.Time, time.Time) {
	opts := conf.ViewOptions().Grid
	loc := conf.Location()
	return func(now time.Time) (time.Time, time.Time) {
		return grid.Calculate(opts, now.In(loc)).Span()
	}
}

// runOnce polls every source, forces a recompute and prints the view.
func runOnce(ctx context.Context, conf *config.Config, ref *refresh.Refresher, coal *coalesce.Coalescer) error {
	if err := ref.PollAll(ctx); err != nil {
		appLog.Error("one or more sources failed", err)
	}
	if err := coal.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	v := view.Build(coal.Snapshot(), conf.ViewOptions(), time.Now().In(conf.Location()))
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildSources turns the configured subscriptions into pollable sources. A
// Google calendar without usable credentials is skipped with an error log.
func buildSources(ctx context.Context, conf *config.Config) []refresh.Source {
	loc := conf.Location()
	var sources []refresh.Source

	fetcher := ics.NewFetcher(conf.CacheDir)
	for _, c := range conf.ICS {
		if c.URL == "" {
			appLog.Warn("ics source without url skipped", "id", c.ID)
			continue
		}
		sources = append(sources, ics.NewFeed(ics.Source{
			ID:     c.ID,
			URL:    c.URL,
			Name:   c.Name,
			Symbol: c.Symbol,
			Color:  c.Color,
		}, fetcher, loc))
	}

	for _, c := range conf.Google {
		opts, err := gcal.ClientOptions(c.CredentialsFile, c.APIKey)
		if err != nil {
			appLog.Error("google source skipped", err, "id", c.ID)
			continue
		}
		src, err := gcal.New(ctx, gcal.Calendar{
			ID:         c.ID,
			Name:       c.Name,
			CalendarID: c.CalendarID,
			Symbol:     c.Symbol,
			Color:      c.Color,
		}, loc, opts...)
		if err != nil {
			appLog.Error("google source skipped", err, "id", c.ID)
			continue
		}
		sources = append(sources, src)
	}

	return sources
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/monthcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print the calendar view as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and a local ./cache directory")

	flag.Parse()

	return cfg
}
