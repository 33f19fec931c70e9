package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ajitpratap0/calsync/internal/calendar"
	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/config"
	"github.com/ajitpratap0/calsync/internal/reconcile"
	"github.com/ajitpratap0/calsync/internal/resolver"
	"github.com/ajitpratap0/calsync/internal/scheduler"
	"github.com/ajitpratap0/calsync/internal/store"
	"github.com/ajitpratap0/calsync/internal/syncer"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "calsync",
		Short: "calsync: reconcile calendar events into Notion time entries",
		Long:  "calsync reads events from a calendar, attributes them to people by @handle and upserts one time entry per event into a Notion database, archiving entries whose event was cancelled.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		syncCmd(),
		serveCmd(),
		classifyCmd(),
		healthCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stderr
	if cfg != nil && cfg.Logging.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
	}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func newStore(logger *slog.Logger) *store.NotionClient {
	return store.NewNotionClient(store.NotionOptions{
		BaseURL:          cfg.Notion.BaseURL,
		Token:            cfg.Notion.Token,
		APIVersion:       cfg.Notion.APIVersion,
		RequestTimeout:   cfg.Notion.RequestTimeout,
		MinInterval:      cfg.Notion.MinInterval,
		RateLimitBackoff: cfg.Notion.RateLimitBackoff,
		Logger:           logger,
	})
}

// newSource builds the configured calendar source. For Google it exchanges
// the refresh token up front so bad credentials fail before any run.
func newSource(ctx context.Context, logger *slog.Logger) (calendar.Source, error) {
	switch cfg.Calendar.Provider {
	case config.ProviderICS:
		return calendar.NewICSSource(nil, logger), nil
	default:
		src, err := calendar.NewGoogleSource(ctx, calendar.GoogleOptions{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RefreshToken: cfg.Google.RefreshToken,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func entryProperties() reconcile.PropertyNames {
	p := cfg.Entries.Properties
	return reconcile.PropertyNames{
		Title:        p.Title,
		EventKey:     p.EventKey,
		Start:        p.Start,
		Duration:     p.Duration,
		Type:         p.Type,
		Person:       p.Person,
		Relationship: p.Relationship,
		Source:       p.Source,
		Calendar:     p.Calendar,
		Link:         p.Link,
	}
}

func newDriver(ctx context.Context, logger *slog.Logger) (*syncer.Driver, error) {
	src, err := newSource(ctx, logger)
	if err != nil {
		return nil, err
	}

	return syncer.NewDriver(syncer.Options{
		Source: src,
		Store:  newStore(logger),
		Calendars: syncer.Calendars(
			syncer.CalendarSpec{ID: cfg.Calendar.PrimaryID, Label: cfg.Calendar.PrimaryLabel},
			syncer.CalendarSpec{ID: cfg.Calendar.SecondaryID, Label: cfg.Calendar.SecondaryLabel},
		),
		DaysBack:           cfg.Sync.DaysBack,
		MinDurationMinutes: cfg.Sync.MinDurationMinutes,
		CalendarPageSize:   cfg.Calendar.PageSize,
		Prefetch:           cfg.Sync.Prefetch,
		IdentityMode:       resolver.Mode(cfg.Sync.ResolverMode),
		Identity: resolver.IdentityOptions{
			DatabaseID:     cfg.People.DatabaseID,
			HandleProperty: cfg.People.HandleProperty,
			PageSize:       cfg.Notion.PageSize,
		},
		RelationshipMode: resolver.Mode(cfg.Sync.RelationshipMode),
		Relationship: resolver.RelationshipOptions{
			DatabaseID:        cfg.Relationships.DatabaseID,
			PersonProperty:    cfg.Relationships.PersonProperty,
			StageProperty:     cfg.Relationships.StageProperty,
			StageKind:         cfg.Relationships.StageKind,
			ActiveStages:      cfg.Relationships.ActiveStages,
			StartDateProperty: cfg.Relationships.StartDateProperty,
			PageSize:          cfg.Notion.PageSize,
		},
		Entries: reconcile.Options{
			DatabaseID: cfg.Entries.DatabaseID,
			Properties: entryProperties(),
			SourceTag:  cfg.Sync.SourceTag,
			PageSize:   cfg.Notion.PageSize,
		},
		Classifier: classifier.NewClassifier(logger),
		Logger:     logger,
	})
}

// newScheduler wraps a driver so that runs from every surface are serialized.
func newScheduler(ctx context.Context, logger *slog.Logger) (*scheduler.Scheduler, error) {
	driver, err := newDriver(ctx, logger)
	if err != nil {
		return nil, err
	}
	return scheduler.New(func(ctx context.Context) (*syncer.Report, error) {
		return driver.Run(ctx, syncer.RunOptions{})
	}, logger), nil
}
