package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultDaysBack is the default width of the sync window.
	DefaultDaysBack = 7

	// DefaultMinDurationMinutes drops events shorter than this as noise.
	DefaultMinDurationMinutes = 3

	// DefaultSourceTag is written on every entry this job owns.
	DefaultSourceTag = "calendar"
)

// Calendar providers.
const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"
)

// Config holds all configuration for calsync.
type Config struct {
	Notion        NotionConfig        `mapstructure:"notion"`
	Calendar      CalendarConfig      `mapstructure:"calendar"`
	Google        GoogleConfig        `mapstructure:"google"`
	Sync          SyncConfig          `mapstructure:"sync"`
	People        PeopleConfig        `mapstructure:"people"`
	Relationships RelationshipsConfig `mapstructure:"relationships"`
	Entries       EntriesConfig       `mapstructure:"entries"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	API           APIConfig           `mapstructure:"api"`
}

// NotionConfig holds workspace API settings.
type NotionConfig struct {
	Token            string        `mapstructure:"token"`
	BaseURL          string        `mapstructure:"base_url"`
	APIVersion       string        `mapstructure:"api_version"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	PageSize         int           `mapstructure:"page_size"`
}

// String returns a safe representation of NotionConfig with the token masked.
func (c NotionConfig) String() string {
	return fmt.Sprintf("NotionConfig{Token:%s, BaseURL:%s, APIVersion:%s}", maskSecret(c.Token), c.BaseURL, c.APIVersion)
}

// CalendarConfig selects the event source and the calendars to read.
type CalendarConfig struct {
	Provider       string `mapstructure:"provider"`
	PrimaryID      string `mapstructure:"primary_id"`
	PrimaryLabel   string `mapstructure:"primary_label"`
	SecondaryID    string `mapstructure:"secondary_id"`
	SecondaryLabel string `mapstructure:"secondary_label"`
	PageSize       int    `mapstructure:"page_size"`
}

// GoogleConfig holds OAuth client credentials and a long-lived refresh token.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// String returns a safe representation of GoogleConfig with secrets masked.
func (c GoogleConfig) String() string {
	return fmt.Sprintf("GoogleConfig{ClientID:%s, ClientSecret:%s, RefreshToken:%s}",
		c.ClientID, maskSecret(c.ClientSecret), maskSecret(c.RefreshToken))
}

// SyncConfig holds run behaviour.
type SyncConfig struct {
	DaysBack           int    `mapstructure:"days_back"`
	MinDurationMinutes int    `mapstructure:"min_duration_minutes"`
	Prefetch           bool   `mapstructure:"prefetch"`
	ResolverMode       string `mapstructure:"resolver_mode"`
	RelationshipMode   string `mapstructure:"relationship_mode"` // defaults to resolver_mode
	SourceTag          string `mapstructure:"source_tag"`
}

// PeopleConfig locates the person table and its handles column.
type PeopleConfig struct {
	DatabaseID     string `mapstructure:"database_id"`
	HandleProperty string `mapstructure:"handle_property"`
}

// RelationshipsConfig locates the optional relationship table. An empty
// DatabaseID disables relationship linking.
type RelationshipsConfig struct {
	DatabaseID        string   `mapstructure:"database_id"`
	PersonProperty    string   `mapstructure:"person_property"`
	StageProperty     string   `mapstructure:"stage_property"`
	StageKind         string   `mapstructure:"stage_kind"`
	ActiveStages      []string `mapstructure:"active_stages"`
	StartDateProperty string   `mapstructure:"start_date_property"`
}

// EntriesConfig locates the time entry table.
type EntriesConfig struct {
	DatabaseID string          `mapstructure:"database_id"`
	Properties EntryProperties `mapstructure:"properties"`
}

// EntryProperties maps entry fields to column names.
type EntryProperties struct {
	Title        string `mapstructure:"title"`
	EventKey     string `mapstructure:"event_key"`
	Start        string `mapstructure:"start"`
	Duration     string `mapstructure:"duration"`
	Type         string `mapstructure:"type"`
	Person       string `mapstructure:"person"`
	Relationship string `mapstructure:"relationship"`
	Source       string `mapstructure:"source"`
	Calendar     string `mapstructure:"calendar"`
	Link         string `mapstructure:"link"`
}

// ScheduleConfig holds the serve-mode cron expression.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig holds structured logging settings. A non-empty File sends
// output to a rotating log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// maskSecret shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskSecret(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".calsync"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("CALSYNC")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("notion.token", "NOTION_TOKEN", "CALSYNC_NOTION_TOKEN")
	_ = v.BindEnv("google.client_id", "GOOGLE_CLIENT_ID", "CALSYNC_GOOGLE_CLIENT_ID")
	_ = v.BindEnv("google.client_secret", "GOOGLE_CLIENT_SECRET", "CALSYNC_GOOGLE_CLIENT_SECRET")
	_ = v.BindEnv("google.refresh_token", "GOOGLE_REFRESH_TOKEN", "CALSYNC_GOOGLE_REFRESH_TOKEN")
	_ = v.BindEnv("calendar.provider", "CALSYNC_CALENDAR_PROVIDER")
	_ = v.BindEnv("calendar.primary_id", "CALSYNC_CALENDAR_PRIMARY_ID")
	_ = v.BindEnv("calendar.secondary_id", "CALSYNC_CALENDAR_SECONDARY_ID")
	_ = v.BindEnv("people.database_id", "CALSYNC_PEOPLE_DATABASE_ID")
	_ = v.BindEnv("relationships.database_id", "CALSYNC_RELATIONSHIPS_DATABASE_ID")
	_ = v.BindEnv("entries.database_id", "CALSYNC_ENTRIES_DATABASE_ID")
	_ = v.BindEnv("sync.days_back", "CALSYNC_SYNC_DAYS_BACK")
	_ = v.BindEnv("api.listen_addr", "CALSYNC_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "CALSYNC_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK: use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Sync.RelationshipMode == "" {
		cfg.Sync.RelationshipMode = cfg.Sync.ResolverMode
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.api_version", "2022-06-28")
	v.SetDefault("notion.request_timeout", 30*time.Second)
	v.SetDefault("notion.min_interval", 350*time.Millisecond)
	v.SetDefault("notion.rate_limit_backoff", 2*time.Second)
	v.SetDefault("notion.page_size", 100)

	v.SetDefault("calendar.provider", ProviderGoogle)
	v.SetDefault("calendar.primary_id", "primary")
	v.SetDefault("calendar.page_size", 250)

	v.SetDefault("sync.days_back", DefaultDaysBack)
	v.SetDefault("sync.min_duration_minutes", DefaultMinDurationMinutes)
	v.SetDefault("sync.prefetch", true)
	v.SetDefault("sync.resolver_mode", "warm")
	v.SetDefault("sync.source_tag", DefaultSourceTag)

	v.SetDefault("people.handle_property", "Handles")

	v.SetDefault("relationships.person_property", "Person")
	v.SetDefault("relationships.stage_property", "Stage")
	v.SetDefault("relationships.stage_kind", "status")
	v.SetDefault("relationships.active_stages", []string{"Started", "Active"})
	v.SetDefault("relationships.start_date_property", "Start Date")

	v.SetDefault("entries.properties.title", "Name")
	v.SetDefault("entries.properties.event_key", "Event Key")
	v.SetDefault("entries.properties.start", "Date")
	v.SetDefault("entries.properties.duration", "Minutes")
	v.SetDefault("entries.properties.type", "Type")
	v.SetDefault("entries.properties.person", "Person")
	v.SetDefault("entries.properties.relationship", "Relationship")
	v.SetDefault("entries.properties.source", "Source")
	v.SetDefault("entries.properties.calendar", "Calendar")
	v.SetDefault("entries.properties.link", "Link")

	v.SetDefault("schedule.cron", "@every 1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Notion.Token == "" {
		return fmt.Errorf("notion.token must not be empty (set NOTION_TOKEN)")
	}
	if c.Notion.BaseURL == "" {
		return fmt.Errorf("notion.base_url must not be empty")
	}
	if c.Notion.PageSize <= 0 || c.Notion.PageSize > 100 {
		return fmt.Errorf("notion.page_size must be between 1 and 100")
	}
	if c.Notion.MinInterval < 0 || c.Notion.RateLimitBackoff < 0 {
		return fmt.Errorf("notion.min_interval and notion.rate_limit_backoff must be >= 0")
	}
	if c.People.DatabaseID == "" {
		return fmt.Errorf("people.database_id must not be empty")
	}
	if c.People.HandleProperty == "" {
		return fmt.Errorf("people.handle_property must not be empty")
	}
	if c.Entries.DatabaseID == "" {
		return fmt.Errorf("entries.database_id must not be empty")
	}
	if err := c.Entries.Properties.validate(); err != nil {
		return err
	}
	if c.Relationships.DatabaseID != "" {
		if c.Relationships.PersonProperty == "" {
			return fmt.Errorf("relationships.person_property must not be empty when relationships.database_id is set")
		}
		if k := c.Relationships.StageKind; k != "status" && k != "select" {
			return fmt.Errorf("relationships.stage_kind must be status or select, got %q", k)
		}
	}
	switch c.Calendar.Provider {
	case ProviderGoogle:
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" || c.Google.RefreshToken == "" {
			return fmt.Errorf("google.client_id, google.client_secret and google.refresh_token are required for the google provider")
		}
	case ProviderICS:
	default:
		return fmt.Errorf("calendar.provider must be google or ics, got %q", c.Calendar.Provider)
	}
	if c.Calendar.PrimaryID == "" {
		return fmt.Errorf("calendar.primary_id must not be empty")
	}
	if c.Sync.DaysBack <= 0 {
		return fmt.Errorf("sync.days_back must be greater than 0")
	}
	if c.Sync.MinDurationMinutes <= 0 {
		return fmt.Errorf("sync.min_duration_minutes must be greater than 0")
	}
	if !validMode(c.Sync.ResolverMode) {
		return fmt.Errorf("sync.resolver_mode must be warm or lazy, got %q", c.Sync.ResolverMode)
	}
	if c.Sync.RelationshipMode != "" && !validMode(c.Sync.RelationshipMode) {
		return fmt.Errorf("sync.relationship_mode must be warm or lazy, got %q", c.Sync.RelationshipMode)
	}
	if c.Sync.SourceTag == "" {
		return fmt.Errorf("sync.source_tag must not be empty")
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", f)
	}
	return nil
}

func (p EntryProperties) validate() error {
	required := map[string]string{
		"title": p.Title, "event_key": p.EventKey, "start": p.Start, "duration": p.Duration,
		"type": p.Type, "person": p.Person, "source": p.Source, "calendar": p.Calendar, "link": p.Link,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("entries.properties.%s must not be empty", name)
		}
	}
	return nil
}

// validMode mirrors resolver.Mode without importing it.
func validMode(m string) bool {
	return m == "warm" || m == "lazy"
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
