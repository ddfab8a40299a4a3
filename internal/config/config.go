package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	TimeZone    string `env:"TIMEZONE" envDefault:"UTC"`
	EnableHSTS  bool   `env:"ENABLE_HSTS" envDefault:"false"`

	// SeedUsersFile is a JSON array of users loaded into the memory store.
	SeedUsersFile string `env:"SEED_USERS_FILE"`

	ConflictBufferMinutes  int `env:"CONFLICT_BUFFER_MINUTES" envDefault:"15"`
	AlternativeHorizonDays int `env:"ALTERNATIVE_HORIZON_DAYS" envDefault:"7"`
	MaxAlternatives        int `env:"MAX_ALTERNATIVES" envDefault:"5"`
	SlotIncrementMinutes   int `env:"SLOT_INCREMENT_MINUTES" envDefault:"0"`
	BookingTimeoutSeconds  int `env:"BOOKING_TIMEOUT_SECONDS" envDefault:"10"`

	WorkingHoursStart string `env:"WORKING_HOURS_START" envDefault:"06:00"`
	WorkingHoursEnd   string `env:"WORKING_HOURS_END" envDefault:"21:00"`
	WorkingDays       []int  `env:"WORKING_DAYS" envDefault:"0,1,2,3,4,5,6" envSeparator:","`
	WeekStart         string `env:"WEEK_START" envDefault:"sunday"`

	StatsCacheTTLSeconds      int `env:"STATS_CACHE_TTL_SECONDS" envDefault:"60"`
	AnalyticsCacheTTLSeconds  int `env:"ANALYTICS_CACHE_TTL_SECONDS" envDefault:"300"`
	RequestExpiryGraceMinutes int `env:"REQUEST_EXPIRY_GRACE_MINUTES" envDefault:"0"`
	RateLimitPerMinute        int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ConflictBuffer() time.Duration {
	return time.Duration(c.ConflictBufferMinutes) * time.Minute
}

func (c *Config) AlternativeHorizon() time.Duration {
	return time.Duration(c.AlternativeHorizonDays) * 24 * time.Hour
}

func (c *Config) SlotIncrement() time.Duration {
	return time.Duration(c.SlotIncrementMinutes) * time.Minute
}

func (c *Config) BookingTimeout() time.Duration {
	return time.Duration(c.BookingTimeoutSeconds) * time.Second
}

func (c *Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

func (c *Config) AnalyticsCacheTTL() time.Duration {
	return time.Duration(c.AnalyticsCacheTTLSeconds) * time.Second
}

func (c *Config) RequestExpiryGrace() time.Duration {
	return time.Duration(c.RequestExpiryGraceMinutes) * time.Minute
}

// Location resolves TIMEZONE. Calendar-day math (streaks, weekly buckets,
// working hours) happens in this location.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// WeekStartDay returns the first day of an analytics week.
func (c *Config) WeekStartDay() time.Weekday {
	if strings.EqualFold(c.WeekStart, "monday") {
		return time.Monday
	}
	return time.Sunday
}

// ParseClock parses an "HH:MM" string into minutes after midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: expected HH:MM", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (c *Config) Validate() error {
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}

	start, err := ParseClock(c.WorkingHoursStart)
	if err != nil {
		return fmt.Errorf("WORKING_HOURS_START: %w", err)
	}
	end, err := ParseClock(c.WorkingHoursEnd)
	if err != nil {
		return fmt.Errorf("WORKING_HOURS_END: %w", err)
	}
	if end <= start {
		return fmt.Errorf("WORKING_HOURS_END must be after WORKING_HOURS_START")
	}

	for _, d := range c.WorkingDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("WORKING_DAYS entries must be between 0 (Sunday) and 6 (Saturday)")
		}
	}

	if c.ConflictBufferMinutes < 0 {
		return fmt.Errorf("CONFLICT_BUFFER_MINUTES must not be negative")
	}
	if c.MaxAlternatives < 0 || c.AlternativeHorizonDays < 0 {
		return fmt.Errorf("MAX_ALTERNATIVES and ALTERNATIVE_HORIZON_DAYS must not be negative")
	}
	if c.BookingTimeoutSeconds <= 0 {
		return fmt.Errorf("BOOKING_TIMEOUT_SECONDS must be positive")
	}

	if c.StoreDriver == StoreDriverMemory {
		log.Warn().Msg("STORE_DRIVER=memory: sessions are not persisted across restarts")
	}
	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set: cache, rate limits and notifications are local to this process")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
