package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                   8080,
		DatabaseURL:            "postgres://localhost/test",
		StoreDriver:            StoreDriverPostgres,
		TimeZone:               "UTC",
		ConflictBufferMinutes:  15,
		AlternativeHorizonDays: 7,
		MaxAlternatives:        5,
		BookingTimeoutSeconds:  10,
		WorkingHoursStart:      "06:00",
		WorkingHoursEnd:        "21:00",
		WorkingDays:            []int{0, 1, 2, 3, 4, 5, 6},
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("durations convert from configured units", func(t *testing.T) {
		cfg := &Config{
			ConflictBufferMinutes:    15,
			AlternativeHorizonDays:   7,
			SlotIncrementMinutes:     30,
			BookingTimeoutSeconds:    10,
			StatsCacheTTLSeconds:     60,
			AnalyticsCacheTTLSeconds: 300,
		}
		assert.Equal(t, 15*time.Minute, cfg.ConflictBuffer())
		assert.Equal(t, 7*24*time.Hour, cfg.AlternativeHorizon())
		assert.Equal(t, 30*time.Minute, cfg.SlotIncrement())
		assert.Equal(t, 10*time.Second, cfg.BookingTimeout())
		assert.Equal(t, time.Minute, cfg.StatsCacheTTL())
		assert.Equal(t, 5*time.Minute, cfg.AnalyticsCacheTTL())
	})

	t.Run("WeekStartDay defaults to sunday", func(t *testing.T) {
		assert.Equal(t, time.Sunday, (&Config{}).WeekStartDay())
		assert.Equal(t, time.Monday, (&Config{WeekStart: "Monday"}).WeekStartDay())
	})
}

func TestParseClock(t *testing.T) {
	minutes, err := ParseClock("06:30")
	require.NoError(t, err)
	assert.Equal(t, 390, minutes)

	_, err = ParseClock("6pm")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("postgres driver needs a database url", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseURL = ""
		assert.Error(t, cfg.Validate())

		cfg.StoreDriver = StoreDriverMemory
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown store driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.StoreDriver = "mysql"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects inverted working hours", func(t *testing.T) {
		cfg := validConfig()
		cfg.WorkingHoursStart = "20:00"
		cfg.WorkingHoursEnd = "08:00"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out of range working day", func(t *testing.T) {
		cfg := validConfig()
		cfg.WorkingDays = []int{1, 7}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown time zone", func(t *testing.T) {
		cfg := validConfig()
		cfg.TimeZone = "Mars/Olympus"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive booking timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.BookingTimeoutSeconds = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "STORE_DRIVER", "LOG_LEVEL", "ENABLE_HSTS",
		"CONFLICT_BUFFER_MINUTES", "MAX_ALTERNATIVES", "WORKING_DAYS",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
		assert.Equal(t, 15, cfg.ConflictBufferMinutes)
		assert.Equal(t, 7, cfg.AlternativeHorizonDays)
		assert.Equal(t, 5, cfg.MaxAlternatives)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, cfg.WorkingDays)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("CONFLICT_BUFFER_MINUTES", "30")
		os.Setenv("WORKING_DAYS", "1,2,3,4,5")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 30, cfg.ConflictBufferMinutes)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, cfg.WorkingDays)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("memory driver runs without database or redis", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("STORE_DRIVER", "memory")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Empty(t, cfg.DatabaseURL)
		assert.Empty(t, cfg.RedisURL)
		assert.False(t, cfg.EnableHSTS)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("postgres driver without DATABASE_URL fails validation", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Error(t, cfg.Validate())
	})

	t.Run("fails on malformed values", func(t *testing.T) {
		os.Setenv("PORT", "eighty")

		_, err := Load()
		assert.Error(t, err)
	})
}
