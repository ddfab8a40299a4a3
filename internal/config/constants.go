package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	RequestExpiryJobInterval = 5 * time.Minute
	CacheSweepInterval       = time.Minute
)

// Transient store failures are retried this many times in total.
const (
	StoreRetryAttempts  = 3
	StoreRetryBaseDelay = 25 * time.Millisecond
)

// Default rate limiting
const DefaultRateLimitPerMin = 60

// A trainer may not hold more open sessions than this after an assignment.
const TrainerSessionCapacity = 100

// Last known statistics snapshot, served when the store is unreachable.
const AssignmentStatsLastTTL = 24 * time.Hour

// Resolved bearer tokens are cached this long.
const AuthCacheTTL = time.Minute
