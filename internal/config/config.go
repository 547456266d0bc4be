// Package config provides application configuration management for lesca:
// environment-variable defaults, an optional YAML overlay, bound clamping,
// and hot-reload of the YAML overlay via fsnotify.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Upper/lower bounds enforced by Validate, preventing pathological
// configuration from exhausting memory or file descriptors.
const (
	maxBrowserPoolSize  = 20
	maxMaxSessions      = 10000
	minAPIKeyLength     = 16
	maxCircuitThreshold = 1000
)

// Config holds every tunable of the core substrate. Zero value is not
// meaningful; use Load to populate defaults, then Validate to clamp.
type Config struct {
	// Logging (ambient stack)
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	// Browser Pool (§4.F)
	BrowserPoolMinSize    int           `yaml:"browserPoolMinSize"`
	BrowserPoolMaxSize    int           `yaml:"browserPoolMaxSize"`
	BrowserPoolMaxIdle    time.Duration `yaml:"browserPoolMaxIdle"`
	BrowserAcquireTimeout time.Duration `yaml:"browserAcquireTimeout"`
	BrowserLaunchTimeout  time.Duration `yaml:"browserLaunchTimeout"`
	BrowserHeadless       bool          `yaml:"browserHeadless"`
	BrowserPath           string        `yaml:"browserPath"`
	PageReuse             bool          `yaml:"pageReuse"`
	IdleSweepInterval     time.Duration `yaml:"idleSweepInterval"`

	// Session Pool Manager (§4.G)
	PoolRetryOnFailure bool `yaml:"poolRetryOnFailure"`
	PoolMaxRetries     int  `yaml:"poolMaxRetries"`

	// Circuit Breaker (§4.E)
	CircuitThreshold      int           `yaml:"circuitThreshold"`
	CircuitCooldown       time.Duration `yaml:"circuitCooldown"`
	CircuitHalfOpenProbes int           `yaml:"circuitHalfOpenProbes"`

	// Session Store (§4.C) + Cleanup (§4.D)
	SessionsDir          string        `yaml:"sessionsDir"`
	SessionEncryptionKey string        `yaml:"-"` // from LESCA_ENCRYPTION_KEY only, never serialised
	SessionMaxAge        time.Duration `yaml:"sessionMaxAge"`
	SessionMaxCount      int           `yaml:"sessionMaxCount"`
	SessionCleanupPeriod time.Duration `yaml:"sessionCleanupPeriod"`
	SessionCleanupOnBoot bool          `yaml:"sessionCleanupOnBoot"`

	// Rate Limiter (§4.A)
	RateLimitMinDelay time.Duration `yaml:"rateLimitMinDelay"`
	RateLimitMaxDelay time.Duration `yaml:"rateLimitMaxDelay"`
	RateLimitJitter   bool          `yaml:"rateLimitJitter"`

	// Tiered Cache (§4.B)
	CacheL1MaxEntries   int           `yaml:"cacheL1MaxEntries"`
	CacheL1DefaultTTL   time.Duration `yaml:"cacheL1DefaultTTL"`
	CacheDir            string        `yaml:"cacheDir"`
	CacheL2MaxSizeBytes int64         `yaml:"cacheL2MaxSizeBytes"`
	CacheCompression    bool          `yaml:"cacheCompression"`

	// Batch Executor (§4.I)
	BatchConcurrency        int           `yaml:"batchConcurrency"`
	BatchContinueOnError    bool          `yaml:"batchContinueOnError"`
	BatchDelayBetween       time.Duration `yaml:"batchDelayBetween"`
	BatchProgressFile       string        `yaml:"batchProgressFile"`

	// Metrics Collector (§4.H)
	MetricsWindow         time.Duration `yaml:"metricsWindow"`
	MetricsMaxHistorySize int           `yaml:"metricsMaxHistorySize"`
	MetricsPrometheusAddr string        `yaml:"metricsPrometheusAddr"`

	// Stealth Manager (§4.J) — contract-only, evasion scripts are opaque
	StealthEnabled bool `yaml:"stealthEnabled"`

	// Target site (CLI §6) — spec.md deliberately never names a real
	// site, so this defaults to a generic placeholder and is meant to be
	// overridden per deployment.
	BaseURL string `yaml:"baseURL"`
}

// Load reads defaults from the environment, then overlays a YAML file at
// yamlPath if it exists (missing file is not an error — env-only configs
// are valid).
func Load(yamlPath string) (*Config, error) {
	c := loadFromEnv()
	if yamlPath == "" {
		return c, nil
	}
	if err := c.overlayYAML(yamlPath); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

func loadFromEnv() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel: getEnvString("LESCA_LOG_LEVEL", "info"),
		LogFile:  getEnvString("LESCA_LOG_FILE", ""),

		BrowserPoolMinSize:    getEnvInt("LESCA_POOL_MIN_SIZE", 1),
		BrowserPoolMaxSize:    getEnvInt("LESCA_POOL_MAX_SIZE", 3),
		BrowserPoolMaxIdle:    getEnvDuration("LESCA_POOL_MAX_IDLE", 5*time.Minute),
		BrowserAcquireTimeout: getEnvDuration("LESCA_POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		BrowserLaunchTimeout:  getEnvDuration("LESCA_BROWSER_LAUNCH_TIMEOUT", 30*time.Second),
		BrowserHeadless:       getEnvBool("LESCA_HEADLESS", true),
		BrowserPath:           getEnvString("LESCA_BROWSER_PATH", ""),
		PageReuse:             getEnvBool("LESCA_PAGE_REUSE", true),
		IdleSweepInterval:     getEnvDuration("LESCA_IDLE_SWEEP_INTERVAL", 30*time.Second),

		PoolRetryOnFailure: getEnvBool("LESCA_POOL_RETRY_ON_FAILURE", true),
		PoolMaxRetries:     getEnvInt("LESCA_POOL_MAX_RETRIES", 3),

		CircuitThreshold:      getEnvInt("LESCA_CIRCUIT_THRESHOLD", 5),
		CircuitCooldown:       getEnvDuration("LESCA_CIRCUIT_COOLDOWN", 30*time.Second),
		CircuitHalfOpenProbes: getEnvInt("LESCA_CIRCUIT_HALF_OPEN_PROBES", 1),

		SessionsDir:          getEnvString("LESCA_SESSIONS_DIR", defaultSessionsDir(home)),
		SessionEncryptionKey: os.Getenv("LESCA_ENCRYPTION_KEY"),
		SessionMaxAge:        getEnvDuration("LESCA_SESSION_MAX_AGE", 30*24*time.Hour),
		SessionMaxCount:      getEnvInt("LESCA_SESSION_MAX_COUNT", 100),
		SessionCleanupPeriod: getEnvDuration("LESCA_SESSION_CLEANUP_PERIOD", 1*time.Hour),
		SessionCleanupOnBoot: getEnvBool("LESCA_SESSION_CLEANUP_ON_BOOT", true),

		RateLimitMinDelay: getEnvDuration("LESCA_RATE_LIMIT_MIN_DELAY", 500*time.Millisecond),
		RateLimitMaxDelay: getEnvDuration("LESCA_RATE_LIMIT_MAX_DELAY", 2*time.Second),
		RateLimitJitter:   getEnvBool("LESCA_RATE_LIMIT_JITTER", true),

		CacheL1MaxEntries:   getEnvInt("LESCA_CACHE_L1_MAX_ENTRIES", 500),
		CacheL1DefaultTTL:   getEnvDuration("LESCA_CACHE_L1_TTL", 5*time.Minute),
		CacheDir:            getEnvString("LESCA_CACHE_DIR", defaultCacheDir(home)),
		CacheL2MaxSizeBytes: int64(getEnvInt("LESCA_CACHE_L2_MAX_MB", 512)) * 1024 * 1024,
		CacheCompression:    getEnvBool("LESCA_CACHE_COMPRESSION", true),

		BatchConcurrency:     getEnvInt("LESCA_BATCH_CONCURRENCY", 3),
		BatchContinueOnError: getEnvBool("LESCA_BATCH_CONTINUE_ON_ERROR", true),
		BatchDelayBetween:    getEnvDuration("LESCA_BATCH_DELAY_BETWEEN", 1*time.Second),
		BatchProgressFile:    getEnvString("LESCA_BATCH_PROGRESS_FILE", "./.lesca-progress.json"),

		MetricsWindow:         getEnvDuration("LESCA_METRICS_WINDOW", 1*time.Minute),
		MetricsMaxHistorySize: getEnvInt("LESCA_METRICS_MAX_HISTORY", 1000),
		MetricsPrometheusAddr: getEnvString("LESCA_METRICS_PROMETHEUS_ADDR", ""),

		StealthEnabled: getEnvBool("LESCA_STEALTH_ENABLED", true),

		BaseURL: getEnvString("LESCA_BASE_URL", "https://problems.example"),
	}
}

func defaultSessionsDir(home string) string {
	if home == "" {
		return ".lesca/sessions"
	}
	return home + "/.lesca/sessions"
}

func defaultCacheDir(home string) string {
	if home == "" {
		return ".lesca/cache"
	}
	return home + "/.lesca/cache"
}

// overlayYAML parses yamlPath and merges non-zero fields over c. The
// encryption key never comes from YAML (tagged "-"), only the environment.
func (c *Config) overlayYAML(yamlPath string) error {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return err
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	mergeNonZero(c, &overlay)
	return nil
}

// mergeNonZero overlays every non-zero-valued string, int and duration
// field of src onto dst. Bool fields are not overlaid: dst keeps its
// environment-derived value for every bool, whatever the YAML says. It is
// deliberately explicit per-field (no reflection) to keep the merge order
// and field set auditable as Config grows.
func mergeNonZero(dst, src *Config) {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.BrowserPoolMinSize != 0 {
		dst.BrowserPoolMinSize = src.BrowserPoolMinSize
	}
	if src.BrowserPoolMaxSize != 0 {
		dst.BrowserPoolMaxSize = src.BrowserPoolMaxSize
	}
	if src.BrowserPoolMaxIdle != 0 {
		dst.BrowserPoolMaxIdle = src.BrowserPoolMaxIdle
	}
	if src.BrowserAcquireTimeout != 0 {
		dst.BrowserAcquireTimeout = src.BrowserAcquireTimeout
	}
	if src.BrowserLaunchTimeout != 0 {
		dst.BrowserLaunchTimeout = src.BrowserLaunchTimeout
	}
	if src.BrowserPath != "" {
		dst.BrowserPath = src.BrowserPath
	}
	if src.IdleSweepInterval != 0 {
		dst.IdleSweepInterval = src.IdleSweepInterval
	}
	if src.PoolMaxRetries != 0 {
		dst.PoolMaxRetries = src.PoolMaxRetries
	}
	if src.CircuitThreshold != 0 {
		dst.CircuitThreshold = src.CircuitThreshold
	}
	if src.CircuitCooldown != 0 {
		dst.CircuitCooldown = src.CircuitCooldown
	}
	if src.CircuitHalfOpenProbes != 0 {
		dst.CircuitHalfOpenProbes = src.CircuitHalfOpenProbes
	}
	if src.SessionsDir != "" {
		dst.SessionsDir = src.SessionsDir
	}
	if src.SessionMaxAge != 0 {
		dst.SessionMaxAge = src.SessionMaxAge
	}
	if src.SessionMaxCount != 0 {
		dst.SessionMaxCount = src.SessionMaxCount
	}
	if src.SessionCleanupPeriod != 0 {
		dst.SessionCleanupPeriod = src.SessionCleanupPeriod
	}
	if src.RateLimitMinDelay != 0 {
		dst.RateLimitMinDelay = src.RateLimitMinDelay
	}
	if src.RateLimitMaxDelay != 0 {
		dst.RateLimitMaxDelay = src.RateLimitMaxDelay
	}
	if src.CacheL1MaxEntries != 0 {
		dst.CacheL1MaxEntries = src.CacheL1MaxEntries
	}
	if src.CacheL1DefaultTTL != 0 {
		dst.CacheL1DefaultTTL = src.CacheL1DefaultTTL
	}
	if src.CacheDir != "" {
		dst.CacheDir = src.CacheDir
	}
	if src.CacheL2MaxSizeBytes != 0 {
		dst.CacheL2MaxSizeBytes = src.CacheL2MaxSizeBytes
	}
	if src.BatchConcurrency != 0 {
		dst.BatchConcurrency = src.BatchConcurrency
	}
	if src.BatchDelayBetween != 0 {
		dst.BatchDelayBetween = src.BatchDelayBetween
	}
	if src.BatchProgressFile != "" {
		dst.BatchProgressFile = src.BatchProgressFile
	}
	if src.MetricsWindow != 0 {
		dst.MetricsWindow = src.MetricsWindow
	}
	if src.MetricsMaxHistorySize != 0 {
		dst.MetricsMaxHistorySize = src.MetricsMaxHistorySize
	}
	if src.MetricsPrometheusAddr != "" {
		dst.MetricsPrometheusAddr = src.MetricsPrometheusAddr
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
}

// Watch starts an fsnotify watch on yamlPath and invokes onChange with a
// freshly-loaded Config (env defaults + the new overlay) whenever the file
// is written. Watch returns at once; the watch runs in its own goroutine
// until the returned stop function closes the underlying watcher, which
// callers call on shutdown.
func Watch(yamlPath string, onChange func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(yamlPath); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(yamlPath)
				if err != nil {
					log.Warn().Err(err).Str("path", yamlPath).Msg("config reload failed, keeping previous config")
					continue
				}
				cfg.Validate()
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return watcher.Close, nil
}

// Validate clamps every bound-sensitive field to a sane range, logging a
// warning for each correction it makes.
func (c *Config) Validate() {
	if c.BrowserPoolMinSize < 0 {
		log.Warn().Int("value", c.BrowserPoolMinSize).Msg("pool min size negative, using 0")
		c.BrowserPoolMinSize = 0
	}
	if c.BrowserPoolMaxSize < 1 {
		log.Warn().Int("value", c.BrowserPoolMaxSize).Msg("pool max size invalid, using 3")
		c.BrowserPoolMaxSize = 3
	} else if c.BrowserPoolMaxSize > maxBrowserPoolSize {
		log.Warn().Int("value", c.BrowserPoolMaxSize).Int("max", maxBrowserPoolSize).Msg("pool max size too large, capping")
		c.BrowserPoolMaxSize = maxBrowserPoolSize
	}
	if c.BrowserPoolMinSize > c.BrowserPoolMaxSize {
		log.Warn().Int("min", c.BrowserPoolMinSize).Int("max", c.BrowserPoolMaxSize).Msg("pool min exceeds max, clamping min to max")
		c.BrowserPoolMinSize = c.BrowserPoolMaxSize
	}

	if c.BrowserAcquireTimeout < time.Second {
		log.Warn().Dur("value", c.BrowserAcquireTimeout).Msg("acquire timeout too short, using 30s")
		c.BrowserAcquireTimeout = 30 * time.Second
	}

	if c.CircuitThreshold < 1 {
		log.Warn().Int("value", c.CircuitThreshold).Msg("circuit threshold invalid, using 5")
		c.CircuitThreshold = 5
	} else if c.CircuitThreshold > maxCircuitThreshold {
		c.CircuitThreshold = maxCircuitThreshold
	}
	if c.CircuitHalfOpenProbes < 1 {
		c.CircuitHalfOpenProbes = 1
	}

	if c.SessionMaxCount < 0 {
		c.SessionMaxCount = 0
	} else if c.SessionMaxCount > maxMaxSessions {
		c.SessionMaxCount = maxMaxSessions
	}

	if c.RateLimitMaxDelay < c.RateLimitMinDelay {
		log.Warn().
			Dur("min", c.RateLimitMinDelay).
			Dur("max", c.RateLimitMaxDelay).
			Msg("rate limit max delay below min, setting max = min")
		c.RateLimitMaxDelay = c.RateLimitMinDelay
	}

	if c.CacheL1MaxEntries < 1 {
		c.CacheL1MaxEntries = 1
	}

	if c.BatchConcurrency < 1 {
		log.Warn().Int("value", c.BatchConcurrency).Msg("batch concurrency invalid, using 1")
		c.BatchConcurrency = 1
	}

	if c.MetricsMaxHistorySize < 1 {
		c.MetricsMaxHistorySize = 1
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.SessionEncryptionKey != "" && len(c.SessionEncryptionKey) < minAPIKeyLength {
		log.Warn().Int("length", len(c.SessionEncryptionKey)).Msg("LESCA_ENCRYPTION_KEY is shorter than recommended minimum")
	}
}

// Helper functions for environment variable parsing (kept in the teacher's
// idiom: parse, log a warning on failure, fall back to the default).

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil && duration > 0 {
			return duration
		}
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}
