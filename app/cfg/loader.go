package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

const (
	minStalenessThreshold = 10 * 60
	maxStalenessThreshold = 15 * 60
)

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBDriver   string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" description:"Database driver"`
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/streams.db" description:"SQLite database file"`
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Postgres host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Postgres port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"rss_user" description:"Postgres user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" description:"Postgres password"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"rss_streams" description:"Postgres database name"`
	DBSSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"disable" description:"Postgres sslmode"`

	// Application configuration
	StreamsDir        string `long:"streams-dir" env:"STREAMS_DIR" default:"./streams" description:"Directory containing stream seed files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL used for hub callbacks (e.g., https://streams.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Poller wake-up interval in seconds"`

	// Poller configuration
	StalenessThreshold int  `long:"staleness-threshold" env:"STALENESS_THRESHOLD" default:"600" description:"Seconds a stream must age before it is polled again (600-900)"`
	PollerEnabled      bool `long:"poller-enabled" env:"POLLER_ENABLED" description:"Enable the poller on a fresh database"`
	PollerConfigTTL    int  `long:"poller-config-ttl" env:"POLLER_CONFIG_TTL" default:"60" description:"Seconds the poller toggle is cached"`
	LeaseTTL           int  `long:"lease-ttl" env:"LEASE_TTL" default:"300" description:"Seconds a poller lease stays valid"`
	FetchTimeout       int  `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Timeout in seconds for outbound HTTP requests"`

	// Activity sink
	ActivityURL       string `long:"activity-url" env:"ACTIVITY_URL" default:"http://mavenn.com/2010-10-17/streams/{stream_id}/activity" description:"Activity endpoint, {stream_id} is replaced"`
	ActivityAPIKey    string `long:"activity-api-key" env:"ACTIVITY_API_KEY" description:"Activity endpoint basic auth user"`
	ActivityAuthToken string `long:"activity-auth-token" env:"ACTIVITY_AUTH_TOKEN" description:"Activity endpoint basic auth password"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Streams/1.0" description:"User agent string for HTTP requests"`
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	LogFile   string `long:"log-file" env:"LOG_FILE" description:"Optional log file, rotated by size"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments instead of os.Args when args is non-nil.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBDriver:           raw.DBDriver,
		DBPath:             raw.DBPath,
		DBHost:             raw.DBHost,
		DBPort:             raw.DBPort,
		DBUser:             raw.DBUser,
		DBPassword:         raw.DBPassword,
		DBName:             raw.DBName,
		DBSSLMode:          raw.DBSSLMode,
		StreamsDir:         raw.StreamsDir,
		Port:               raw.Port,
		BaseUrl:            raw.BaseUrl,
		WorkerCount:        raw.WorkerCount,
		SchedulerInterval:  raw.SchedulerInterval,
		StalenessThreshold: raw.StalenessThreshold,
		PollerEnabled:      raw.PollerEnabled,
		PollerConfigTTL:    raw.PollerConfigTTL,
		LeaseTTL:           raw.LeaseTTL,
		FetchTimeout:       raw.FetchTimeout,
		ActivityURL:        raw.ActivityURL,
		ActivityAPIKey:     raw.ActivityAPIKey,
		ActivityAuthToken:  raw.ActivityAuthToken,
		UserAgent:          raw.UserAgent,
		LogLevel:           raw.LogLevel,
		LogFile:            raw.LogFile,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	positiveFields := map[string]int{
		"worker count":       cfg.WorkerCount,
		"scheduler interval": cfg.SchedulerInterval,
		"poller config ttl":  cfg.PollerConfigTTL,
		"lease ttl":          cfg.LeaseTTL,
		"fetch timeout":      cfg.FetchTimeout,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	cfg.StalenessThreshold = min(max(cfg.StalenessThreshold, minStalenessThreshold), maxStalenessThreshold)

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
