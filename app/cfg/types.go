package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Application configuration
	StreamsDir        string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int

	// Poller configuration
	StalenessThreshold int
	PollerEnabled      bool
	PollerConfigTTL    int
	LeaseTTL           int
	FetchTimeout       int

	// Activity sink
	ActivityURL       string
	ActivityAPIKey    string
	ActivityAuthToken string

	// Application metadata
	UserAgent string
	LogLevel  string
	LogFile   string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) SchedulerIntervalDuration() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

func (c *Cfg) StalenessThresholdDuration() time.Duration {
	return time.Duration(c.StalenessThreshold) * time.Second
}

func (c *Cfg) PollerConfigTTLDuration() time.Duration {
	return time.Duration(c.PollerConfigTTL) * time.Second
}

func (c *Cfg) LeaseTTLDuration() time.Duration {
	return time.Duration(c.LeaseTTL) * time.Second
}

func (c *Cfg) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}
