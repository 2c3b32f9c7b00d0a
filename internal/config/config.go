package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Sources SourcesConfig `mapstructure:"sources"`
	Matcher MatcherConfig `mapstructure:"matcher"`
	Export  ExportConfig  `mapstructure:"export"`
	Cron    CronConfig    `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// SourcesConfig configures the feed collectors. ReferenceSource names the
// authoritative-but-slow source whose report confirms an event.
type SourcesConfig struct {
	ReferenceSource string           `mapstructure:"reference_source"`
	MinMagnitude    float64          `mapstructure:"min_magnitude"`
	FetchTimeout    time.Duration    `mapstructure:"fetch_timeout"`
	USGS            PollSourceConfig `mapstructure:"usgs"`
	JMA             PollSourceConfig `mapstructure:"jma"`
	GeoNet          PollSourceConfig `mapstructure:"geonet"`
	GFZ             PollSourceConfig `mapstructure:"gfz"`
	EMSC            PushSourceConfig `mapstructure:"emsc"`
}

type PollSourceConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type PushSourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

type MatcherConfig struct {
	TimeWindow           time.Duration `mapstructure:"time_window"`
	DistanceKm           float64       `mapstructure:"distance_km"`
	MagnitudeTolerance   float64       `mapstructure:"magnitude_tolerance"`
	SignificantMagnitude float64       `mapstructure:"significant_magnitude"`
	OpenWindow           time.Duration `mapstructure:"open_window"`
	IngestBuffer         int           `mapstructure:"ingest_buffer"`
}

type ExportConfig struct {
	Path             string        `mapstructure:"path"`
	Debounce         time.Duration `mapstructure:"debounce"`
	FallbackInterval time.Duration `mapstructure:"fallback_interval"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	OpenSetTrim string `mapstructure:"open_set_trim"`
	HealthLog   string `mapstructure:"health_log"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("sources.reference_source", "usgs")
	v.SetDefault("sources.min_magnitude", 4.5)
	v.SetDefault("sources.fetch_timeout", "30s")
	v.SetDefault("sources.usgs.enabled", true)
	v.SetDefault("sources.usgs.endpoint", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_day.geojson")
	v.SetDefault("sources.usgs.poll_interval", "60s")
	v.SetDefault("sources.jma.enabled", true)
	v.SetDefault("sources.jma.endpoint", "https://www.jma.go.jp/bosai/quake/data/list.json")
	v.SetDefault("sources.jma.poll_interval", "30s")
	v.SetDefault("sources.geonet.enabled", true)
	v.SetDefault("sources.geonet.endpoint", "https://api.geonet.org.nz/quake?MMI=-1")
	v.SetDefault("sources.geonet.poll_interval", "60s")
	v.SetDefault("sources.gfz.enabled", true)
	v.SetDefault("sources.gfz.endpoint", "https://geofon.gfz-potsdam.de/fdsnws/event/1/query")
	v.SetDefault("sources.gfz.poll_interval", "60s")
	v.SetDefault("sources.emsc.enabled", true)
	v.SetDefault("sources.emsc.url", "wss://www.seismicportal.eu/standing_order/websocket")
	v.SetDefault("sources.emsc.backoff_min", "1s")
	v.SetDefault("sources.emsc.backoff_max", "60s")

	v.SetDefault("matcher.time_window", "5m")
	v.SetDefault("matcher.distance_km", 100)
	v.SetDefault("matcher.magnitude_tolerance", 1.5)
	v.SetDefault("matcher.significant_magnitude", 7.0)
	v.SetDefault("matcher.open_window", "24h")
	v.SetDefault("matcher.ingest_buffer", 256)

	v.SetDefault("export.path", "data/pending_events.json")
	v.SetDefault("export.debounce", "10s")
	v.SetDefault("export.fallback_interval", "5m")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.open_set_trim", "@every 1h")
	v.SetDefault("cron.health_log", "@every 5m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
