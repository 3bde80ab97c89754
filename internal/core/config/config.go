package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

type InvalidationCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	PublicURL            string
	ServiceTitle         string
	ServiceAbstract      string
	CapabilitiesTemplate string
	MaxWidth             int
	MaxHeight            int
	LegendCacheSize      int

	Modules []string

	RedisAddr        string
	RedisPoolSize    int
	RedisOpTimeout   time.Duration
	DensityDataset   string
	DatasetCacheSize int

	H3ResMin int
	H3ResMax int

	Events       EventsCfg
	Invalidation InvalidationCfg
	Metrics      MetricsCfg
}

func FromEnv() Config {
	minRes := getint("H3_RES_MIN", 2)
	maxRes := getint("H3_RES_MAX", 9)

	if minRes < 0 {
		minRes = 0
	}
	if maxRes > 15 {
		maxRes = 15
	}
	if minRes > maxRes {
		minRes, maxRes = 2, 9
	}

	brokers := getlist("KAFKA_BROKERS", []string{"localhost:9092"})

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		PublicURL:            strings.TrimRight(getenv("PUBLIC_URL", ""), "/"),
		ServiceTitle:         getenv("SERVICE_TITLE", "wmsd"),
		ServiceAbstract:      getenv("SERVICE_ABSTRACT", "Pluggable WMS 1.3.0 server"),
		CapabilitiesTemplate: getenv("CAPABILITIES_TEMPLATE", ""),
		MaxWidth:             getint("MAX_WIDTH", 4096),
		MaxHeight:            getint("MAX_HEIGHT", 4096),
		LegendCacheSize:      getint("LEGEND_CACHE_SIZE", 128),

		Modules: getlist("MODULES", []string{"sample", "hexgrid"}),

		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:    getint("REDIS_POOL_SIZE", 16),
		RedisOpTimeout:   getduration("REDIS_OP_TIMEOUT", 2*time.Second),
		DensityDataset:   getenv("DENSITY_DATASET", "default"),
		DatasetCacheSize: getint("DATASET_CACHE_SIZE", 16),

		H3ResMin: minRes,
		H3ResMax: maxRes,

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: brokers,
			Topic:   getenv("KAFKA_TOPIC", "wms-map-events"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: brokers,
			Topic:   getenv("INVALIDATION_TOPIC", "wms-dataset-invalidation"),
			GroupID: getenv("INVALIDATION_GROUP", "wmsd"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// HasModule reports whether name was selected in MODULES.
func (c Config) HasModule(name string) bool {
	for _, m := range c.Modules {
		if m == name {
			return true
		}
	}
	return false
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a, b,,c" into [a b c]; unset or blank keeps def
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
