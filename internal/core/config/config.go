// Package config loads engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled          bool
	Topic            string
	Brokers          []string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

type Config struct {
	Addr     string
	LogLevel string

	// dataset source: an absolute base URL wins over a local directory
	DataBaseURL      string
	DataDir          string
	DataPathTemplate string

	TileURL string

	PanelWidthPx float64
	InitialLon   float64
	InitialLat   float64
	InitialZoom  float64

	PayloadCacheEnabled bool
	RedisAddr           string
	PayloadCacheTTL     time.Duration

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DataBaseURL:      getenv("DATA_BASE_URL", ""),
		DataDir:          getenv("DATA_DIR", "public/data"),
		DataPathTemplate: getenv("DATA_PATH_TEMPLATE", "h3_scale_%d.json"),

		TileURL: getenv("TILE_URL", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),

		PanelWidthPx: getfloat("PANEL_WIDTH_PX", 400),
		InitialLon:   getfloat("INITIAL_LON", -2.0),
		InitialLat:   getfloat("INITIAL_LAT", 54.0),
		InitialZoom:  getfloat("INITIAL_ZOOM", 5.5),

		PayloadCacheEnabled: getbool("PAYLOAD_CACHE_ENABLED", false),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		PayloadCacheTTL:     getduration("PAYLOAD_CACHE_TTL", 0),

		Invalidation: InvalidationCfg{
			Enabled:          getbool("INVALIDATION_ENABLED", false),
			Topic:            getenv("KAFKA_TOPIC", "dataset-published"),
			Brokers:          splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			GroupID:          getenv("KAFKA_GROUP_ID", "density-engine"),
			SessionTimeout:   getduration("KAFKA_SESSION_TIMEOUT", 10*time.Second),
			Heartbeat:        getduration("KAFKA_HEARTBEAT", 3*time.Second),
			RebalanceTimeout: getduration("KAFKA_REBALANCE_TIMEOUT", 60*time.Second),
			InitialOldest:    getbool("KAFKA_INITIAL_OLDEST", false),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
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

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
