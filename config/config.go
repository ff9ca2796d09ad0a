package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"geoquery/internal/domain/constants"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	defaultPath               = "."
	defaultMaxRequestBodySize = "100KB"
	defaultStorePrefix        = "geoquery"
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	// Query tunes every live query the service creates
	Query *QueryConfig `json:"query" yaml:"query"`

	// Store selects and configures the backing location store
	Store *StoreConfig `json:"store" yaml:"store"`

	// PubSub configuration for event publishing
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	// Watches are standing queries started with the service
	Watches []WatchConfig `json:"watches" yaml:"watches"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// QueryConfig defines reconciliation and cleanup tuning for live queries
type QueryConfig struct {
	// Number of tracked ranges above which a reconciliation schedules a cleanup
	CleanupThreshold int `json:"cleanupThreshold" yaml:"cleanupThreshold"`

	// Debounce delay of a scheduled cleanup
	CleanupDelay time.Duration `json:"cleanupDelay" yaml:"cleanupDelay"`

	// Period of the unconditional cleanup sweep
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`

	// Radius used by streaming queries that do not pass one
	DefaultRadiusKm float64 `json:"defaultRadiusKm" yaml:"defaultRadiusKm"`

	// Largest radius a client may request
	MaxRadiusKm float64 `json:"maxRadiusKm" yaml:"maxRadiusKm"`
}

// StoreConfig defines the backing location store
type StoreConfig struct {
	// Driver type: "memory" for in-process or "redis"
	Driver string `json:"driver" yaml:"driver"`

	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig defines the redis connection for the redis driver
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`

	// Key prefix shared by the records hash, the geohash index and the change channel
	Prefix string `json:"prefix" yaml:"prefix"`
}

// PubSubConfig defines Pub/Sub configuration for event publishing
type PubSubConfig struct {
	// Provider type: "local" for local HTTP, "google" for Google Pub/Sub, empty to disable
	Provider string `json:"provider" yaml:"provider"`

	// Google Cloud project ID (for google provider)
	ProjectID string `json:"projectId" yaml:"projectId"`

	// Pub/Sub topic ID (for google provider)
	TopicID string `json:"topicId" yaml:"topicId"`

	// Local HTTP endpoint for development (for local provider)
	LocalEndpoint string `json:"localEndpoint" yaml:"localEndpoint"`

	// Key event types to publish, all of them when empty
	Events []string `json:"events" yaml:"events"`

	// Per-watch topic overrides by watch name (for google provider)
	WatchTopics map[string]string `json:"watchTopics" yaml:"watchTopics"`
}

// WatchConfig defines a standing query
type WatchConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	RadiusKm  float64 `json:"radiusKm" yaml:"radiusKm"`
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	// Build list of paths to search for config file
	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			abs := filepath.Join(pwd, path)
			searchPaths = append(searchPaths, abs)
		}
	}

	// Try to find and load the config file
	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	// Load YAML config file
	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	// Load environment variables
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			// Convert ENV_VAR_NAME to path and align each segment with existing YAML keys.
			// Example: QUERY_CLEANUPDELAY -> query.cleanupDelay (not query.cleanupdelay)
			key := canonicalizeEnvKey(k, existingConfigMap)

			return key, v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	// Unmarshal into the config struct (case-insensitive to match env vars)
	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				// Case-insensitive matching for env var overrides
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Env.Env) == "" {
		cfg.Env.Env = constants.EnvDevelop
	}
	if strings.TrimSpace(cfg.HTTP.MaxRequestBodySize) == "" {
		cfg.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}

	if cfg.Query == nil {
		cfg.Query = &QueryConfig{}
	}
	if cfg.Store == nil {
		cfg.Store = &StoreConfig{}
	}
	if strings.TrimSpace(cfg.Store.Redis.Prefix) == "" {
		cfg.Store.Redis.Prefix = defaultStorePrefix
	}
	if cfg.PubSub == nil {
		cfg.PubSub = &PubSubConfig{}
	}

	// Build watches from environment variables (WATCHES_0_NAME, WATCHES_0_LATITUDE, etc.)
	cfg.Watches = append(cfg.Watches, buildWatchesFromEnv()...)

	return cfg, nil
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}

// buildWatchesFromEnv builds extra watches from environment variables.
// Environment variable format: WATCHES_{index}_{field}
// Example: WATCHES_0_NAME, WATCHES_0_LATITUDE, WATCHES_0_LONGITUDE, WATCHES_0_RADIUSKM
func buildWatchesFromEnv() []WatchConfig {
	var watches []WatchConfig

	for i := 0; ; i++ {
		prefix := "WATCHES_" + strconv.Itoa(i) + "_"

		name := os.Getenv(prefix + "NAME")
		lat, latErr := strconv.ParseFloat(os.Getenv(prefix+"LATITUDE"), 64)
		lng, lngErr := strconv.ParseFloat(os.Getenv(prefix+"LONGITUDE"), 64)
		radius, radiusErr := strconv.ParseFloat(os.Getenv(prefix+"RADIUSKM"), 64)
		if name == "" || latErr != nil || lngErr != nil || radiusErr != nil {
			// No more watches or incomplete configuration.
			break
		}

		watches = append(watches, WatchConfig{
			Name:      name,
			Latitude:  lat,
			Longitude: lng,
			RadiusKm:  radius,
		})
	}

	return watches
}
