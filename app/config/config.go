// Package config loads the settings shared by the api, matchmaking and
// cleaner_worker binaries.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverDynamoDB = "dynamodb"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	RedisAddress   string `mapstructure:"REDIS_ADDRESS"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	Venues          []string      `mapstructure:"VENUES"`
	SearchTTL       time.Duration `mapstructure:"SEARCH_TTL"`
	LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	ConfirmTTL      time.Duration `mapstructure:"CONFIRM_TTL"`
	CooldownTTL     time.Duration `mapstructure:"COOLDOWN_TTL"`
	MaxRatingDiff   int           `mapstructure:"MAX_RATING_DIFF"`
	ScanInterval    time.Duration `mapstructure:"SCAN_INTERVAL"`
	ScanConcurrency int           `mapstructure:"SCAN_CONCURRENCY"`
	ReaperInterval  time.Duration `mapstructure:"REAPER_INTERVAL"`
	ReaperBatchSize int           `mapstructure:"REAPER_BATCH_SIZE"`
	EngineEmbedded  bool          `mapstructure:"ENGINE_EMBEDDED"`

	StoreDriver         string `mapstructure:"STORE_DRIVER"`
	AWSRegion           string `mapstructure:"AWS_REGION"`
	DynamoRequestsTable string `mapstructure:"DYNAMO_REQUESTS_TABLE"`
	DynamoMatchesTable  string `mapstructure:"DYNAMO_MATCHES_TABLE"`
	DynamoProfilesTable string `mapstructure:"DYNAMO_PROFILES_TABLE"`
	DynamoStatusIndex   string `mapstructure:"DYNAMO_STATUS_INDEX"`
	DynamoUpdatedIndex  string `mapstructure:"DYNAMO_STATUS_UPDATED_INDEX"`

	KafkaBrokers  []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string   `mapstructure:"KAFKA_TOPIC"`
	SocketEnabled bool     `mapstructure:"SOCKET_ENABLED"`
	// SocketGroupID is the Kafka consumer group of this API instance's
	// socket bridge. Empty derives one from the hostname.
	SocketGroupID string   `mapstructure:"SOCKET_GROUP_ID"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]interface{}{
	"PORT":                        "8000",
	"REDIS_ADDRESS":               "localhost:6379",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"REDIS_KEY_PREFIX":            "",
	"VENUES":                      []string{"Gosman", "Shapiro", "IBS"},
	"SEARCH_TTL":                  30 * time.Second,
	"LOCK_TTL":                    5 * time.Second,
	"CONFIRM_TTL":                 15 * time.Second,
	"COOLDOWN_TTL":                5 * time.Second,
	"MAX_RATING_DIFF":             300,
	"SCAN_INTERVAL":               time.Second,
	"SCAN_CONCURRENCY":            0,
	"REAPER_INTERVAL":             5 * time.Second,
	"REAPER_BATCH_SIZE":           100,
	"ENGINE_EMBEDDED":             false,
	"STORE_DRIVER":                StoreDriverMemory,
	"AWS_REGION":                  "us-east-1",
	"DYNAMO_REQUESTS_TABLE":       "MatchRequests",
	"DYNAMO_MATCHES_TABLE":        "Matches",
	"DYNAMO_PROFILES_TABLE":       "Users",
	"DYNAMO_STATUS_INDEX":         "status-createdAt-index",
	"DYNAMO_STATUS_UPDATED_INDEX": "status-updatedAt-index",
	"KAFKA_BROKERS":               []string{},
	"KAFKA_TOPIC":                 "user-matchmaking",
	"SOCKET_ENABLED":              true,
	"SOCKET_GROUP_ID":             "",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "text",
}

// LoadConfig reads configuration from an app.env file in path, then from
// environment variables. A missing file is not an error. Flags whose names
// match a key (e.g. --port) take precedence over both.
func LoadConfig(path string, flags *pflag.FlagSet) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if flags != nil {
		if err = v.BindPFlags(flags); err != nil {
			return
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config in %s: %w", path, err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

func (c Config) Validate() error {
	if len(c.Venues) == 0 {
		return errors.New("VENUES must name at least one venue")
	}
	switch c.StoreDriver {
	case StoreDriverMemory, StoreDriverDynamoDB:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	for name, d := range map[string]time.Duration{
		"SEARCH_TTL":      c.SearchTTL,
		"LOCK_TTL":        c.LockTTL,
		"CONFIRM_TTL":     c.ConfirmTTL,
		"COOLDOWN_TTL":    c.CooldownTTL,
		"SCAN_INTERVAL":   c.ScanInterval,
		"REAPER_INTERVAL": c.ReaperInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Flags returns the command line flags every binary accepts.
func Flags(name, defaultPath string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ExitOnError)
	flags.String("config", defaultPath, "directory holding app.env")
	return flags
}
