// Package config loads the slack-report configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for optional settings.
const (
	DefaultLookbackHours  = 24
	DefaultReportPrefix   = "slack_messages"
	DefaultSlackSecretID  = "slack"
	DefaultSlackSecretKey = "slack_app_token"
	DefaultAWSRegion      = "ap-northeast-1"
	DefaultLogLevel       = "info"
)

// Config is the configuration of one report run.
type Config struct {
	SourceChannel string
	ReportChannel string
	Keywords      []string
	Lookback      time.Duration
	ReportPrefix  string

	// ReportBucket wins over ReportBucketParam, an SSM parameter holding the
	// bucket name.
	ReportBucket      string
	ReportBucketParam string

	// SlackToken wins over the Secrets Manager secret SlackSecretID, key
	// SlackSecretKey.
	SlackToken     string
	SlackSecretID  string
	SlackSecretKey string

	AWSRegion      string
	AWSEndpointURL string

	SlackAPIURL         string
	MaxRateLimitRetries int

	RedisURL       string
	PushgatewayURL string

	LogLevel  string
	LogPretty bool
}

// LoadDotEnv loads variables from the given files (default ".env") into the
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		SourceChannel:     strings.TrimSpace(os.Getenv("SOURCE_CHANNEL")),
		ReportChannel:     strings.TrimSpace(os.Getenv("REPORT_CHANNEL")),
		Keywords:          splitList(os.Getenv("KEYWORDS")),
		ReportPrefix:      getEnv("REPORT_PREFIX", DefaultReportPrefix),
		ReportBucket:      os.Getenv("REPORT_BUCKET"),
		ReportBucketParam: os.Getenv("REPORT_BUCKET_PARAM"),
		SlackToken:        os.Getenv("SLACK_TOKEN"),
		SlackSecretID:     getEnv("SLACK_SECRET_ID", DefaultSlackSecretID),
		SlackSecretKey:    getEnv("SLACK_SECRET_KEY", DefaultSlackSecretKey),
		AWSRegion:         getEnv("AWS_REGION", DefaultAWSRegion),
		AWSEndpointURL:    os.Getenv("AWS_ENDPOINT_URL"),
		SlackAPIURL:       os.Getenv("SLACK_API_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		PushgatewayURL:    os.Getenv("PUSHGATEWAY_URL"),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
	}

	if cfg.ReportChannel == "" {
		cfg.ReportChannel = cfg.SourceChannel
	}

	var errs []error

	hours, err := getInt("LOOKBACK_HOURS", DefaultLookbackHours)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Lookback = time.Duration(hours) * time.Hour

	cfg.MaxRateLimitRetries, err = getInt("MAX_RATE_LIMIT_RETRIES", 0)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.LogPretty, err = getBool("LOG_PRETTY", false)
	if err != nil {
		errs = append(errs, err)
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every missing or out of range setting.
func (c *Config) Validate() error {
	var errs []error

	if c.SourceChannel == "" {
		errs = append(errs, errors.New("SOURCE_CHANNEL is required"))
	}
	if len(c.Keywords) == 0 {
		errs = append(errs, errors.New("KEYWORDS is required"))
	}
	if c.Lookback <= 0 {
		errs = append(errs, fmt.Errorf("LOOKBACK_HOURS must be > 0 (got %s)", c.Lookback))
	}
	if c.ReportBucket == "" && c.ReportBucketParam == "" {
		errs = append(errs, errors.New("REPORT_BUCKET or REPORT_BUCKET_PARAM is required"))
	}
	if c.MaxRateLimitRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RATE_LIMIT_RETRIES must be >= 0 (got %d)", c.MaxRateLimitRetries))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer (got %q)", key, raw)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a boolean (got %q)", key, raw)
	}
	return v, nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
