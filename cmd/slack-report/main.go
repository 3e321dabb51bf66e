package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/slack-report/internal/config"
	"github.com/Sternrassler/slack-report/pkg/cache"
	"github.com/Sternrassler/slack-report/pkg/client"
	"github.com/Sternrassler/slack-report/pkg/logging"
	"github.com/Sternrassler/slack-report/pkg/metrics"
	"github.com/Sternrassler/slack-report/pkg/report"
	"github.com/Sternrassler/slack-report/pkg/secrets"
	"github.com/Sternrassler/slack-report/pkg/storage"
	"github.com/Sternrassler/slack-report/pkg/workspace"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// userCacheTTL bounds how long users.info results are reused across runs.
const userCacheTTL = 12 * time.Hour

// services are the AWS collaborators of a run.
type services struct {
	secrets    *secrets.SecretsManager
	parameters *secrets.ParameterStore
	store      report.Store
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "slack-report: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "slack-report: invalid configuration: %v\n", err)
		return 1
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newAWSServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load AWS configuration")
		return 1
	}

	result, err := runReport(ctx, cfg, svc)
	pushMetrics(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Report run failed")
		return 1
	}

	if result.Empty() {
		log.Info().Str("channel", cfg.SourceChannel).Msg("No messages matched, nothing stored")
		return 0
	}

	log.Info().
		Int("messages", result.Messages).
		Int("replies", result.Replies).
		Str("url", result.URL).
		Msg("Report complete")
	return 0
}

// newAWSServices builds the AWS clients. AWS_ENDPOINT_URL points every
// service at one endpoint, e.g. LocalStack.
func newAWSServices(ctx context.Context, cfg *config.Config) (services, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return services{}, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.AWSEndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointURL != ""
	})

	return services{
		secrets:    secrets.NewSecretsManagerFromConfig(awsCfg),
		parameters: secrets.NewParameterStoreFromConfig(awsCfg),
		store:      storage.NewS3Store(s3Client),
	}, nil
}

// runReport resolves credentials, wires the Slack client and runs one report.
func runReport(ctx context.Context, cfg *config.Config, svc services) (report.Result, error) {
	logger := logging.NewLogger("runner")

	token, err := secrets.Resolve(ctx, "slack token",
		secrets.Static(cfg.SlackToken),
		svc.secrets.Lookup(cfg.SlackSecretID, cfg.SlackSecretKey),
	)
	if err != nil {
		return report.Result{}, err
	}

	bucket, err := secrets.Resolve(ctx, "report bucket",
		secrets.Static(cfg.ReportBucket),
		svc.parameters.Lookup(cfg.ReportBucketParam),
	)
	if err != nil {
		return report.Result{}, err
	}

	logger.Debug().
		Str("source", cfg.SourceChannel).
		Str("report", cfg.ReportChannel).
		Str("bucket", bucket).
		Strs("keywords", cfg.Keywords).
		Msg("Credentials resolved")

	redisClient := connectRedis(ctx, cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	clientCfg := client.DefaultConfig()
	if cfg.SlackAPIURL != "" {
		clientCfg.BaseURL = cfg.SlackAPIURL
	}
	clientCfg.MaxRateLimitRetries = cfg.MaxRateLimitRetries
	clientCfg.Redis = redisClient

	slackClient, err := client.New(clientCfg)
	if err != nil {
		return report.Result{}, fmt.Errorf("create slack client: %w", err)
	}
	defer slackClient.Close()

	reader, err := workspace.NewReader(slackClient, token, cache.NewManager(redisClient, userCacheTTL))
	if err != nil {
		return report.Result{}, err
	}

	pipeline := report.New(reader, svc.store, report.Config{})

	return pipeline.Run(ctx, report.Options{
		SourceChannel: cfg.SourceChannel,
		ReportChannel: cfg.ReportChannel,
		Keywords:      cfg.Keywords,
		Window:        cfg.Lookback,
		Bucket:        bucket,
		Prefix:        cfg.ReportPrefix,
	})
}

// connectRedis returns nil when url is empty or Redis is unreachable. The
// run then works without shared cooldowns or the user cache.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL, continuing without Redis")
		return nil
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unavailable, continuing without Redis")
		rdb.Close()
		return nil
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return rdb
}

// pushMetrics sends this run's metrics when a Pushgateway is configured.
// A push failure does not fail the run.
func pushMetrics(cfg *config.Config) {
	if cfg.PushgatewayURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := metrics.Push(ctx, cfg.PushgatewayURL, metrics.DefaultJob, map[string]string{
		"channel": cfg.SourceChannel,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Failed to push metrics")
	}
}
