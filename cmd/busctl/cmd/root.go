// Package cmd provides the busctl operator commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jrepp/prism-msgbus/internal/config"
	"github.com/jrepp/prism-msgbus/internal/consume"
	"github.com/jrepp/prism-msgbus/internal/dlq"
	"github.com/jrepp/prism-msgbus/internal/drivers/legacy"
	"github.com/jrepp/prism-msgbus/internal/drivers/sqsdriver"
	"github.com/jrepp/prism-msgbus/internal/idempotency"
	"github.com/jrepp/prism-msgbus/internal/listener"
	"github.com/jrepp/prism-msgbus/internal/metrics"
	"github.com/jrepp/prism-msgbus/internal/notify"
	"github.com/jrepp/prism-msgbus/internal/publish"
	"github.com/jrepp/prism-msgbus/internal/queue"
	"github.com/jrepp/prism-msgbus/internal/router"
)

// Listeners is the static event-type -> handler registry the consume
// command dispatches into. A service embedding busctl registers its
// handlers here before calling Execute.
var Listeners = listener.NewRegistry()

var configPath string

// app bundles every wired component a subcommand might need. It is
// built once in PersistentPreRunE and shared across the command tree,
// matching spec.md §9's "pass explicitly to constructors" resolution.
type app struct {
	cfg       *config.Config
	resolver  *queue.Resolver
	publisher *publish.Publisher
	router    *router.Router
	store     *idempotency.Store
	dlqTools  *dlq.Tools

	notifier    notify.Notifier
	metricsSink metrics.Sink

	sqsAPI      *sqs.Client
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	legacy      *legacy.Driver
}

var bus *app

var rootCmd = &cobra.Command{
	Use:   "busctl",
	Short: "Operate the durable message bus",
	Long: `busctl is the operator CLI for the durable message bus: it
provisions queues, runs the consumer loop, and inspects, replays, and
monitors dead-letter queues.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		built, err := buildApp(cmd.Context(), configPath)
		if err != nil {
			return fmt.Errorf("busctl: %w", err)
		}
		bus = built
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = "0.1.0"
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "busctl.yaml", "path to the configuration bundle")
}

// buildApp loads the configuration bundle and wires every collaborator
// the commands depend on against their real backends.
func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	sqsAPI := sqs.NewFromConfig(awsCfg)

	resolver := queue.NewResolver(sqsAPI, cfg.Prefix)
	publisher := publish.New(sqsAPI, resolver, cfg.Service)
	managedDriver := sqsdriver.New(publisher)

	var legacyDriver *legacy.Driver
	if cfg.Driver == router.Legacy || cfg.DualWrite || cfg.FallbackToLegacy {
		legacyDriver, err = legacy.Connect(legacy.Config{URL: cfg.Legacy.URL})
		if err != nil {
			return nil, fmt.Errorf("connect legacy driver: %w", err)
		}
	}

	var legDriver router.Driver
	if legacyDriver != nil {
		legDriver = legacyDriver
	}
	r := router.New(cfg.RouterConfig(), managedDriver, legDriver, resolver, cfg.Service)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pgPool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := idempotency.New(idempotency.NewRedisCache(redisClient), pgPool).
		WithTTLs(cfg.ProcessingTTL(), cfg.ProcessedTTL())

	var notifier notify.Notifier = notify.NewLogNotifier(nil)

	var metricsSink metrics.Sink = metrics.Noop{}
	if cfg.CloudWatch.Enabled {
		cwAPI := cloudwatch.NewFromConfig(awsCfg)
		metricsSink = metrics.NewCloudWatch(cwAPI, cfg.CloudWatch.Namespace)
	}

	dlqTools := dlq.New(sqsAPI, resolver, publisher, notifier)

	if cfg.AutoEnsure {
		for _, q := range configuredQueueSet(cfg) {
			if _, err := resolver.Resolve(ctx, q); err != nil {
				return nil, fmt.Errorf("auto_ensure: %s: %w", q, err)
			}
		}
	}

	return &app{
		cfg:         cfg,
		resolver:    resolver,
		publisher:   publisher,
		router:      r,
		store:       store,
		dlqTools:    dlqTools,
		notifier:    notifier,
		metricsSink: metricsSink,
		sqsAPI:      sqsAPI,
		redisClient: redisClient,
		pgPool:      pgPool,
		legacy:      legacyDriver,
	}, nil
}

func (a *app) newConsumeLoop(logicalQueue string) *consume.Loop {
	return consume.New(a.sqsAPI, a.resolver, a.store, Listeners, a.metricsSink, a.notifier, consume.Config{
		LogicalQueue:                 logicalQueue,
		Service:                      a.cfg.Service,
		LongRunningEvents:            a.cfg.LongRunningEvents,
		ValidationErrorRateThreshold: a.cfg.ValidationErrorRateThreshold,
		TransientErrorRateThreshold:  a.cfg.TransientErrorRateThreshold,
	})
}

const defaultCommandTimeout = 30 * time.Second
