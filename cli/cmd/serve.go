package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/draftmill/draftmill/pkg/cache"
	appconfig "github.com/draftmill/draftmill/pkg/config"
	"github.com/draftmill/draftmill/pkg/database"
	"github.com/draftmill/draftmill/pkg/grpcutil"
	"github.com/draftmill/draftmill/pkg/telemetry"
	"github.com/draftmill/draftmill/pkg/wordfilter"
	"github.com/draftmill/draftmill/services/gen"
	"github.com/draftmill/draftmill/services/tasks"
)

const serviceName = "draftmill"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the draftmill server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	base, err := appconfig.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     serviceName,
		ServiceVersion:  base.Version,
		Environment:     base.Environment,
		OTLPEndpoint:    base.OTLPEndpoint,
		TracingEnabled:  base.TracingEnabled,
		TracingSampling: base.TracingSampling,
		LogLevel:        base.LogLevel,
		LogFormat:       base.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	logger := tp.Logger()

	// Provider settings source
	var source gen.ProviderSource
	var db *database.DB
	if base.UsePostgresSettings() {
		db, err = database.Connect(ctx, &database.Config{
			Host:     base.DBHost,
			Port:     base.DBPort,
			User:     base.DBUser,
			Password: base.DBPassword,
			Database: base.DBName,
			SSLMode:  base.DBSSLMode,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		store := gen.NewSettingsStore(db)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		source = gen.StoreSource(store)
		logger.Info("provider settings from postgres", "host", base.DBHost)
	} else {
		source = gen.FileSource(base.ProvidersFile)
		logger.Info("provider settings from file", "path", base.ProvidersFile)
	}

	// Response cache backend
	var responses gen.ResponseStore
	if base.UseRedisCache() {
		rc, err := cache.Connect(ctx, base.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rc.Close()
		responses = gen.NewRedisResponseStore(rc.WithLogger(logger))
		logger.Info("response cache on redis")
	} else {
		mem := cache.NewMemory(
			cache.WithCapacity(base.CacheCapacity),
			cache.WithSweepInterval(base.CacheSweep),
		)
		defer mem.Close()
		responses = gen.NewMemoryResponseStore(mem)
		logger.Info("response cache in memory", "capacity", base.CacheCapacity)
	}

	strategy := gen.StrategySequential
	if base.Strategy == "random" {
		strategy = gen.StrategyRandom
	}

	svc := gen.New(source,
		gen.WithResponseStore(responses),
		gen.WithFilter(wordfilter.New(splitWords(base.SensitiveWords))),
		gen.WithStrategy(strategy),
		gen.WithRetryDelay(base.RetryBaseDelay),
		gen.WithLogger(logger),
	)
	defer svc.Close()

	providers, err := svc.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	for _, p := range providers {
		logger.Info("provider configured",
			"provider", string(p.ID),
			"model", p.DefaultModel,
			"available", p.Available,
			"default", p.Default,
		)
	}

	queue := tasks.NewQueue(
		tasks.WithWorkers(base.QueueWorkers),
		tasks.WithCapacity(base.QueueCapacity),
		tasks.WithTick(base.QueueTick),
		tasks.WithQueueLogger(logger),
	)

	// Probe provider availability off the request path shortly after start.
	_, err = queue.Schedule(ctx, "provider-availability-probe",
		func(taskCtx context.Context, report tasks.ReportFunc) (any, error) {
			report(50, "checking providers")
			infos, err := svc.ListProviders(taskCtx)
			if err != nil {
				return nil, err
			}
			available := 0
			for _, info := range infos {
				if info.Available {
					available++
				}
			}
			return fmt.Sprintf("%d/%d providers available", available, len(infos)), nil
		}, time.Now().Add(5*time.Second))
	if err != nil {
		logger.Warn("failed to schedule availability probe", "error", err)
	}

	server := grpcutil.NewServer(grpcutil.DefaultServerConfig(base.GRPCPort, serviceName), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("task queue shutdown incomplete", "error", err)
	}

	return runErr
}

// splitWords parses the comma-separated sensitive-word list.
func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if w := strings.TrimSpace(p); w != "" {
			words = append(words, w)
		}
	}
	return words
}
