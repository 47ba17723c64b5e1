package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/config"
	"github.com/xxxsen/convorag/internal/handler"
	"github.com/xxxsen/convorag/internal/job"
	"github.com/xxxsen/convorag/internal/middleware"
	"github.com/xxxsen/convorag/internal/schedule"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "convorag",
		Short:        "question answering over conversation transcripts",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run api server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}

	var userID, transcriptID string
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the vectors of one transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || transcriptID == "" {
				return fmt.Errorf("--user and --transcript are required")
			}
			ctx := cmd.Context()
			a, err := setup(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.qa.Reindex(ctx, userID, transcriptID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d points\n", transcriptID, n)
			return nil
		},
	}
	reindexCmd.Flags().StringVar(&userID, "user", "", "owner user id")
	reindexCmd.Flags().StringVar(&transcriptID, "transcript", "", "transcript id")

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "delete every vector of one transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transcriptID == "" {
				return fmt.Errorf("--transcript is required")
			}
			ctx := cmd.Context()
			a, err := setup(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.indexer.PurgeTranscript(ctx, transcriptID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s: %d points\n", transcriptID, n)
			return nil
		},
	}
	purgeCmd.Flags().StringVar(&transcriptID, "transcript", "", "transcript id")

	purgeUserCmd := &cobra.Command{
		Use:   "purge-user",
		Short: "delete every vector owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			ctx := cmd.Context()
			a, err := setup(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.indexer.PurgeUser(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged user %s: %d points\n", userID, n)
			return nil
		},
	}
	purgeUserCmd.Flags().StringVar(&userID, "user", "", "user id")

	rootCmd.AddCommand(runCmd, reindexCmd, purgeCmd, purgeUserCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func setup(ctx context.Context, configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", configPath))
	return loadApp(ctx, cfg)
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	deps := handler.RouterDeps{
		QA:        handler.NewQAHandler(a.qa),
		JWTSecret: []byte(cfg.JWTSecret),
		AskWindow: time.Duration(cfg.RateLimit.AskWindowMS) * time.Millisecond,
		Metrics:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins...),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewStaleIndexJob(a.indexer, cfg.Jobs.StaleIndexBatch), cfg.Jobs.StaleIndexSpec); err != nil {
		return err
	}
	if cfg.Embedding.DBCache {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Jobs.CacheCleanupMaxAgeDays)
		if err := scheduler.AddJob(cleanup, cfg.Jobs.CacheCleanupSpec); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
