package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cvgorod/chat-insights/internal/analyzer"
	"github.com/cvgorod/chat-insights/internal/classifier"
	"github.com/cvgorod/chat-insights/internal/storage"
	"github.com/cvgorod/chat-insights/pkg/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var configPath string

	root := &cobra.Command{
		Use:          "analyzer",
		Short:        "Incremental chat classification pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	root.AddCommand(newAnalyzeCmd(logger, &configPath))
	root.AddCommand(newBackfillCmd(logger, &configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func newAnalyzeCmd(logger *zap.Logger, configPath *string) *cobra.Command {
	opts := analyzer.RunOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze customer expectations for recently active chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, clf, err := setup(logger, *configPath, opts.DryRun)
			if err != nil {
				return err
			}
			defer store.Close()

			if opts.ActiveHours == 0 {
				opts.ActiveHours = cfg.Analyzer.ActiveHours
			}
			if opts.ContextDays == 0 {
				opts.ContextDays = cfg.Analyzer.ContextDays
			}
			if opts.MaxMessages == 0 {
				opts.MaxMessages = cfg.Analyzer.MaxMessages
			}
			if opts.Concurrency == 0 {
				opts.Concurrency = cfg.Analyzer.Concurrency
			}

			a := analyzer.New(store, clf, cfg.Analyzer.CachePath, logger)
			doc, err := a.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			logger.Info("run summary",
				zap.Int("active_chats", doc.Stats.ActiveChats),
				zap.Int("analyzed", doc.Stats.Analyzed),
				zap.Int("skipped", doc.Stats.Skipped),
				zap.Int("failed", doc.Stats.Failed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "reanalyze chats even when the cached result is fresh")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap the number of chats to process (0 = all)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "read-side work only, no provider calls and no cache write")
	cmd.Flags().IntVar(&opts.ActiveHours, "active-hours", 0, "activity lookback window in hours")
	cmd.Flags().IntVar(&opts.ContextDays, "context-days", 0, "context lookback window in days")
	cmd.Flags().IntVar(&opts.MaxMessages, "max-messages", 0, "maximum messages per conversation window")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "maximum concurrent provider calls")

	return cmd
}

func newBackfillCmd(logger *zap.Logger, configPath *string) *cobra.Command {
	opts := analyzer.BackfillOptions{}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill per-message intent and sentiment analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, clf, err := setup(logger, *configPath, opts.DryRun)
			if err != nil {
				return err
			}
			defer store.Close()

			if opts.Days == 0 {
				opts.Days = cfg.Backfill.Days
			}
			if opts.BatchSize == 0 {
				opts.BatchSize = cfg.Backfill.BatchSize
			}
			if opts.Concurrency == 0 {
				opts.Concurrency = cfg.Backfill.Concurrency
			}

			b := analyzer.NewBackfill(store, clf, logger)
			stats, err := b.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			logger.Info("backfill summary",
				zap.Int("processed", stats.Processed),
				zap.Int("saved", stats.Saved),
				zap.Int("batches", stats.Batches))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 0, "how many days back to analyze")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "batch fetch size")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "maximum concurrent provider calls")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "walk the backlog without classifying or saving")

	return cmd
}

func setup(logger *zap.Logger, configPath string, dryRun bool) (*config.Config, storage.MessageStore, classifier.Classifier, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.DeepSeek.APIKey == "" && !dryRun {
		return nil, nil, nil, errors.New("DEEPSEEK_API_KEY is not set")
	}

	store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	clf := classifier.NewDeepSeekClassifier(
		cfg.DeepSeek.APIKey,
		cfg.DeepSeek.BaseURL,
		cfg.DeepSeek.Model,
		cfg.DeepSeek.MaxTokens,
		cfg.DeepSeek.Temperature,
		logger,
	)

	return cfg, store, clf, nil
}
