// Package cmd defines the CLI commands for the sbclocate executable.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/classifier"
	"github.com/govscan/sbclocate/internal/config"
	"github.com/govscan/sbclocate/internal/crawler"
	"github.com/govscan/sbclocate/internal/fetcher"
	"github.com/govscan/sbclocate/internal/logging"
	"github.com/govscan/sbclocate/internal/metrics"
	"github.com/govscan/sbclocate/internal/pipeline"
	"github.com/govscan/sbclocate/internal/registry"
	"github.com/govscan/sbclocate/internal/seed"
	"github.com/govscan/sbclocate/internal/storage"
)

var cfgFile string

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the services every subcommand needs.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *registry.PostgresStore
	docs    *storage.DocumentStore
	metrics *metrics.Metrics

	metricsSrv *http.Server
}

// newApp is a variable so tests can substitute a fake factory.
var newApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := registry.NewPostgresStore(ctx, registry.PostgresConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	docs, err := storage.New(cfg.Storage.DocumentRoot, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store, docs: docs}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		a.metrics = m

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	return a, nil
}

func (a *app) close() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// pipelineFor assembles the phase runner from the app's services.
func (a *app) pipelineFor() *pipeline.Pipeline {
	p := &pipeline.Pipeline{
		Store: a.store,
		Docs:  a.docs,
		Engine: crawler.New(crawler.Config{
			MaxDepth:     a.cfg.Crawler.MaxDepth,
			Concurrency:  a.cfg.Crawler.Concurrency,
			Delay:        a.cfg.Crawler.CrawlDelay(),
			Timeout:      a.cfg.Crawler.Timeout(),
			MaxBodyBytes: a.cfg.Crawler.MaxBodyBytes,
			UserAgent:    a.cfg.Crawler.UserAgent,
		}, a.logger),
		Pool: &classifier.Pool{
			Workers:     a.cfg.Classifier.Workers,
			ItemTimeout: a.cfg.Classifier.ItemTimeout(),
			MaxPages:    a.cfg.Classifier.MaxPages,
			Logger:      a.logger,
		},
		Metrics:   a.metrics,
		Logger:    a.logger,
		BatchSize: a.cfg.Crawler.BatchSize,
	}
	if a.cfg.Seed.GoogleAPIKey != "" {
		p.Resolver = &seed.GoogleResolver{
			APIKey:     a.cfg.Seed.GoogleAPIKey,
			EngineID:   a.cfg.Seed.GoogleEngineID,
			MaxResults: a.cfg.Seed.MaxResults,
			Logger:     a.logger,
		}
	}
	return p
}

// fetcherFor builds the trust-degrading client used by the recheck pass.
func (a *app) fetcherFor() (*fetcher.Client, error) {
	return fetcher.New(fetcher.Config{
		Timeout:      a.cfg.Fetcher.Timeout(),
		MaxBodyBytes: a.cfg.Fetcher.MaxBodyBytes,
		UserAgent:    a.cfg.Fetcher.UserAgent,
		OSCertDir:    a.cfg.Fetcher.OSCertDir,
	}, a.logger)
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbclocate",
		Short: "Locates Summary of Benefits and Coverage disclosures on government websites",
		Long: `sbclocate crawls the websites of state and local government employers,
downloads candidate PDF documents, and classifies them as Summary of
Benefits and Coverage disclosures. Results accumulate in a reconciliation
ledger keyed by organization.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses environment variables)")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newRecheckCmd())

	return cmd
}

// ExecuteContext is the entry point for the CLI. The context carries signal
// cancellation down into the phase runners.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
