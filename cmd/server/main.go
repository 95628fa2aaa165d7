package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	httpadapter "sitewatch/internal/adapters/http"
	"sitewatch/internal/adapters/memory"
	pg "sitewatch/internal/adapters/postgres"
	"sitewatch/internal/config"
	"sitewatch/internal/ports"
	"sitewatch/internal/services/analysis"
	"sitewatch/internal/services/collector"
	statsvc "sitewatch/internal/services/stats"
	"sitewatch/internal/workers/analysisrunner"
)

type stores struct {
	broker   ports.JobBroker
	websites ports.WebsiteRepository
	stats    ports.StatsRepository
	close    func()
}

func main() {
	log := logrus.New()
	cfg, err := config.Load()
	if cfg.Production() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.close()

	probe := collector.New(collector.Config{
		Timeout:   cfg.Probe.Timeout,
		UserAgent: cfg.Probe.UserAgent,
	}, log.WithField("component", "collector"))
	processor := analysis.NewProcessor(st.websites, probe, cfg.Analysis.Cooldown, log.WithField("component", "processor"))
	aggregator := statsvc.New(st.stats)

	deps := httpadapter.Deps{
		Submitter:            analysis.NewSubmitter(st.broker),
		Websites:             st.websites,
		Broker:               st.broker,
		Stats:                aggregator,
		AnalyzeRatePerMinute: cfg.HTTP.AnalyzeRatePerMinute,
	}

	var runner *analysisrunner.Runner
	if cfg.Worker.Concurrency > 0 {
		runner = analysisrunner.New(st.broker, processor, st.websites, aggregator, analysisrunner.Options{
			Concurrency:   cfg.Worker.Concurrency,
			RatePerSecond: cfg.Worker.RateLimit,
			RetryInterval: cfg.Worker.PollInterval,
			DrainTimeout:  cfg.HTTP.ShutdownTimeout,
		}, log.WithField("component", "worker"))
		deps.Worker = runner
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpadapter.New(deps, log.WithField("component", "http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.ListenAddr, "store": cfg.Store}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if runner != nil {
		g.Go(func() error { return runner.Run(gctx) })
	} else {
		log.Info("in-process workers disabled")
	}
	if cfg.File != "" {
		rateLimit := cfg.Worker.RateLimit
		g.Go(func() error {
			return config.Watch(gctx, cfg.File, log.WithField("component", "config"), func(next config.Config) {
				// Only the worker rate limit is applied live; other keys need a restart.
				if runner != nil && next.Worker.RateLimit != rateLimit {
					rateLimit = next.Worker.RateLimit
					runner.SetRateLimit(rateLimit)
				}
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		st.close()
		os.Exit(1)
	}
	log.Info("stopped")
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (stores, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store; jobs and results are lost on restart")
		return stores{
			broker:   memory.NewBroker(jobOptions(cfg)),
			websites: memory.NewWebsites(),
			stats:    memory.NewStats(),
			close:    func() {},
		}, nil
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	if err := db.Migrate(ctx, log.WithField("component", "migrate")); err != nil {
		db.Close()
		return stores{}, err
	}
	return stores{
		broker:   pg.NewBroker(db, jobOptions(cfg), cfg.Worker.PollInterval),
		websites: pg.NewWebsites(db),
		stats:    pg.NewStats(db),
		close:    db.Close,
	}, nil
}

func jobOptions(cfg config.Config) ports.JobOptions {
	return ports.JobOptions{
		MaxAttempts:  cfg.Job.MaxAttempts,
		BackoffBase:  cfg.Job.BackoffBase,
		LeaseTimeout: cfg.Job.LeaseTimeout,
	}
}
