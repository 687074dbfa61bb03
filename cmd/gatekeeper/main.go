package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/elum-utils/gatekeeper/adapters/ai"
	"github.com/elum-utils/gatekeeper/adapters/logger"
	"github.com/elum-utils/gatekeeper/adapters/metrics"
	"github.com/elum-utils/gatekeeper/adapters/ocr"
	"github.com/elum-utils/gatekeeper/adapters/storage"
	"github.com/elum-utils/gatekeeper/classifier"
	"github.com/elum-utils/gatekeeper/core"
	"github.com/elum-utils/gatekeeper/interfaces"
	"github.com/elum-utils/gatekeeper/internal/api"
	"github.com/elum-utils/gatekeeper/internal/config"
	"github.com/elum-utils/gatekeeper/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}

	l := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = l.Sync() }()
	logs := logger.NewZapAdapter(l)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, "gatekeeper")

	gen, closeGen, err := newGenerator(cfg)
	if err != nil {
		l.Fatal("classifier provider error", zap.Error(err), zap.String("provider", string(cfg.Provider)))
	}
	defer closeGen()

	cl, err := classifier.New(classifier.Options{
		Generator:  gen,
		Timeout:    cfg.Timeout,
		RetryDelay: cfg.RetryDelay,
		Logger:     logs,
		Metrics:    collector,
	})
	if err != nil {
		l.Fatal("classifier error", zap.Error(err))
	}

	var store interfaces.Storage
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			l.Fatal("database open error", zap.Error(err))
		}
		defer db.Close()
		sa, err := storage.NewSQLAdapter(db, cfg.TermsTable)
		if err != nil {
			l.Fatal("terms storage error", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = sa.EnsureSchema(ctx)
		cancel()
		if err != nil {
			l.Fatal("terms schema error", zap.Error(err))
		}
		store = sa
		l.Info("terms storage enabled", zap.String("table", cfg.TermsTable))
	}

	extractor := ocr.NewTesseractAdapter(ocr.Options{
		Binary:   cfg.OCRBinary,
		Language: cfg.OCRLanguage,
		Timeout:  cfg.OCRTimeout,
		TempDir:  cfg.OCRTempDir,
		MaxBytes: cfg.OCRMaxBytes,
	})

	c := core.New(core.Options{
		Classifier:   cl,
		Extractor:    extractor,
		Storage:      store,
		Policy:       policy.New(policy.Options{Risky: cfg.RiskyMode, Overrides: cfg.RiskyOverride}),
		Logger:       logs,
		Metrics:      collector,
		Terms:        cfg.Terms,
		MaxTextBytes: cfg.MaxTextBytes,
	})
	if err := c.Load(context.Background()); err != nil {
		l.Fatal("prefilter load error", zap.Error(err))
	}

	opts := api.Options{MaxImageBytes: extractor.MaxBytes(), Logger: l}
	if cfg.OCRRateLimit > 0 {
		opts.OCRLimit = api.RateLimit(cfg.OCRRateLimit, int(cfg.OCRRateLimit*2))
	}
	mux := http.NewServeMux()
	api.New(c, opts).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		// Metrics must stay innermost so it sees the pattern set by the mux.
		Handler:           api.Chain(mux, api.RequestID(), api.Recovery(l), api.RequestLogger(l), api.Metrics(collector)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		l.Info("shutting down", zap.String("signal", sig.String()))

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			l.Error("shutdown error", zap.Error(err))
		}
	}()

	l.Info("starting moderation server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("provider", cl.Provider()),
		zap.Int("terms", c.TermCount()),
		zap.String("risky_mode", string(cfg.RiskyMode)),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Fatal("server error", zap.Error(err))
	}
}

func newGenerator(cfg *config.Cfg) (interfaces.Generator, func(), error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		g, err := ai.NewOpenAIAdapter(ai.OpenAIOptions{
			Name:    string(config.ProviderOpenAI),
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return g, func() {}, nil
	default:
		g, err := ai.NewGeminiAdapter(context.Background(), ai.GeminiOptions{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Endpoint: cfg.BaseURL,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return g, func() { _ = g.Close() }, nil
	}
}
