package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/guess-lobby-backend/internal/config"
	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/httpapi"
	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/journal"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real env vars take precedence.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, run).ExecuteContext(ctx))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sink, err := journal.Open(ctx, cfg.JournalOptions())
	if err != nil {
		return err
	}
	writer := journal.NewWriter(sink, cfg.JournalQueue, log.Named("journal"))

	s := store.New(
		store.WithRules(cfg.Rules()),
		store.WithDefaultLobby(cfg.DefaultLobby),
	)
	proc := engine.NewProcessor(s, engine.WithLogger(log.Named("engine")))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	h := hub.NewHub(hubCtx, proc,
		hub.WithLogger(log.Named("hub")),
		hub.WithRecorder(writer),
	)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(h, httpapi.Options{
			PublicURL:      cfg.PublicURL,
			OriginPatterns: cfg.OriginPatterns,
			OutboxSize:     cfg.OutboxSize,
			Log:            log.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	journalCtx, journalCancel := context.WithCancel(context.Background())
	defer journalCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("journal", cfg.Journal))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return writer.Run(journalCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serr := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		// stop the journal only after the last command has been recorded
		journalCancel()
		return serr
	})

	err = g.Wait()
	return multierr.Append(err, sink.Close())
}
