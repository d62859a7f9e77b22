package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dkeye/MeetRecorder/internal/adapters/download"
	"github.com/dkeye/MeetRecorder/internal/adapters/hostws"
	router "github.com/dkeye/MeetRecorder/internal/adapters/http"
	"github.com/dkeye/MeetRecorder/internal/app/capture"
	"github.com/dkeye/MeetRecorder/internal/app/monitor"
	"github.com/dkeye/MeetRecorder/internal/app/orch"
	"github.com/dkeye/MeetRecorder/internal/bus"
	"github.com/dkeye/MeetRecorder/internal/config"
	"github.com/dkeye/MeetRecorder/internal/media/container"
	"github.com/dkeye/MeetRecorder/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("recorder stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("recorder exited gracefully")
}

func setupLogging(cfg config.LogConfig) {
	if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, rotator))
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("store close")
		}
	}()

	b := bus.New(cfg.Bus.RequestTimeout)

	bridge := hostws.New(cfg.Host)
	bridge.PingPeriod = cfg.PingPeriod
	bridge.ReadLimit = cfg.ReadLimit
	defer bridge.Close()

	launcher := capture.NewLauncher(ctx, capture.Deps{
		Bus:       b,
		Tabs:      bridge,
		Media:     bridge,
		Encoders:  container.Factory{CloseWait: cfg.Capture.CloseTimeout},
		Downloads: download.NewFileSink(cfg.Downloads.Dir),
		Store:     st,
		Playback:  bridge,
	}, cfg.Capture)

	o := orch.New(b, st, bridge, launcher, cfg.Orchestrator)

	monitors := monitor.NewManager(ctx, monitor.Deps{
		Bus:    b,
		Store:  st,
		Pages:  bridge,
		Status: bridge,
	}, cfg.Monitor)
	bridge.Events = monitors

	h := &router.Handlers{
		Recorder: o,
		Meetings: monitors,
		Host:     bridge,
		Store:    st,
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the orchestrator outlives the monitors so their final stop requests land
	orchCtx, orchCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer orchCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.Run(orchCtx)
	})
	g.Go(func() error {
		log.Info().Str("module", "main").Str("addr", addr).Msg("recorder started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "main").Msg("shutting down")

		monitors.Close()
		orchCancel()
		launcher.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
		}
		return nil
	})

	return g.Wait()
}
