package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/imageapp/api"
	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/logger"
	"github.com/chaos-io/imageapp/rembg"
	"github.com/chaos-io/imageapp/server"
	"github.com/chaos-io/imageapp/upload"
	"github.com/chaos-io/imageapp/worker"
)

// NewServeCmd HTTP 服务
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve starts the HTTP API:

  POST /remove-background   multipart "image" -> processed.png
  POST /generate-image      {"prompt": "..."} -> {"status":"success","image_url":"..."}
  GET  /health
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Env: cfg.Env, InstanceID: cfg.InstanceID, Dir: cfg.LogDir})
	if err != nil {
		return err
	}
	log.Install()
	defer func() {
		_ = log.Close()
	}()

	store, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	sweeper, err := upload.NewSweeper(store, cfg.UploadSweepSchedule, cfg.UploadMaxAge, log.Logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	ropts, err := removerOptions(cfg)
	if err != nil {
		return err
	}
	remover, err := rembg.New(ropts)
	if err != nil {
		return fmt.Errorf("create remover: %w", err)
	}
	defer func() {
		if err := rembg.Close(remover); err != nil {
			log.Error("close remover failed", "err", err)
		}
	}()

	gen := newGenerator(cfg.Generator)
	defer func() {
		if err := gen.Close(); err != nil {
			log.Error("close generator failed", "err", err)
		}
	}()

	h := api.NewHandler(remover, gen, worker.NewPool(cfg.Workers), store, api.Options{
		InstanceID:      cfg.InstanceID,
		MaxImageSide:    cfg.MaxImageSide,
		RemoveTimeout:   cfg.RemoveTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
	}, log.Logger)
	srv := server.New(cfg, log.Logger, h)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		warmRemover(gctx, log.Logger, remover)
		return nil
	})
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	if err := store.Clean(); err != nil {
		log.Error("clean upload dir failed", "dir", store.Dir(), "err", err)
	}
	return runErr
}

// warmRemover 后台下载模型，失败只记录日志，首个请求会再试一次
func warmRemover(ctx context.Context, log *slog.Logger, r rembg.Remover) {
	start := time.Now()
	if err := rembg.Warm(ctx, r); err != nil {
		log.Error("warm up remover failed", "err", err)
		return
	}
	log.Info("remover ready", "elapsed", time.Since(start))
}
