// entry point of the application
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/downloader"
	"tubefetch/internal/entity"
	"tubefetch/internal/fetcher"
	httprouter "tubefetch/internal/infrastructure/delivery/http"
	"tubefetch/internal/observability"
	"tubefetch/internal/service"
	"tubefetch/internal/settings"
	"tubefetch/internal/storage"
	"tubefetch/internal/token"
	httpserver "tubefetch/pkg/http/server"
	"tubefetch/pkg/logger"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := &cli.App{
		Name:   "tubefetch",
		Usage:  "download orchestration for yt-dlp, ffmpeg and deno",
		Action: serve,
		Commands: []*cli.Command{{
			Name:   "serve",
			Usage:  "run the HTTP API and the job workers (default)",
			Action: serve,
		}, {
			Name:   "install",
			Usage:  "install every tool into the tools directory and print the versions",
			Action: install,
		}, {
			Name:      "get",
			Usage:     "download one URL in the foreground; Ctrl-C stops it",
			ArgsUsage: "URL",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "quality",
					Aliases: []string{"q"},
					Usage:   `"audio", "source", a height such as "1080", or "override:<id>[+<id>]"`,
					Value:   "1080",
				},
				&cli.StringFlag{
					Name:    "dir",
					Aliases: []string{"o"},
					Usage:   "download directory, overrides TUBEFETCH_DIR_DOWNLOAD",
				},
			},
			Action: get,
		}},
	}

	err := app.RunContext(ctx, os.Args)

	stop()

	if err != nil {
		slog.Error("tubefetch", slog.Any("error", err))
		os.Exit(1)
	}
}

// deps holds the components every command shares.
type deps struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observability.Metrics
	store   settings.Store
	dirs    settings.ToolsDirResolver
	depMgr  *depmanager.Manager
	engine  *downloader.Engine
}

func bootstrap() (*deps, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("config new: %w", err)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		log.Warn("logger level invalid; defaulting to info", slog.Any("error", err))
	}

	store, err := settings.OpenFileStore(cfg.Dir.Settings)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	metrics := observability.New(nil)
	dirs := settings.ToolsDirResolver{Store: store, Default: cfg.DepManager.BinsDir}
	fetch := fetcher.New(log, fetcher.OptionsFromConfig(cfg.Fetch), fetcher.WithMetrics(metrics))
	depMgr := depmanager.New(log, cfg, dirs, fetch, metrics)

	return &deps{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   store,
		dirs:    dirs,
		depMgr:  depMgr,
		engine:  downloader.New(log, cfg, depMgr, metrics),
	}, nil
}

func serve(c *cli.Context) error {
	ctx := c.Context

	d, err := bootstrap()
	if err != nil {
		return err
	}

	log, cfg := d.log, d.cfg

	log.InfoContext(ctx, "checking if yt-dlp, ffmpeg, deno are installed. it may take some time...")

	if err := d.depMgr.Start(ctx); err != nil {
		log.ErrorContext(ctx, "tools are not ready; install them with POST /v1/tools/install", slog.Any("error", err))
	}

	storer := storage.New(ctx, log, cfg, d.metrics)
	svc := service.New(cfg, log, storer, d.engine, d.metrics)
	tools := service.NewTools(log, d.depMgr, d.store, d.dirs)
	router := httprouter.New(log, cfg, svc, tools, d.metrics)

	httpSrv, err := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	svc.Start(ctx)

	log.InfoContext(ctx, "tubefetch started", slog.String("addr", httpSrv.Addr()))

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server stopped", slog.Any("error", err))
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("service shutdown", slog.Any("error", err))
	}

	log.Info("tubefetch shut down gracefully")

	return nil
}

// provision makes the tools usable for a one-shot command.
func provision(ctx context.Context, d *deps, tok *token.Token) error {
	if d.cfg.DepManager.UseSystemBinaries {
		return d.depMgr.SetSystemBinaries() //nolint:wrapcheck
	}

	return d.depMgr.InstallAll(ctx, tok) //nolint:wrapcheck
}

func install(c *cli.Context) error {
	d, err := bootstrap()
	if err != nil {
		return err
	}

	if err := provision(c.Context, d, token.New()); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	out := c.App.Writer

	for _, st := range d.depMgr.Status(c.Context) {
		version := st.Version
		if !st.Installed {
			version = "missing"
		}

		fmt.Fprintf(out, "%-8s %-30s %s\n", st.Name, version, st.Path)
	}

	return nil
}

func get(c *cli.Context) error {
	source := c.Args().First()
	if source == "" {
		return errors.New("get: URL is required")
	}

	d, err := bootstrap()
	if err != nil {
		return err
	}

	if dir := c.String("dir"); dir != "" {
		if d.cfg.Dir.Downloads, err = filepath.Abs(dir); err != nil {
			return fmt.Errorf("download dir: %w", err)
		}
	}

	tok := token.New()

	if err := provision(c.Context, d, tok); err != nil {
		return fmt.Errorf("provision tools: %w", err)
	}

	done := make(chan struct{})
	stopped := stopOnCancel(c.Context, done, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), consts.DefaultStopTimeout)
		defer cancel()

		if err := d.engine.StopDownload(stopCtx, tok); err != nil {
			d.log.Error("stop download", slog.Any("error", err))
		}
	})

	start := time.Now()

	output, err := d.engine.StartJob(context.WithoutCancel(c.Context), tok, source, c.String("quality"), &printSink{w: c.App.ErrWriter})

	close(done)
	<-stopped

	if err != nil {
		return fmt.Errorf("get %s: %w", source, err)
	}

	size := "unknown size"
	if info, statErr := os.Stat(output); statErr == nil {
		size = humanize.Bytes(uint64(info.Size())) //nolint:gosec
	}

	fmt.Fprintf(c.App.Writer, "%s (%s in %s)\n", output, size, time.Since(start).Round(time.Second))

	return nil
}

// stopOnCancel runs stop once ctx is cancelled, unless done is closed first.
// The returned channel is closed when the watcher exits.
func stopOnCancel(ctx context.Context, done <-chan struct{}, stop func()) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		select {
		case <-done:
		case <-ctx.Done():
			stop()
		}
	}()

	return stopped
}

// printSink reports job events on the terminal.
type printSink struct {
	w io.Writer
}

func (s *printSink) Progress(_ string, pct int) {
	fmt.Fprintf(s.w, "\rdownloading %3d%%", pct)

	if pct >= consts.FullProgress {
		fmt.Fprintln(s.w)
	}
}

func (s *printSink) Toast(_, text string, severity entity.Severity) {
	fmt.Fprintf(s.w, "\n%s: %s\n", severity, text)
}
