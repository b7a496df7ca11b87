package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"blurcam/internal/config"
	"blurcam/internal/control"
	"blurcam/internal/report"
	ui "blurcam/internal/ui"
	"blurcam/processing/compositor"
	"blurcam/processing/pipeline"
	"blurcam/processing/record"
	"blurcam/processing/segment"
)

const loadTimeout = 10 * time.Second

func main() {
	cfg := config.LoadConfigFile(config.DefaultConfigPath)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "path", config.DefaultConfigPath, "err", err)
		os.Exit(1)
	}

	segCfg := cfg.GetSegmenter()
	seg := segment.NewRemoteSegmenter(segCfg.URL, segCfg.ModelSelection)

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	err := seg.Load(ctx)
	cancel()
	if err != nil {
		var loadErr *segment.ModelLoadError
		if errors.As(err, &loadErr) {
			slog.Error("segmentation model failed to load", "url", loadErr.URL, "err", loadErr.Err)
		} else {
			slog.Error("segmentation model failed to load", "err", err)
		}
		os.Exit(1)
	}

	recCfg := cfg.GetRecording()
	rec := record.New(record.Options{
		FPS:        recCfg.FPS,
		FileName:   recCfg.FileName,
		Downloader: record.FileDownloader{Dir: recCfg.OutputDir},
	})

	blur := cfg.GetBlur()
	loop := pipeline.New(nil, seg, compositor.NewCanvas(), pipeline.Options{
		FPS:          int(cfg.GetDisplayFPS()),
		InferTimeout: cfg.InferenceTimeout(),
		Blur:         compositor.ModeOf(blur.Enabled),
		BlurRadius:   blur.Radius,
		Tap:          rec,
	})

	app := ui.CreateApp(loop, rec, cfg)

	var ctrl *control.Server
	if cfg.ControlAddr != "" {
		ctrl = control.New(cfg.ControlAddr, loop, rec, app.CameraErr)
		ctrl.Start()
	}

	reporter, err := report.New(cfg.StatsEvery, loop.Stats, rec.State, nil)
	if err != nil {
		slog.Warn("stats reporting disabled", "err", err)
	} else {
		reporter.Start()
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		err := config.Watch(watchCtx, config.DefaultConfigPath, cfg, func(fresh *config.Config) {
			b := fresh.GetBlur()
			loop.SetBlur(compositor.ModeOf(b.Enabled))
			loop.SetBlurRadius(b.Radius)
			slog.Info("blur settings reloaded", "enabled", b.Enabled, "radius", b.Radius)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		}
	}()

	app.Run()

	stopWatch()
	if reporter != nil {
		<-reporter.Stop().Done()
	}
	if ctrl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ctrl.Shutdown(ctx); err != nil {
			slog.Warn("control server shutdown", "err", err)
		}
		cancel()
	}
	if err := seg.Close(); err != nil {
		slog.Debug("closing segmenter", "err", err)
	}
}
