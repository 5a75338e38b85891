// Command rtmpsess runs the RTMP server, or probes a remote stream with -probe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/logger"
	"rtmpsess/internal/server"
	"rtmpsess/internal/svc/rtmpclient"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	probeURL := flag.String("probe", "", "Play rtmp://host/app/stream and report what arrives, then exit")
	probeFrames := flag.Int("probe-frames", 50, "Media frames to wait for in probe mode")
	probeTimeout := flag.Duration("probe-timeout", 15*time.Second, "Probe deadline")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *probeURL != "" {
		if err := runProbe(cfg, log, *probeURL, *probeFrames, *probeTimeout); err != nil {
			log.Error("probe failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	srv := server.New(cfg, log)
	shutdownHandler := server.NewShutdownHandler(context.Background(), srv)

	go func() {
		if err := srv.Start(shutdownHandler.Context()); err != nil {
			log.Error("server error", zap.Error(err))
			_ = srv.ShutdownWithTimeout()
			os.Exit(1)
		}
	}()

	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server shut down cleanly")
}

func runProbe(cfg *config.Config, log *zap.Logger, rawURL string, frames int, timeout time.Duration) error {
	target, err := rtmpclient.ParseURL(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := rtmpclient.Play(ctx, target, rtmpclient.SessionConfig(cfg), frames, log)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Uint32("stream_id", res.StreamID),
		zap.Int("audio_frames", res.AudioFrames),
		zap.Int("video_frames", res.VideoFrames),
		zap.Duration("first_frame", res.FirstFrame),
		zap.Bool("stopped", res.Stopped),
	}
	if md := res.Metadata; md != nil {
		fields = append(fields, zap.Any("metadata", md.Properties()))
	}
	log.Info("probe result", fields...)
	return nil
}
