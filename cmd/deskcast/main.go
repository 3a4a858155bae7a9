// Command deskcast is a demo RTMP publisher: it replays pre-encoded video
// and audio frame files from disk at a fixed rate, as a stand-in for a
// screen-capture/encode pipeline, to exercise this module's publishing
// client end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	rtmp "github.com/arlobyte/rtmpcast"
	"github.com/arlobyte/rtmpcast/internal/logger"
)

func main() {
	overrides, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if overrides.showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig(overrides.configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deskcast: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.Logger().With("component", "cli")

	conn, err := rtmp.Open(cfg.DestinationURL, cfg.StreamKey, cfg.SendRingBytes)
	if err != nil {
		log.Error("failed to open connection", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !waitUntilReady(ctx, conn) {
		if conn.IsError() {
			log.Error("connection failed before stream ready", "error", conn.Err())
		} else {
			log.Info("shutdown signal received before stream ready")
		}
		conn.Close()
		os.Exit(1)
	}
	log.Info("stream ready", "stream_id", conn.StreamID(), "version", version)

	if err := sendConfig(conn, cfg); err != nil {
		log.Error("failed to send stream config", "error", err)
		conn.Close()
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if cfg.Video != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runVideoSource(ctx, log, conn, cfg.Video); err != nil && ctx.Err() == nil {
				log.Error("video source stopped", "error", err)
			}
		}()
	}
	if cfg.Audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runAudioSource(ctx, log, conn, cfg.Audio); err != nil && ctx.Err() == nil {
				log.Error("audio source stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		conn.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("publisher stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// waitUntilReady polls the connection until it reaches StateStreamReady,
// fails, or ctx is cancelled, returning false in the latter two cases.
func waitUntilReady(ctx context.Context, conn *rtmp.Connection) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if conn.IsStreaming() {
			return true
		}
		if conn.IsError() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
