package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"log/slog"

	rtmp "github.com/arlobyte/rtmpcast"
)

// frameFiles lists dir's entries in sorted filename order: the demo
// producer's stand-in for a capture/encode pipeline handing over
// already-timestamped payloads in presentation order.
func frameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, filepath.Join(dir, e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// runVideoSource replays src's frame files at src.FrameRateHz, stopping when
// ctx is cancelled or the files are exhausted. Every frame after the first
// is treated as an inter frame; this demo has no keyframe-interval concept
// since real keyframe placement is the encoder's call, not this core's.
func runVideoSource(ctx context.Context, log *slog.Logger, conn *rtmp.Connection, src *mediaSource) error {
	files, err := frameFiles(src.FramesDir)
	if err != nil {
		return err
	}
	period := time.Duration(float64(time.Second) / src.FrameRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	const timeBase = 1000 // caller clock ticks are already milliseconds
	var tickMs int64
	for i, path := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read frame %q: %w", path, err)
		}
		if !conn.SendVideo(tickMs, tickMs, timeBase, data, i == 0) {
			log.Warn("video frame dropped", "path", path)
		}
		tickMs += int64(period / time.Millisecond)
	}
	return nil
}

func runAudioSource(ctx context.Context, log *slog.Logger, conn *rtmp.Connection, src *mediaSource) error {
	files, err := frameFiles(src.FramesDir)
	if err != nil {
		return err
	}
	period := time.Duration(float64(time.Second) / src.FrameRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	const timeBase = 1000
	var tickMs int64
	for _, path := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read frame %q: %w", path, err)
		}
		if !conn.SendAudio(tickMs, timeBase, data) {
			log.Warn("audio frame dropped", "path", path)
		}
		tickMs += int64(period / time.Millisecond)
	}
	return nil
}

// sendConfig builds and stages the onMetaData/decoder-config packets from
// the profile's video/audio sections, once the connection reports ready.
func sendConfig(conn *rtmp.Connection, cfg *runConfig) error {
	var video *rtmp.VideoConfig
	var audio *rtmp.AudioConfig

	if cfg.Video != nil {
		record, err := os.ReadFile(cfg.Video.DecoderConfigFile)
		if err != nil {
			return fmt.Errorf("read video decoder config: %w", err)
		}
		video = &rtmp.VideoConfig{
			Width:               cfg.Video.Width,
			Height:              cfg.Video.Height,
			FrameRate:           cfg.Video.FrameRateHz,
			DecoderConfigRecord: record,
		}
	}
	if cfg.Audio != nil {
		record, err := os.ReadFile(cfg.Audio.DecoderConfigFile)
		if err != nil {
			return fmt.Errorf("read audio decoder config: %w", err)
		}
		audio = &rtmp.AudioConfig{
			SampleRate:     cfg.Audio.SampleRateHz,
			Channels:       cfg.Audio.Channels,
			SpecificConfig: record,
		}
	}

	if !conn.SendConfig("deskcast", video, audio) {
		return fmt.Errorf("send config: stream not ready or already configured")
	}
	return nil
}
