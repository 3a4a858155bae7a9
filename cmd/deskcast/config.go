package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// runConfig is the demo publisher's run profile: where to publish, what
// already-encoded media to read from disk and replay, and how big a send
// ring to give the connection. Destination/stream key/ring size come from
// the YAML profile; log level and the profile path itself can be overridden
// on the command line, the same split the teacher's own CLI uses between
// flags.go and a broader settings struct.
type runConfig struct {
	DestinationURL string `yaml:"destination_url"`
	StreamKey      string `yaml:"stream_key"`
	SendRingBytes  int    `yaml:"send_ring_bytes"`
	LogLevel       string `yaml:"log_level"`

	Video *mediaSource `yaml:"video"`
	Audio *mediaSource `yaml:"audio"`
}

// mediaSource names a directory of pre-encoded frame files this demo
// producer replays in filename order, standing in for a real capture/encode
// pipeline (out of scope for this module).
type mediaSource struct {
	FramesDir         string  `yaml:"frames_dir"`
	FrameRateHz       float64 `yaml:"frame_rate_hz"`
	DecoderConfigFile string  `yaml:"decoder_config_file"`
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	SampleRateHz      int     `yaml:"sample_rate_hz"`
	Channels          int     `yaml:"channels"`
}

type cliOverrides struct {
	configPath  string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (*cliOverrides, error) {
	fs := flag.NewFlagSet("deskcast", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	o := &cliOverrides{}
	fs.StringVar(&o.configPath, "config", "deskcast.yaml", "Path to the run profile (YAML)")
	fs.StringVar(&o.logLevel, "log-level", "", "Override the profile's log level: debug|info|warn|error")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// loadConfig decodes path as strict YAML (unknown fields rejected) and
// applies any CLI override before validating.
func loadConfig(path string, overrides *cliOverrides) (*runConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &runConfig{SendRingBytes: 1 << 20, LogLevel: "info"}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if overrides.logLevel != "" {
		cfg.LogLevel = overrides.logLevel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *runConfig) validate() error {
	if c.DestinationURL == "" {
		return errors.New("destination_url is required")
	}
	u, err := url.Parse(c.DestinationURL)
	if err != nil {
		return fmt.Errorf("invalid destination_url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return fmt.Errorf("destination_url must use rtmp://, got %q", u.Scheme)
	}
	if c.StreamKey == "" {
		return errors.New("stream_key is required")
	}
	if c.SendRingBytes <= 0 {
		return errors.New("send_ring_bytes must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Video == nil && c.Audio == nil {
		return errors.New("at least one of video or audio must be configured")
	}
	return nil
}
