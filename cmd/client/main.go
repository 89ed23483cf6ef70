package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/parley/internal/client"
	"github.com/HMasataka/parley/internal/session"
	"github.com/HMasataka/parley/pkg/config"
	pkgwebrtc "github.com/HMasataka/parley/pkg/webrtc"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config    string        `short:"c" long:"config" description:"Path to the TOML config file"`
	URL       string        `long:"url" description:"Signaling base URL, overrides signaling.url"`
	SessionID string        `long:"session-id" description:"Session ID, random when empty"`
	LogLevel  string        `long:"log-level" description:"Log level, overrides log.level"`
	Stats     time.Duration `long:"stats" description:"Interval of track statistics logs" default:"5s"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		slog.Error("client error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(opts Options) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, err
		}
	}

	if opts.URL != "" {
		cfg.Signaling.URL = opts.URL
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	return cfg, cfg.Validate()
}

func run(opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	pcOptions, err := pkgwebrtc.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	pcOptions.Transceivers = pkgwebrtc.ClientTransceivers()
	pcOptions.Renegotiate = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.OptionsFromConfig(cfg, opts.SessionID, logger), session.PeerConnectionFactory(pcOptions))
	logger.Info("connecting", slog.String("url", c.SessionURL()))

	sess, counter, err := c.Negotiate(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	var tick <-chan time.Time
	if opts.Stats > 0 {
		ticker := time.NewTicker(opts.Stats)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("closing session", slog.String("session_id", sess.ID()))
			return nil
		case <-sess.Done():
			logger.Info("session closed", slog.String("session_id", sess.ID()))
			return nil
		case <-tick:
			counter.LogStats(logger)
		}
	}
}
