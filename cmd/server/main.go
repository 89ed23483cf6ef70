package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/parley/internal/server"
	"github.com/HMasataka/parley/internal/session"
	"github.com/HMasataka/parley/pkg/config"
	"github.com/HMasataka/parley/pkg/turn"
	pkgwebrtc "github.com/HMasataka/parley/pkg/webrtc"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config   string `short:"c" long:"config" description:"Path to the TOML config file"`
	Listen   string `long:"listen" description:"Listen address, overrides signaling.listen"`
	LogLevel string `long:"log-level" description:"Log level, overrides log.level"`
	Turn     bool   `long:"turn" description:"Run the embedded TURN relay"`
	TLS      bool   `long:"tls" description:"Serve HTTPS, self-signed unless signaling.tls has a key pair"`
	Static   string `long:"static" description:"Directory served at the root, overrides signaling.static"`
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
		slog.Error("server error", slog.String("error", err.Error()))
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

	if opts.Listen != "" {
		cfg.Signaling.Listen = opts.Listen
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Turn {
		cfg.Turn.Enabled = true
	}
	if opts.TLS {
		cfg.Signaling.TLS.Enabled = true
	}
	if opts.Static != "" {
		cfg.Signaling.Static = opts.Static
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

	if cfg.Turn.Enabled {
		relay, err := turn.NewServer(cfg.Turn, logger)
		if err != nil {
			return fmt.Errorf("start turn server: %w", err)
		}
		defer relay.Close()
	}

	pcOptions, err := pkgwebrtc.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	s := server.New(context.Background(), server.OptionsFromConfig(cfg, logger), session.PeerConnectionFactory(pcOptions))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	logger.Info("shutting down server...", slog.Int("sessions", s.Registry().Len()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
