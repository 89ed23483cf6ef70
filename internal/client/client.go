// Package client is the offering peer: it dials a signaling server and
// negotiates a session with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HMasataka/parley/internal/session"
	"github.com/HMasataka/parley/internal/transport"
	"github.com/HMasataka/parley/pkg/config"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	"github.com/HMasataka/parley/pkg/retry"
	"github.com/google/uuid"
)

var ErrSessionEnded = errors.New("session ended before negotiation completed")

type Options struct {
	// URL is the signaling base URL. The session id is appended to it.
	URL                string
	SessionID          string
	Redial             retry.Config
	NegotiationTimeout time.Duration
	Connection         transport.ConnectionOptions
	Sender             transport.SenderOptions
	Logger             *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		URL:        config.Default().Signaling.URL,
		Redial:     retry.DefaultConfig(),
		Connection: transport.DefaultConnectionOptions(),
		Sender:     transport.DefaultSenderOptions(),
		Logger:     slog.Default(),
	}
}

// OptionsFromConfig builds options from the loaded configuration.
func OptionsFromConfig(c config.Config, sessionID string, logger *slog.Logger) Options {
	options := DefaultOptions()
	options.URL = c.Signaling.URL
	options.SessionID = sessionID
	options.Redial = retry.Config{
		Attempts:     c.Signaling.Redial.Attempts,
		BaseInterval: time.Duration(c.Signaling.Redial.BaseInterval) * time.Millisecond,
		MaxBackoff:   time.Duration(c.Signaling.Redial.MaxBackoff) * time.Millisecond,
	}
	options.NegotiationTimeout = c.Negotiation.TimeoutDuration()
	options.Logger = logger

	return options
}

type Client struct {
	options Options
	factory session.EndpointFactory
	logger  *slog.Logger
}

// New creates a client. A random session id is used when options.SessionID
// is empty.
func New(options Options, factory session.EndpointFactory) *Client {
	if options.SessionID == "" {
		options.SessionID = uuid.NewString()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Client{
		options: options,
		factory: factory,
		logger:  options.Logger.With(slog.String("session_id", options.SessionID)),
	}
}

func (c *Client) SessionID() string {
	return c.options.SessionID
}

// SessionURL is the signaling endpoint the client dials.
func (c *Client) SessionURL() string {
	return config.SignalingConfig{URL: c.options.URL}.SessionURL(c.options.SessionID)
}

// Connect dials the signaling server and creates an offering session. The
// caller runs it.
func (c *Client) Connect(ctx context.Context) (*session.Session, *media.CountingSink, error) {
	wsConn, err := transport.Dial(ctx, c.SessionURL(), c.options.Redial, c.logger)
	if err != nil {
		return nil, nil, err
	}

	conn := transport.NewConnection(ctx, wsConn, c.options.Connection, c.options.Sender)
	conn.SetLogger(c.logger)

	router, counter := media.NewInstrumentedRouter(c.logger)

	endpoint, err := c.factory(ctx, router)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create endpoint: %w", err)
	}

	sess := session.New(ctx, conn, endpoint, router, session.Options{
		ID:                 c.options.SessionID,
		Role:               negotiation.RoleOfferer,
		NegotiationTimeout: c.options.NegotiationTimeout,
		Logger:             c.options.Logger,
	})

	return sess, counter, nil
}

// Negotiate connects, runs the session in the background and returns once
// the first round is STABLE. The session keeps running until it is closed,
// its connection ends or ctx is done.
func (c *Client) Negotiate(ctx context.Context) (*session.Session, *media.CountingSink, error) {
	sess, counter, err := c.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	ended := make(chan error, 1)
	go func() {
		err := sess.Run(ctx)
		if err != nil {
			c.logger.Warn("session ended with error", slog.String("error", err.Error()))
		}
		ended <- err
	}()

	select {
	case <-sess.Stable():
		c.logger.Info("negotiation completed", slog.Any("status", sess.Status().Negotiation))
		return sess, counter, nil
	case err := <-ended:
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if err == nil {
			err = ErrSessionEnded
		}
		return nil, nil, err
	case <-ctx.Done():
		_ = sess.Close()
		<-ended
		return nil, nil, ctx.Err()
	}
}
