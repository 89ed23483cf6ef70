// Package server accepts signaling connections and runs one answering
// session per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HMasataka/parley/internal/session"
	"github.com/HMasataka/parley/internal/transport"
	"github.com/HMasataka/parley/pkg/config"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	ws "github.com/gorilla/websocket"
)

type Options struct {
	Listen             string
	SignalingPath      string
	TLS                TLSOptions
	StaticDir          string
	NegotiationTimeout time.Duration
	Connection         transport.ConnectionOptions
	Sender             transport.SenderOptions
	Logger             *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Listen:        ":8080",
		SignalingPath: "/signaling",
		Connection:    transport.DefaultConnectionOptions(),
		Sender:        transport.DefaultSenderOptions(),
		Logger:        slog.Default(),
	}
}

// OptionsFromConfig builds options from the loaded configuration.
func OptionsFromConfig(c config.Config, logger *slog.Logger) Options {
	options := DefaultOptions()
	options.Listen = c.Signaling.Listen
	options.SignalingPath = c.Signaling.Path
	options.TLS = TLSOptions{
		Enabled:  c.Signaling.TLS.Enabled,
		CertFile: c.Signaling.TLS.CertFile,
		KeyFile:  c.Signaling.TLS.KeyFile,
		Redirect: c.Signaling.TLS.Redirect,
	}
	options.StaticDir = c.Signaling.Static
	options.NegotiationTimeout = c.Negotiation.TimeoutDuration()
	options.Logger = logger

	return options
}

type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	options    Options
	registry   *session.Registry
	factory    session.EndpointFactory
	upgrader   ws.Upgrader
	httpServer *http.Server
	redirect   *http.Server
	logger     *slog.Logger
}

func New(ctx context.Context, options Options, factory session.EndpointFactory) *Server {
	ctx, cancel := context.WithCancel(ctx)

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		options:  options,
		registry: session.NewRegistry(),
		factory:  factory,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: options.Logger,
	}

	s.httpServer = &http.Server{
		Addr:              options.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if options.TLS.Enabled && options.TLS.Redirect != "" {
		s.redirect = &http.Server{
			Addr:              options.TLS.Redirect,
			Handler:           redirectHandler(options.Listen),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Handler serves the signaling, RPC and health endpoints, plus the static
// directory at the root when one is configured.
func (s *Server) Handler() http.Handler {
	path := strings.TrimSuffix(s.options.SignalingPath, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path+"/{sessionId}", s.handleSignaling)
	mux.HandleFunc("GET /rpc", s.handleRPC)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.options.StaticDir != "" {
		mux.Handle("GET /", staticFiles{root: os.DirFS(s.options.StaticDir)})
	}

	return mux
}

// ListenAndServe blocks until the server is shut down. With TLS enabled it
// serves HTTPS and, when configured, the redirect listener.
func (s *Server) ListenAndServe() error {
	if !s.options.TLS.Enabled {
		s.logger.Info("signaling server starting", slog.String("addr", s.options.Listen))
		return ignoreClosed(s.httpServer.ListenAndServe())
	}

	tlsConfig, err := s.options.TLS.config()
	if err != nil {
		return err
	}
	s.httpServer.TLSConfig = tlsConfig

	if s.options.TLS.selfSigned() {
		s.logger.Info("created self-signed certificate")
	}

	if s.redirect != nil {
		go func() {
			s.logger.Info("https redirect starting", slog.String("addr", s.redirect.Addr))
			if err := ignoreClosed(s.redirect.ListenAndServe()); err != nil {
				s.logger.Error("https redirect failed", slog.String("error", err.Error()))
			}
		}()
	}

	s.logger.Info("signaling server starting", slog.String("addr", s.options.Listen), slog.Bool("tls", true))

	return ignoreClosed(s.httpServer.ListenAndServeTLS("", ""))
}

// Shutdown stops accepting connections and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.redirect != nil {
		err = errors.Join(err, s.redirect.Shutdown(ctx))
	}

	s.registry.CloseAll()
	s.cancel()

	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleSignaling(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	release, err := s.registry.Reserve(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer release()

	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	logger := s.logger.With(slog.String("session_id", id), slog.String("remote_addr", c.RemoteAddr().String()))

	conn := transport.NewConnection(s.ctx, c, s.options.Connection, s.options.Sender)
	conn.SetLogger(logger)

	sess, err := s.newSession(id, conn, logger)
	if err != nil {
		logger.Error("failed to create session", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	if err := sess.Run(s.ctx); err != nil {
		logger.Warn("session ended with error", slog.String("error", err.Error()))
	}
}

func (s *Server) newSession(id string, conn *transport.Connection, logger *slog.Logger) (*session.Session, error) {
	router, counter := media.NewInstrumentedRouter(logger)

	endpoint, err := s.factory(s.ctx, router)
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}

	sess := session.New(s.ctx, conn, endpoint, router, session.Options{
		ID:                 id,
		Role:               negotiation.RoleAnswerer,
		NegotiationTimeout: s.options.NegotiationTimeout,
		Logger:             logger,
	})

	sess.OnClose(func(*session.Session) {
		counter.LogStats(logger)
	})

	if err := s.registry.Add(sess); err != nil {
		_ = sess.Close()
		return nil, err
	}

	return sess, nil
}
