// Package server assembles the tachyon server process: the server peer, its websocket
// and QUIC transports, health and metrics endpoints.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/tachyon/internal/config"
	"github.com/zeusync/tachyon/internal/core/dispatch"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/observability/metrics"
	"github.com/zeusync/tachyon/internal/peer/prefab"
	peer "github.com/zeusync/tachyon/internal/peer/server"
	"github.com/zeusync/tachyon/internal/transport"
	"github.com/zeusync/tachyon/internal/transport/quic"
	"github.com/zeusync/tachyon/internal/transport/websocket"
)

// ShutdownTimeout bounds graceful shutdown once the run context ends.
const ShutdownTimeout = 10 * time.Second

// Server runs one tachyon server peer behind every configured transport.
type Server struct {
	config   config.Config
	logger   log.Log
	metrics  *metrics.Dispatch
	gatherer prometheus.Gatherer

	peer *peer.Server[transport.Socket]
	ids  *transport.IDs
	ws   *websocket.Server

	running atomic.Bool
}

// New builds the server. m may be nil to run without metrics; gatherer serves the
// metrics endpoint and should be the registry m is registered with.
func New(cfg config.Config, logger log.Log, m *metrics.Dispatch, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = log.Provide()
	}

	dispatchOpts := []dispatch.Option{dispatch.WithRegistryShards(cfg.Registry.Shards)}
	if m != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(m))
	}

	p := peer.New[transport.Socket](transport.Sender, peer.Options[transport.Socket]{
		Logger:   logger,
		Prefabs:  prefab.NewCatalog(cfg.Prefabs),
		Dispatch: dispatchOpts,
	})

	ids := &transport.IDs{}
	ws := websocket.NewServer(p.Dispatcher(), ids, websocket.Config{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	}, logger)

	return &Server{
		config:   cfg,
		logger:   logger.With(log.String("component", "server")),
		metrics:  m,
		gatherer: gatherer,
		peer:     p,
		ids:      ids,
		ws:       ws,
	}
}

// Peer returns the server peer.
func (s *Server) Peer() *peer.Server[transport.Socket] {
	return s.peer
}

// Run serves until ctx ends, then shuts every transport down. It returns the first
// listener error.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	defer s.running.Store(false)

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var quicListener *quic.Listener
	if s.config.QUIC.Enabled {
		quicListener, err = s.listenQUIC()
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server started",
			log.String("addr", ln.Addr().String()),
			log.String("path", s.config.Server.Path),
			log.Int64("max_message_size", s.config.Server.MaxMessageSize),
			log.Bool("metrics", s.config.Metrics.Enabled))
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if quicListener != nil {
		g.Go(func() error {
			return quicListener.Serve(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down", log.Duration("timeout", ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if quicListener != nil {
			_ = quicListener.Close()
		}
		if err := s.ws.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("WebSocket shutdown incomplete", log.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) listenQUIC() (*quic.Listener, error) {
	var (
		tlsConfig *tls.Config
		err       error
	)
	if s.config.QUIC.CertFile != "" {
		tlsConfig, err = quic.LoadTLS(s.config.QUIC.CertFile, s.config.QUIC.KeyFile)
	} else {
		s.logger.Warn("No QUIC certificate configured, using a self-signed one")
		tlsConfig, err = quic.GenerateSelfSignedTLS()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: quic tls: %v", ErrListenerFailed, err)
	}

	ln, err := quic.Listen(s.config.QUICAddr(), tlsConfig, s.peer.Dispatcher(), s.ids, quic.Config{
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.ReadTimeout,
		MaxMessageSize: int(s.config.Server.MaxMessageSize),
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}
	return ln, nil
}
