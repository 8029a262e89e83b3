package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/kubev2v/doctrack/pkg/log"
	"github.com/kubev2v/doctrack/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const selfSignedValidity = 365 * 24 * time.Hour

/*
Server serves the local renderer surface:
- /api/v1/status, /api/v1/visibility and /api/v1/jobs/{id}/{track,cancel} drive the tracker
- /api/v1/version returns the version of the agent
- /metrics exposes the prometheus metrics
- / serves the static renderer when a www dir is configured
*/
type Server struct {
	address       string
	configuration *Config
	restServer    *http.Server

	lock     sync.Mutex
	listener net.Listener
}

func NewServer(configuration *Config) *Server {
	return &Server{
		address:       configuration.Address,
		configuration: configuration,
	}
}

// NewRouter builds the handler of the REST surface.
func NewRouter(tracker Tracker, configuration *Config) (http.Handler, error) {
	metricsMiddleware, err := metrics.NewMiddleware("doctrack_agent")
	if err != nil {
		return nil, err
	}
	if err := metricsMiddleware.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		log.ConditionalLogger(configuration.LogLevel, zap.L(), "agent"),
		metricsMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins(configuration),
			AllowedMethods:   []string{"GET", "PUT", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		RegisterApi(r, tracker)
	})
	if configuration.WwwDir != "" {
		RegisterFileServer(router, configuration.WwwDir)
	}

	return router, nil
}

func allowedOrigins(configuration *Config) []string {
	if len(configuration.AllowedOrigins) > 0 {
		return configuration.AllowedOrigins
	}
	return []string{"http://localhost:*", "http://127.0.0.1:*", "https://localhost:*", "https://127.0.0.1:*"}
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start(tracker Tracker) error {
	router, err := NewRouter(tracker, s.configuration)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	restServer := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	s.lock.Lock()
	s.listener = l
	s.restServer = restServer
	s.lock.Unlock()

	tlsConfig, err := s.getTLSConfig(l.Addr())
	if err == nil {
		zap.S().Named("server").Infof("serving https on %s", l.Addr())
		restServer.TLSConfig = tlsConfig
		err := restServer.ServeTLS(l, "", "")
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	}
	zap.S().Named("server").Debugf("tls disabled: %s", err)

	zap.S().Named("server").Infof("serving http on %s", l.Addr())
	err = restServer.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Addr is the address the server listens on, nil until Start has bound it.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop(stopCh chan any) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.lock.Lock()
	restServer := s.restServer
	s.lock.Unlock()

	if restServer != nil {
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			zap.S().Named("server").Errorf("failed to graceful shutdown the server: %s", err)
		}
	}

	close(stopCh)
}

// getTLSConfig looks for agent.crt and agent.key in the config folder and
// falls back to a self signed certificate when enabled.
func (s *Server) getTLSConfig(addr net.Addr) (*tls.Config, error) {
	certFile := filepath.Join(s.configuration.ConfigDir, "agent.crt")
	keyFile := filepath.Join(s.configuration.ConfigDir, "agent.key")

	cert, certErr := os.ReadFile(certFile)
	key, keyErr := os.ReadFile(keyFile)
	if certErr == nil && keyErr == nil {
		serverCert, err := tls.X509KeyPair(cert, key)
		if err != nil {
			return nil, err
		}
		return &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{serverCert},
		}, nil
	}

	if !s.configuration.SelfSignedTLS {
		return nil, fmt.Errorf("no certificate in %s", s.configuration.ConfigDir)
	}

	tcpAddr, _ := addr.(*net.TCPAddr)
	return NewSelfSignedCertificateProvider(tcpAddr).TLSConfig(time.Now().Add(selfSignedValidity))
}
