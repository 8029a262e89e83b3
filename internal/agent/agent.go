package agent

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kubev2v/doctrack/internal/config"
	"github.com/kubev2v/doctrack/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

// This variable is set during build time.
// It contains the version of the code.
var version string

// Version returns the build version of the binary.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// New creates a new agent.
func New(config *Config, env *config.Config) *Agent {
	return &Agent{
		config: config,
		env:    env,
		ready:  make(chan struct{}),
	}
}

// Agent tracks the persisted job in the background and serves the local
// renderer surface. SIGUSR1 and SIGUSR2 switch the hidden and visible polling
// cadence.
type Agent struct {
	config  *Config
	env     *config.Config
	server  *Server
	service *Service
	ready   chan struct{}
}

func (a *Agent) Run(ctx context.Context) error {
	zap.S().Named("agent").Infof("Starting agent: %s", Version())
	defer zap.S().Named("agent").Infof("Agent stopped")
	zap.S().Named("agent").Debugf("Configuration: %s", a.config.String())

	defer utilruntime.HandleCrash()

	service, err := NewService(a.config, a.env)
	if err != nil {
		return err
	}
	a.service = service

	if err := prometheus.Register(metrics.NewRecordCollector(service.Store().Record())); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			zap.S().Named("agent").Warnw("failed to register record collector", "error", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	service.Start(ctx)

	a.server = NewServer(a.config)
	serverErr := make(chan error, 1)
	go func() {
		defer utilruntime.HandleCrash()
		serverErr <- a.server.Start(service)
	}()
	close(a.ready)

	for {
		select {
		case <-ctx.Done():
			return a.stop()
		case err := <-serverErr:
			if err != nil {
				zap.S().Named("agent").Errorw("server failed", "error", err)
				_ = a.stop()
				return err
			}
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				zap.S().Named("agent").Debug("renderer hidden")
				service.SetVisible(false)
			case syscall.SIGUSR2:
				zap.S().Named("agent").Debug("renderer visible")
				service.SetVisible(true)
			default:
				zap.S().Named("agent").Info("stopping agent...")
				return a.stop()
			}
		}
	}
}

// Ready is closed once the service is built and the server is starting.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Server returns the REST server once Ready is closed.
func (a *Agent) Server() *Server {
	return a.server
}

func (a *Agent) stop() error {
	serverStopCh := make(chan any)
	a.server.Stop(serverStopCh)
	<-serverStopCh

	return a.service.Close()
}
