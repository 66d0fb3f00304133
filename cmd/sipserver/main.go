package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/config"
	"sipvoip-server/pkg/metrics"
	"sipvoip-server/pkg/server"
	"sipvoip-server/pkg/userdb"
	"sipvoip-server/pkg/util"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)
	metrics.Init(logger)

	users, err := userdb.Open(cfg.UserDBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not open user database")
	}

	srv, err := server.New(cfg, users, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not initialize SIP server")
	}

	shutdown := util.NewGracefulShutdown(logger, 30*time.Second)
	shutdown.Register(util.ShutdownResource{
		Name:     "sip-server",
		Priority: 10,
		Shutdown: func(context.Context) error { return srv.Close() },
	})
	shutdown.RegisterCloser("user-database", users, 20)

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("SIP server failed")
		}
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.WithField("addr", addr).Info("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Warn("Metrics endpoint stopped")
	}
}
