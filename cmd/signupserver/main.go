package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/config"
	"sipvoip-server/pkg/signup"
	"sipvoip-server/pkg/userdb"
	"sipvoip-server/pkg/util"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)

	users, err := userdb.Open(cfg.UserDBPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not open user database")
	}

	srv, err := signup.NewServer(users, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not initialize signup server")
	}

	shutdown := util.NewGracefulShutdown(logger, 10*time.Second)
	shutdown.RegisterCloser("signup-server", srv, 10)
	shutdown.RegisterCloser("user-database", users, 20)

	addr := fmt.Sprintf("%s:%d", cfg.SIPHost, cfg.SignupPort)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Signup server failed")
		}
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
