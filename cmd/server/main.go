package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/gochat-relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config := server.NewConfigFromEnv()
	server.ConfigureLogging(config.LogLevel, config.LogFormat)

	log.WithFields(log.Fields{
		"port":    config.Port,
		"origins": config.AllowedOrigins,
	}).Info("starting GoChat relay")

	hub := server.NewHub(config)
	go hub.Run()

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("server failed")
		}
		return
	case sig := <-stop:
		log.WithField("signal", sig).Info("shutdown requested")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.WithError(err).Error("HTTP server did not shut down cleanly")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.WithError(err).Error("hub did not shut down cleanly")
	}

	log.Info("server exiting")
}
