package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	container "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Container"
	"gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.IngestorService/controllers"
	rmsingestor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.IngestorService/ingestor"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewPipelineContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	log := ctr.GetLogger()
	log.Info("Starting sensor ingestion pipeline")

	cfg := ctr.GetConfig()
	queue := ctr.GetQueue()
	breaker := ctr.GetBreaker()
	proc := ctr.GetProcessor()
	hub := ctr.GetFanoutHub()
	metrics := ctr.GetMetrics()

	// Accepted readings fan out to live subscribers as they are enqueued.
	queue.SetNotify(hub.Broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := rmsingestor.New(cfg.MQTT, proc, queue, breaker, metrics, log)
	if err := listener.Start(ctx); err != nil {
		log.FatalWithError(err, "Failed to start ingest listener")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	ctrl := controllers.NewPipelineController(listener, queue, breaker, proc, hub, metrics, log)
	ctrl.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting on port " + cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	log.Info("Sensor pipeline running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down...")

	// Stop accepting new work first, then flush in-flight messages.
	listener.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithError(err, "HTTP server shutdown failed")
	}
	hub.Shutdown()
}
