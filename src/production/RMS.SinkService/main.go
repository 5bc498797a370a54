package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	container "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Container"
	rmssink "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Sink"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewSinkContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	log := ctr.GetLogger()
	log.Info("Starting persistence sink service")

	cfg := ctr.GetConfig()

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer connectCancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.FatalWithError(err, "Failed to connect to sink storage")
	}
	ctr.AddCleanupFunc(func() error {
		return client.Disconnect(context.Background())
	})

	coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
	sink := rmssink.NewMongoSink(coll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := rmssink.NewWorker(ctr.GetQueue(), sink, ctr.GetBreaker(), ctr.GetMetrics(), log, cfg.PollInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	log.Info("Sink worker running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down...")
	cancel()
	<-done
}
