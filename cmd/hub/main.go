package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gridhub/internal/gridhub"
	"gridhub/internal/handlers/inference"
	"gridhub/internal/hubregistry"
	"gridhub/internal/nodes"
	"gridhub/internal/responses"
	"gridhub/internal/routers"
	"gridhub/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Flags / ENV Variables
	port := flag.Int("port", 8080, "Listen port")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for hub announcements")
	announceAddress := flag.String("announce-address", "", "Address advertised to the registry, eg http://hub-1:8080")
	capacity := flag.Int64("capacity", shared.DefaultCapacity, "Advertised hub capacity")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	registry := nodes.NewRegistry()
	resp := responses.NewManager()
	hub := gridhub.NewHub(registry, resp, log)
	ih := inference.NewInferenceHandler(registry, resp, hub, log)

	e := routers.NewHubServer(log, hub, ih, *metricsAPIKey)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load Redis connection
	if *redisAddr != "" && *announceAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		announcer := hubregistry.NewAnnouncer(redisClient, *announceAddress, *capacity, registry.TotalLoad, log)
		go announcer.Run(ctx)
		log.Infow("announcing hub", "address", *announceAddress)
	}

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()

	// Hijacked node connections are not closed by Shutdown
	hub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Errorw("failed graceful shutdown", "error", err)
	}
}
