package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gridhub/internal/hubregistry"
	"gridhub/internal/middleware"
	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Flags / ENV Variables
	port := flag.Int("port", 5120, "Listen port")
	hubs := flag.String("hubs", "", "Comma separated static hub addresses")
	capacity := flag.Int64("capacity", shared.DefaultCapacity, "Capacity reported for static hubs")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for live hub announcements")
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

	// Load Redis connection
	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
	}

	registry := hubregistry.NewRegistry(hubregistry.ParseStatic(*hubs, *capacity), redisClient, log)

	e := echo.New()
	e.HideBanner = true
	e.GET(shared.HealthPath, func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy"})
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	registry.RegisterRoutes(base)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Errorw("failed graceful shutdown", "error", err)
	}
}
