package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gridhub/internal/proxy"
	"gridhub/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
	"resty.dev/v3"
)

func main() {
	// Flags / ENV Variables
	port := flag.Int("port", 8000, "Listen port")
	registryURL := flag.String("registry-url", shared.DefaultRegistryURL, "Base url of the hub registry")
	pollInterval := flag.Duration("poll-interval", shared.RegistryPollingInterval, "Registry polling interval")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
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

	client := resty.New()
	defer func() {
		_ = client.Close()
	}()

	provider := proxy.NewConfigProvider(
		proxy.NewRegistryClient(client, *registryURL),
		proxy.NewHealthChecker(client),
		log,
	)
	balancer := proxy.NewBalancer(provider, log)
	e := proxy.NewServer(balancer, log, *metricsAPIKey)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go balancer.Watch(ctx)
	go proxy.NewPoller(provider, *pollInterval, log).Run(ctx)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	log.Infow("proxy started", "registry_url", *registryURL, "poll_interval", pollInterval.String())
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Errorw("failed graceful shutdown", "error", err)
	}
}
