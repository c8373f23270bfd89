package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gridhub/internal/shared"
	"gridhub/internal/worker"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
	"resty.dev/v3"
)

func main() {
	// Flags / ENV Variables
	hubURL := flag.String("hub-url", shared.DefaultHubURL, "Hub duplex endpoint")
	providerToken := flag.String("provider-token", "", "Token presented to the hub")
	allowInvalidCerts := flag.String("allow-invalid-certs", "", "Set to 1 to accept untrusted hub TLS certificates (development only)")
	localURL := flag.String("ollama-local-url", shared.DefaultOllamaURL, "Base url of the local model server")
	machineName := flag.String("machine-name", "", "Name reported to the hub, defaults to the hostname")
	metricsPort := flag.Int("metrics-port", 9091, "Port for /metrics and /health, 0 disables")
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

	name := *machineName
	if name == "" {
		name, err = os.Hostname()
		if err != nil {
			name = "unknown"
		}
	}

	client := resty.New()
	defer func() {
		_ = client.Close()
	}()

	agent := worker.NewAgent(worker.Config{
		HubURL:            *hubURL,
		ProviderToken:     *providerToken,
		AllowInvalidCerts: *allowInvalidCerts == "1",
		LocalURL:          *localURL,
		MachineName:       name,
	}, client, log.With("machine_name", name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsPort > 0 {
		e := worker.NewMetricsServer(agent, *metricsAPIKey)
		go func() {
			if err := e.Start(fmt.Sprintf(":%d", *metricsPort)); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
			defer cancel()
			_ = e.Shutdown(sctx)
		}()
	}

	log.Infow("starting worker", "hub_url", *hubURL, "local_url", *localURL)
	if err := agent.Run(ctx); err != nil {
		log.Errorw("worker stopped", "error", err)
	}
}
