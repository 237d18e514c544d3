package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Archivist/internal"
	"github.com/hbomb79/Archivist/pkg/logger"
	"github.com/joho/godotenv"
)

var log = logger.Get("Bootstrap")

// main is the entry point to Archivist. Configuration is loaded from
// the environment (optionally seeded from a .env file) and from the
// YAML file named by -config, after which Archivist runs until it
// receives SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "Path to a .env file to load in to the environment, if it exists")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to load env file %s: %v\n", *envPath, err)
	}
	logger.SetMinLoggingLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")).Level())

	config, err := internal.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.New(*config).Run(ctx); err != nil {
		stop()
		log.Fatalf("Archivist stopped due to error: %v\n", err)
	}

	log.Emit(logger.STOP, "Archivist shutdown complete\n")
}
