package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/position_estimator/internal/app"
	"github.com/relabs-tech/position_estimator/internal/config"
)

func main() {
	configPath := flag.String("config", "estimator_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting position estimator display (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunDisplay(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
