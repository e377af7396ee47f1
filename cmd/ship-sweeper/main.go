package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Vendora/ShipRoom/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	swaggerPath := os.Getenv("swaggerPath")
	if err := RunShipSweeper(ctx, cfg, defaultSweeperFactories(), swaggerPath); err != nil && err != context.Canceled {
		panic(err)
	}
}
