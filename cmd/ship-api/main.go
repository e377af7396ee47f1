package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vendora/ShipRoom/config"
	"github.com/Vendora/ShipRoom/internal/api/shipapi"
	"github.com/Vendora/ShipRoom/internal/broker/kafka"
	"github.com/Vendora/ShipRoom/internal/cache/rediscache"
	"github.com/Vendora/ShipRoom/internal/realtime/hub"
	"github.com/Vendora/ShipRoom/internal/services/locations"
	"github.com/Vendora/ShipRoom/internal/services/orders"
	"github.com/Vendora/ShipRoom/internal/services/shipments"
	"github.com/Vendora/ShipRoom/internal/storage/pgledger"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipRoom.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipRoom.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}
	realtimeTopic := cfg.Kafka.RealtimeTopicName
	if realtimeTopic == "" {
		realtimeTopic = "realtime.events"
	}
	ordersTopic := cfg.Kafka.OrdersTopicName
	if ordersTopic == "" {
		ordersTopic = "orders.events"
	}

	cacheTTL := time.Duration(cfg.ShipRoom.TrackingCacheTTLSeconds) * time.Second
	offlineAfter := time.Duration(cfg.ShipRoom.DeviceOfflineAfterSeconds) * time.Second
	pingLimit := int64(cfg.ShipRoom.DevicePingLimitPerMinute)

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()
	consumer := kafka.NewConsumer(brokers, realtimeTopic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	h := hub.New()
	orderSvc := orders.New(st, producer, ordersTopic, realtimeTopic)
	shipmentSvc := shipments.New(st, producer, rc, realtimeTopic)
	locationSvc := locations.New(st, producer, rc, rl, realtimeTopic, cacheTTL, offlineAfter, pingLimit)

	api := shipapi.New(orderSvc, shipmentSvc, locationSvc, h)

	swaggerPath := os.Getenv("swaggerPath")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runShipAPI(ctx, shipAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         realtimeTopic,
		consumerGroup: consumerGroup,
	}, api, h, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgledger.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgledger.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}
