package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Vendora/ShipRoom/config"
	"github.com/Vendora/ShipRoom/internal/broker/kafka"
	"github.com/Vendora/ShipRoom/internal/services/sweeper"
	"github.com/Vendora/ShipRoom/internal/storage/pgledger"
)

type sweeperFactories struct {
	newStorage  func(cfg *config.Config) (repo sweeper.Repository, closeFn func(), err error)
	newProducer func(cfg *config.Config) sweeper.Producer
}

func defaultSweeperFactories() sweeperFactories {
	return sweeperFactories{
		newStorage: func(cfg *config.Config) (sweeper.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgledger.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
	}
}

func newSweeper(cfg *config.Config, f sweeperFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.RealtimeTopicName
	if topic == "" {
		topic = "realtime.events"
	}

	sweepInterval := time.Duration(cfg.ShipRoom.SweepIntervalSeconds) * time.Second
	offlineAfter := time.Duration(cfg.ShipRoom.DeviceOfflineAfterSeconds) * time.Second

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	producer := f.newProducer(cfg)

	s := sweeper.New(repo, producer, topic).WithSettings(sweepInterval, offlineAfter)
	return s, closeFn, nil
}

func RunShipSweeper(ctx context.Context, cfg *config.Config, f sweeperFactories, swaggerPath string) error {
	s, closeFn, err := newSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runSweeperHTTPServer(ctx, sweeperHTTPOpts{
			httpAddr:    cfg.ShipRoom.SweeperHTTPAddr,
			swaggerPath: swaggerPath,
			sweeper:     s,
			cfg:         cfg,
		})
	}()

	sweepErr := make(chan error, 1)
	go func() { sweepErr <- s.Run(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-sweepErr:
		return err
	}
}
