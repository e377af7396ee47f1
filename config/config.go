package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipRoom ShipRoomConfig `yaml:"shiproom"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	RealtimeTopicName string `yaml:"realtime_topic_name"`
	OrdersTopicName   string `yaml:"orders_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipRoomConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	TrackingCacheTTLSeconds   int `yaml:"tracking_cache_ttl_seconds"`
	DeviceOfflineAfterSeconds int `yaml:"device_offline_after_seconds"`
	DevicePingLimitPerMinute  int `yaml:"device_ping_limit_per_minute"`

	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	SweeperHTTPAddr      string `yaml:"sweeper_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.ShipRoom.TrackingCacheTTLSeconds == 0 {
		c.ShipRoom.TrackingCacheTTLSeconds = 300
	}
	if c.ShipRoom.DeviceOfflineAfterSeconds == 0 {
		c.ShipRoom.DeviceOfflineAfterSeconds = 180
	}
	if c.ShipRoom.DevicePingLimitPerMinute == 0 {
		c.ShipRoom.DevicePingLimitPerMinute = 120
	}
	if c.ShipRoom.SweepIntervalSeconds == 0 {
		c.ShipRoom.SweepIntervalSeconds = 30
	}
	if c.ShipRoom.SweeperHTTPAddr == "" {
		c.ShipRoom.SweeperHTTPAddr = ":8082"
	}
}
