// Package config reads service and client configuration from the
// environment, with defaults matching a local single-node setup.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Gateway struct {
	Addr         string   `env:"GATEWAY_ADDR" env-default:":8080"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:19092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"chat-messages"`
	RedisAddr    string   `env:"REDIS_ADDR" env-default:"localhost:6379"`
	ScyllaHosts  []string `env:"SCYLLA_HOSTS" env-separator:"," env-default:"localhost:9042"`
	Keyspace     string   `env:"SCYLLA_KEYSPACE" env-default:"chat"`
}

type API struct {
	Addr        string   `env:"API_ADDR" env-default:":8081"`
	ScyllaHosts []string `env:"SCYLLA_HOSTS" env-separator:"," env-default:"localhost:9042"`
	Keyspace    string   `env:"SCYLLA_KEYSPACE" env-default:"chat"`
	UploadDir   string   `env:"UPLOAD_DIR" env-default:"./uploads"`
}

type Messaging struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:19092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"chat-messages"`
	GroupID      string   `env:"KAFKA_GROUP_ID" env-default:"messaging-service-group"`
	ScyllaHosts  []string `env:"SCYLLA_HOSTS" env-separator:"," env-default:"localhost:9042"`
	Keyspace     string   `env:"SCYLLA_KEYSPACE" env-default:"chat"`
}

type Client struct {
	APIAddr     string `env:"CHAT_API_ADDR" env-default:"http://localhost:8081"`
	GatewayURL  string `env:"CHAT_GATEWAY_URL" env-default:"ws://localhost:8080/ws"`
	SessionPath string `env:"CHAT_SESSION_PATH"`
}

func LoadGateway() (Gateway, error) {
	var cfg Gateway
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Gateway{}, fmt.Errorf("load gateway config: %w", err)
	}
	return cfg, nil
}

func LoadAPI() (API, error) {
	var cfg API
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return API{}, fmt.Errorf("load api config: %w", err)
	}
	return cfg, nil
}

func LoadMessaging() (Messaging, error) {
	var cfg Messaging
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Messaging{}, fmt.Errorf("load messaging config: %w", err)
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}
