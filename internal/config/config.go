package config

import (
	"errors"
	"io/fs"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envFile = ".env"

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	// Type is either "sqlite" (Name is the file path) or "pgsql".
	Type     string `envconfig:"DOCTRACK_DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DOCTRACK_DB_HOST" default:"localhost"`
	Port     string `envconfig:"DOCTRACK_DB_PORT" default:"5432"`
	Name     string `envconfig:"DOCTRACK_DB_NAME" default:""`
	User     string `envconfig:"DOCTRACK_DB_USER" default:"doctrack"`
	Password string `envconfig:"DOCTRACK_DB_PASS" default:""`
}

type svcConfig struct {
	Address  string `envconfig:"DOCTRACK_AGENT_ADDRESS" default:"127.0.0.1:3333"`
	LogLevel string `envconfig:"DOCTRACK_LOG_LEVEL" default:"info"`
	Language string `envconfig:"DOCTRACK_LANGUAGE" default:"en"`
	Kafka    kafkaConfig
	S3       s3Config
}

type kafkaConfig struct {
	Brokers  []string            `envconfig:"DOCTRACK_KAFKA_BROKERS" default:""`
	Topic    string              `envconfig:"DOCTRACK_KAFKA_TOPIC" default:"doctrack.jobs"`
	Version  sarama.KafkaVersion `envconfig:"DOCTRACK_KAFKA_VERSION" default:""`
	ClientID string              `envconfig:"DOCTRACK_KAFKA_CLIENT_ID" default:"doctrack"`

	SaramaConfig *sarama.Config
}

type s3Config struct {
	Endpoint  string `envconfig:"DOCTRACK_S3_ENDPOINT" default:""`
	AccessKey string `envconfig:"DOCTRACK_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"DOCTRACK_S3_SECRET_KEY" default:""`
	Region    string `envconfig:"DOCTRACK_S3_REGION" default:""`
	Insecure  bool   `envconfig:"DOCTRACK_S3_INSECURE" default:"false"`
}

// New reads the process configuration once. Values from a .env file in the
// working directory are loaded first without overriding the environment.
func New() (*Config, error) {
	if singleConfig == nil {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// KafkaEnabled reports whether lifecycle events should be sent to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Service.Kafka.Brokers) > 0 && c.Service.Kafka.Topic != ""
}
