package util

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const Name = "tusk"
const ConfigFileName = "config.yaml"
const EnvPrefix = "TUSK"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string `yaml:"host" envconfig:"HOST"`
		HttpPort  int    `yaml:"httpPort" envconfig:"HTTPPORT"`
		SslDomain string `yaml:"sslDomain" envconfig:"SSLDOMAIN"`
		WithAp    bool   `yaml:"withAp" envconfig:"WITH_AP"`
		DbDriver  string `yaml:"dbDriver" envconfig:"DB_DRIVER"`
		DbDsn     string `yaml:"dbDsn" envconfig:"DB_DSN"`
		KeyBits   int    `yaml:"keyBits" envconfig:"KEY_BITS"`
	}
	Push struct {
		VapidPublicKey  string `yaml:"vapidPublicKey" envconfig:"VAPID_PUBLIC_KEY"`
		VapidPrivateKey string `yaml:"vapidPrivateKey" envconfig:"VAPID_PRIVATE_KEY"`
		Subscriber      string `yaml:"subscriber" envconfig:"SUBSCRIBER"`
		TTL             int    `yaml:"ttl" envconfig:"TTL"`
		Workers         int    `yaml:"workers" envconfig:"WORKERS"`
		QueueSize       int    `yaml:"queueSize" envconfig:"QUEUE_SIZE"`
	} `yaml:"push"`
	Delivery struct {
		Interval  time.Duration `yaml:"interval" envconfig:"INTERVAL"`
		BatchSize int           `yaml:"batchSize" envconfig:"BATCH_SIZE"`
		Retries   int           `yaml:"retries" envconfig:"RETRIES"`
	} `yaml:"delivery"`
}

// BaseURL is the public origin every actor and activity id is built on.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("https://%s", c.Conf.SslDomain)
}

// ReadConf loads config.yaml, then .env, then TUSK_* overrides. A missing
// config file falls back to the embedded defaults and seeds the user config dir.
func ReadConf(log zerolog.Logger) (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Info().Str("path", configPath).Msg("Config file not found, using embedded defaults")
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Warn().Err(writeErr).Str("path", userConfigPath).Msg("Could not write default config")
			} else {
				log.Info().Str("path", userConfigPath).Msg("Created default config file")
			}
		}
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Could not load .env")
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	return c, nil
}

// applyEnv overrides file values with TUSK_* environment variables.
// Unset variables leave the file value untouched.
func applyEnv(c *AppConfig) error {
	if err := envconfig.Process(EnvPrefix, &c.Conf); err != nil {
		return fmt.Errorf("in environment: %w", err)
	}
	if err := envconfig.Process(EnvPrefix+"_PUSH", &c.Push); err != nil {
		return fmt.Errorf("in push environment: %w", err)
	}
	if err := envconfig.Process(EnvPrefix+"_DELIVERY", &c.Delivery); err != nil {
		return fmt.Errorf("in delivery environment: %w", err)
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.DbDriver == "" {
		c.Conf.DbDriver = "sqlite"
	}
	if c.Conf.DbDsn == "" {
		c.Conf.DbDsn = ResolveFilePath("database.db")
	}
	if c.Conf.KeyBits < 2048 {
		c.Conf.KeyBits = 2048
	}
	if c.Push.TTL <= 0 {
		c.Push.TTL = 86400
	}
	if c.Push.Workers <= 0 {
		c.Push.Workers = 4
	}
	if c.Push.QueueSize <= 0 {
		c.Push.QueueSize = 256
	}
	if c.Delivery.Interval <= 0 {
		c.Delivery.Interval = 10 * time.Second
	}
	if c.Delivery.BatchSize <= 0 {
		c.Delivery.BatchSize = 50
	}
	if c.Delivery.Retries <= 0 {
		c.Delivery.Retries = 2
	}
}
