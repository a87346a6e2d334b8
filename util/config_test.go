package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeTestConfig(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(ConfigFileName, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	t.Cleanup(func() { os.Remove(ConfigFileName) })
}

func TestConfigConstants(t *testing.T) {
	if Name != "tusk" {
		t.Errorf("Expected Name 'tusk', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	writeTestConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
  dbDriver: sqlite
  dbDsn: ":memory:"
push:
  subscriber: ops@example.com
  workers: 2
delivery:
  interval: 30s
`)

	config, err := ReadConf(zerolog.Nop())
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
	if config.Push.Subscriber != "ops@example.com" {
		t.Errorf("Expected push subscriber from yaml, got '%s'", config.Push.Subscriber)
	}
	if config.Push.Workers != 2 {
		t.Errorf("Expected 2 push workers, got %d", config.Push.Workers)
	}
	if config.Delivery.Interval != 30*time.Second {
		t.Errorf("Expected delivery interval 30s, got %s", config.Delivery.Interval)
	}
}

func TestReadConfDefaults(t *testing.T) {
	writeTestConfig(t, `
conf:
  sslDomain: example.com
  dbDsn: ":memory:"
`)

	config, err := ReadConf(zerolog.Nop())
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.DbDriver != "sqlite" {
		t.Errorf("Expected default driver sqlite, got '%s'", config.Conf.DbDriver)
	}
	if config.Conf.KeyBits != 2048 {
		t.Errorf("Expected default key size 2048, got %d", config.Conf.KeyBits)
	}
	if config.Push.QueueSize != 256 {
		t.Errorf("Expected default queue size 256, got %d", config.Push.QueueSize)
	}
	if config.Delivery.BatchSize != 50 {
		t.Errorf("Expected default batch size 50, got %d", config.Delivery.BatchSize)
	}
	if config.Delivery.Retries != 2 {
		t.Errorf("Expected default retries 2, got %d", config.Delivery.Retries)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	writeTestConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
  dbDsn: ":memory:"
`)

	t.Setenv("TUSK_HOST", "192.168.1.1")
	t.Setenv("TUSK_HTTPPORT", "8080")
	t.Setenv("TUSK_SSLDOMAIN", "test.example.com")
	t.Setenv("TUSK_WITH_AP", "true")
	t.Setenv("TUSK_PUSH_WORKERS", "8")

	config, err := ReadConf(zerolog.Nop())
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true from env")
	}
	if config.Push.Workers != 8 {
		t.Errorf("Expected 8 push workers from env, got %d", config.Push.Workers)
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	writeTestConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`)

	if _, err := ReadConf(zerolog.Nop()); err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfInvalidPortEnv(t *testing.T) {
	writeTestConfig(t, `
conf:
  httpPort: 9999
  dbDsn: ":memory:"
`)
	t.Setenv("TUSK_HTTPPORT", "not_a_number")

	if _, err := ReadConf(zerolog.Nop()); err == nil {
		t.Error("Expected error for a non-numeric port in the environment")
	}
}

func TestBaseURL(t *testing.T) {
	conf := &AppConfig{}
	conf.Conf.SslDomain = "social.example"
	if conf.BaseURL() != "https://social.example" {
		t.Errorf("Unexpected base URL %s", conf.BaseURL())
	}
}

func TestReadConfMissingFileSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)

	var buf bytes.Buffer
	config, err := ReadConf(zerolog.New(&buf))
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}
	if config.Conf.SslDomain == "" {
		t.Error("Expected embedded defaults to set SslDomain")
	}

	logged := buf.String()
	if !strings.Contains(logged, `"message":"Config file not found, using embedded defaults"`) {
		t.Errorf("Expected missing file to be logged, got %s", logged)
	}
	if !strings.Contains(logged, `"message":"Created default config file"`) {
		t.Errorf("Expected seeded file to be logged, got %s", logged)
	}
	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("Expected default config written to %s: %v", dir, err)
	}
}
