// Package config loads service configuration from a YAML file with
// environment overrides for the secrets that never belong on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Supabase SupabaseConfig `yaml:"supabase"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Tasks    TasksConfig    `yaml:"cloud_tasks"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	WebhookSecret      string        `yaml:"webhook_secret"`
	SignatureTolerance time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts the tolerance as a duration string ("5m", "90s").
func (g *GatewayConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		WebhookSecret      string `yaml:"webhook_secret"`
		SignatureTolerance string `yaml:"signature_tolerance"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.WebhookSecret != "" {
		g.WebhookSecret = raw.WebhookSecret
	}
	if raw.SignatureTolerance != "" {
		d, err := time.ParseDuration(raw.SignatureTolerance)
		if err != nil {
			return fmt.Errorf("gateway.signature_tolerance: %w", err)
		}
		g.SignatureTolerance = d
	}
	return nil
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type TasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	TargetURL  string `yaml:"target_url"`
}

type AlertsConfig struct {
	PrimaryURL  string `yaml:"primary_url"`
	FallbackURL string `yaml:"fallback_url"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"-"`
	BatchSize    int           `yaml:"batch_size"`
}

func (j *JobsConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		PollInterval string `yaml:"poll_interval"`
		BatchSize    int    `yaml:"batch_size"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.BatchSize != 0 {
		j.BatchSize = raw.BatchSize
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("jobs.poll_interval: %w", err)
		}
		j.PollInterval = d
	}
	return nil
}

// Load reads the YAML file at path and applies env overrides. A missing
// file is not an error: the service can run entirely from env.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", Env: "development"},
		Gateway: GatewayConfig{SignatureTolerance: 5 * time.Minute},
		Jobs:    JobsConfig{PollInterval: 30 * time.Second, BatchSize: 20},
	}
}

func (c *Config) applyEnv() {
	setIfEnv(&c.Server.Port, "PORT")
	setIfEnv(&c.Database.URL, "DATABASE_URL")
	setIfEnv(&c.Redis.Addr, "REDIS_ADDR")
	setIfEnv(&c.Redis.Password, "REDIS_PASSWORD")
	setIfEnv(&c.Gateway.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Supabase.URL, "SUPABASE_URL")
	setIfEnv(&c.Supabase.ServiceKey, "SUPABASE_SERVICE_KEY")
	setIfEnv(&c.PubSub.ProjectID, "PUBSUB_PROJECT_ID")
	setIfEnv(&c.PubSub.TopicID, "PUBSUB_TOPIC_ID")
	setIfEnv(&c.Tasks.ProjectID, "CLOUD_TASKS_PROJECT_ID")
	setIfEnv(&c.Tasks.LocationID, "CLOUD_TASKS_LOCATION")
	setIfEnv(&c.Tasks.QueueID, "CLOUD_TASKS_QUEUE")
	setIfEnv(&c.Tasks.TargetURL, "CLOUD_TASKS_TARGET_URL")
	setIfEnv(&c.Alerts.PrimaryURL, "ALERT_WEBHOOK_URL")
	setIfEnv(&c.Alerts.FallbackURL, "ALERT_FALLBACK_URL")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
