package config

import (
	"fmt"
	"os"

	"pkagent/internal/llm"
	"pkagent/internal/scheduler"
	"pkagent/pkg/config"
	"pkagent/pkg/otel"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string `yaml:"driver"` // postgres / memory
}

type Config struct {
	Env        string              `yaml:"-"`
	Server     config.ServerConfig `yaml:"server"`
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	Store      StoreConfig         `yaml:"store"`
	Decomposer llm.Config          `yaml:"decomposer"`
	Scheduler  scheduler.Config    `yaml:"scheduler"`
	Otel       otel.Config         `yaml:"otel"`
	Outbox     OutboxConfig        `yaml:"outbox"`
}

type OutboxConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries"`
	BatchSize  int  `yaml:"batch_size"`
}

// Load 使用统一配置中心加载配置；环境变量优先级最高
func Load(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Config{Scheduler: scheduler.DefaultConfig()}
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	overrideFromEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if d := os.Getenv("STORE_DRIVER"); d != "" {
		cfg.Store.Driver = d
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.Decomposer.APIKey = key
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.Decomposer.BaseURL = url
	}
	if mode := os.Getenv("SCHEDULER_MODE"); mode != "" {
		cfg.Scheduler.Mode = mode
	}
}

func (c *Config) validate() error {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverPostgres
	}
	if c.Store.Driver != DriverPostgres && c.Store.Driver != DriverMemory {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.Mode != "notify" && c.Scheduler.Mode != "active" {
		return fmt.Errorf("unknown scheduler mode %q", c.Scheduler.Mode)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	return nil
}

// DecomposerEnabled 没有 base_url 时不调用模型，拆解直接走 fallback
func (c *Config) DecomposerEnabled() bool {
	return c.Decomposer.BaseURL != ""
}
