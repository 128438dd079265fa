package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env     string        `yaml:"env"`
	Log     LogConfig     `yaml:"log"`
	Bot     BotConfig     `yaml:"bot"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Guard   GuardConfig   `yaml:"guard"`
	Batch   BatchConfig   `yaml:"batch"`
	Metrics MetricsConfig `yaml:"metrics"`
	Prune   PruneConfig   `yaml:"prune"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type BotConfig struct {
	Token  string `yaml:"token"`
	SelfID string `yaml:"self_id"`
}

type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	CounterBackend string `yaml:"counter_backend"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GuardConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity int           `yaml:"cache_capacity"`
}

type BatchConfig struct {
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkPacing  time.Duration `yaml:"chunk_pacing"`
	RemovePacing time.Duration `yaml:"remove_pacing"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type PruneConfig struct {
	Interval          time.Duration `yaml:"interval"`
	WarnResetInterval time.Duration `yaml:"warn_reset_interval"`
}

const (
	CounterBackendFile  = "file"
	CounterBackendRedis = "redis"
)

func Default() Config {
	return Config{
		Env: "dev",
		Log: LogConfig{Level: "debug"},
		Bot: BotConfig{
			Token:  "",
			SelfID: "",
		},
		Storage: StorageConfig{
			DataDir:        "data",
			CounterBackend: CounterBackendFile,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Guard: GuardConfig{
			CacheTTL:      60 * time.Second,
			CacheCapacity: 500,
		},
		Batch: BatchConfig{
			ChunkSize:    50,
			ChunkPacing:  2 * time.Second,
			RemovePacing: time.Second,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Prune: PruneConfig{
			Interval:          12 * time.Hour,
			WarnResetInterval: 0,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}

	return nil
}

func validate(cfg Config) error {
	switch cfg.Storage.CounterBackend {
	case CounterBackendFile, CounterBackendRedis:
	default:
		return fmt.Errorf("unknown counter backend %q", cfg.Storage.CounterBackend)
	}
	if cfg.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch chunk size must be positive")
	}
	if cfg.Guard.CacheCapacity <= 0 {
		return fmt.Errorf("guard cache capacity must be positive")
	}
	if cfg.Guard.CacheTTL <= 0 {
		return fmt.Errorf("guard cache ttl must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("BOT_SELF_ID"); v != "" {
		cfg.Bot.SelfID = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("COUNTER_BACKEND"); v != "" {
		cfg.Storage.CounterBackend = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if err := overrideInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}

	if err := overrideDuration("GUARD_CACHE_TTL", &cfg.Guard.CacheTTL); err != nil {
		return err
	}
	if err := overrideInt("GUARD_CACHE_CAPACITY", &cfg.Guard.CacheCapacity); err != nil {
		return err
	}

	if err := overrideInt("BATCH_CHUNK_SIZE", &cfg.Batch.ChunkSize); err != nil {
		return err
	}
	if err := overrideDuration("BATCH_CHUNK_PACING", &cfg.Batch.ChunkPacing); err != nil {
		return err
	}
	if err := overrideDuration("BATCH_REMOVE_PACING", &cfg.Batch.RemovePacing); err != nil {
		return err
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	if err := overrideDuration("PRUNE_INTERVAL", &cfg.Prune.Interval); err != nil {
		return err
	}
	if err := overrideDuration("WARN_RESET_INTERVAL", &cfg.Prune.WarnResetInterval); err != nil {
		return err
	}

	return nil
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}
