package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Indexer.BlockCapacity != 8 || cfg.Indexer.MaxTempFiles != 1024 || cfg.Indexer.Mode != "tiered" {
		t.Errorf("indexer defaults = %+v", cfg.Indexer)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "indexer:\n  mode: bulk\n  blockCapacity: 16\nkafka:\n  topic: reviews\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RI_MAX_TERM_LENGTH", "40")
	t.Setenv("RI_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Indexer.Mode != "bulk" || cfg.Indexer.BlockCapacity != 16 {
		t.Errorf("file values not applied: %+v", cfg.Indexer)
	}
	if cfg.Indexer.PostingSpillCap != 1024 {
		t.Errorf("default lost under partial file: %d", cfg.Indexer.PostingSpillCap)
	}
	if cfg.Indexer.MaxTermLength != 40 {
		t.Errorf("env override not applied: %d", cfg.Indexer.MaxTermLength)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" || cfg.Kafka.Topic != "reviews" {
		t.Errorf("redis/kafka = %+v / %+v", cfg.Redis, cfg.Kafka)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero capacity":    func(c *Config) { c.Indexer.BlockCapacity = 0 },
		"term too long":    func(c *Config) { c.Indexer.MaxTermLength = 256 },
		"unknown mode":     func(c *Config) { c.Indexer.Mode = "lsm" },
		"no spill cap":     func(c *Config) { c.Indexer.PostingSpillCap = 0 },
		"empty data dir":   func(c *Config) { c.Indexer.DataDir = "" },
		"zero parallelism": func(c *Config) { c.Indexer.QueryParallelism = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Validate = %v, want ErrInvalidInput", err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
