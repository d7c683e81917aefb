package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hairstyle-analyzer-app/internal/apperr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected default model: %s", cfg.Gemini.Model)
	}
	if cfg.Gemini.FallbackModel != "gemini-2.0-flash-lite" {
		t.Errorf("unexpected fallback model: %s", cfg.Gemini.FallbackModel)
	}
	if cfg.Cache.TTLDays != 30 {
		t.Errorf("unexpected cache ttl: %d", cfg.Cache.TTLDays)
	}
	if cfg.Cache.MaxSize != 10000 {
		t.Errorf("unexpected cache max size: %d", cfg.Cache.MaxSize)
	}
	if cfg.Scraper.CouponPageLimit != 3 {
		t.Errorf("unexpected coupon page limit: %d", cfg.Scraper.CouponPageLimit)
	}
	if got := cfg.Matching.Weights; got.Category != 3.0 || got.Keyword != 2.0 || got.Feature != 0.5 {
		t.Errorf("unexpected matching weights: %+v", got)
	}
	if cfg.Excel.Headers["A"] != "スタイリスト名" {
		t.Errorf("unexpected header A: %s", cfg.Excel.Headers["A"])
	}
	if !strings.Contains(cfg.Gemini.PromptTemplate, "{categories}") {
		t.Error("style prompt must contain {categories} placeholder")
	}
}

func TestLoad(t *testing.T) {
	t.Run("存在しないファイルはデフォルト設定を返す", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gemini.Model != "gemini-2.0-flash" {
			t.Errorf("expected default model, got %s", cfg.Gemini.Model)
		}
	})

	t.Run("設定ファイルの値がデフォルトを上書きする", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
gemini:
  model: "custom-model"
  max_retries: 5
cache:
  backend: "redis"
  ttl_days: 7
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gemini.Model != "custom-model" {
			t.Errorf("expected custom-model, got %s", cfg.Gemini.Model)
		}
		if cfg.Gemini.MaxRetries != 5 {
			t.Errorf("expected 5 retries, got %d", cfg.Gemini.MaxRetries)
		}
		if cfg.Cache.Backend != "redis" {
			t.Errorf("expected redis backend, got %s", cfg.Cache.Backend)
		}
		// 上書きされていない値はデフォルトのまま
		if cfg.Scraper.CouponPageLimit != 3 {
			t.Errorf("expected default coupon page limit, got %d", cfg.Scraper.CouponPageLimit)
		}
	})

	t.Run("環境変数が展開される", func(t *testing.T) {
		t.Setenv("TEST_GEMINI_KEY", "key-from-env")

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
gemini:
  api_key: "${TEST_GEMINI_KEY}"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gemini.APIKey != "key-from-env" {
			t.Errorf("expected key-from-env, got %s", cfg.Gemini.APIKey)
		}
	})

	t.Run("不正なYAMLはエラー", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("gemini: [broken"), 0644); err != nil {
			t.Fatal(err)
		}

		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Gemini.Model = "saved-model"
	cfg.Processing.BatchSize = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Gemini.Model != "saved-model" {
		t.Errorf("expected saved-model, got %s", loaded.Gemini.Model)
	}
	if loaded.Processing.BatchSize != 8 {
		t.Errorf("expected batch size 8, got %d", loaded.Processing.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Gemini.APIKey = "test-key"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "有効な設定",
			mutate: func(c *Config) {},
		},
		{
			name:      "APIキー未設定",
			mutate:    func(c *Config) { c.Gemini.APIKey = "" },
			wantField: "gemini.api_key",
		},
		{
			name:      "モデル未設定",
			mutate:    func(c *Config) { c.Gemini.Model = "" },
			wantField: "gemini.model",
		},
		{
			name:      "リトライ回数が0",
			mutate:    func(c *Config) { c.Gemini.MaxRetries = 0 },
			wantField: "gemini.max_retries",
		},
		{
			name:      "不正なベースURL",
			mutate:    func(c *Config) { c.Scraper.BaseURL = "ftp://example.com" },
			wantField: "scraper.base_url",
		},
		{
			name:      "キャッシュサイズが0",
			mutate:    func(c *Config) { c.Cache.MaxSize = 0 },
			wantField: "cache.max_size",
		},
		{
			name:      "最小バッチサイズがバッチサイズ超過",
			mutate:    func(c *Config) { c.Processing.MinBatchSize = 100 },
			wantField: "processing.min_batch_size",
		},
		{
			name:      "テンプレートCSVパス未設定",
			mutate:    func(c *Config) { c.Paths.TemplateCSV = "" },
			wantField: "paths.template_csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("expected error")
			}
			var cfgErr *apperr.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, cfgErr.Field)
			}
		})
	}
}
