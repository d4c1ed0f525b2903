package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeSettings(t, "app:\n  name: lendbot\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchange.BaseURL != "https://poloniex.com" {
		t.Fatalf("base_url default = %q", cfg.Exchange.BaseURL)
	}
	if cfg.Exchange.MinRequestInterval != 166*time.Millisecond {
		t.Fatalf("min_request_interval default = %s", cfg.Exchange.MinRequestInterval)
	}
	if cfg.Intervals.StatsSample != 10*time.Second {
		t.Fatalf("stats_sample default = %s", cfg.Intervals.StatsSample)
	}
	if cfg.SourceFile != path {
		t.Fatalf("SourceFile = %q, want %q", cfg.SourceFile, path)
	}
}

func TestLoadParsesDurationsAndPolicies(t *testing.T) {
	path := writeSettings(t, `
intervals:
  warmup: 2m
  stats_sample: 15s
  reoffer: 90s

lending:
  BTC:
    lowest_offers_dust_skip_amount: "5"
    spread_dust_skip_amount: "5"
    min_rate_step: "0.000001"
    orders_to_spread: 4
    min_total_orders: 10
    max_total_orders: 100
    min_daily_rate: "0.0001"
    max_daily_rate: "0.01"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Intervals.Warmup != 2*time.Minute {
		t.Fatalf("warmup = %s", cfg.Intervals.Warmup)
	}

	policies, err := cfg.Policies()
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	btc, ok := policies["BTC"]
	if !ok {
		t.Fatal("缺少 BTC 策略")
	}
	if btc.OrdersToSpread != 4 {
		t.Fatalf("orders_to_spread = %d", btc.OrdersToSpread)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := writeSettings(t, `
lending:
  BTC:
    lowest_offers_dust_skip_amount: "5"
    spread_dust_skip_amount: "5"
    min_rate_step: "0.000001"
    orders_to_spread: 99
    min_total_orders: 10
    max_total_orders: 100
    min_daily_rate: "0.0001"
    max_daily_rate: "0.01"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("非法策略应导致加载失败")
	} else if !strings.Contains(err.Error(), "lending.BTC") {
		t.Fatalf("error %q does not name the currency", err)
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	path := writeSettings(t, "intervals:\n  stats_sample: 10ms\n")
	if _, err := Load(path); err == nil {
		t.Fatal("sub-second stats_sample should be rejected")
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	path := writeSettings(t, `
alerting:
  enabled: true
  telegram:
    enabled: true
    chat_id: "123"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("启用 Telegram 却缺少 token 应报错")
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireCredentials(); err == nil {
		t.Fatal("missing credentials should error")
	}
	cfg.Exchange.Key = "k"
	cfg.Exchange.Secret = "s"
	if err := cfg.RequireCredentials(); err != nil {
		t.Fatalf("RequireCredentials: %v", err)
	}
}

func TestWatcherDetectsModification(t *testing.T) {
	path := writeSettings(t, "app:\n  name: lendbot\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	changed, err := w.Changed()
	if err != nil {
		t.Fatalf("Changed: %v", err)
	}
	if changed {
		t.Fatal("fresh watcher should report no change")
	}

	// Backdating avoids waiting out filesystem mtime granularity.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	changed, err = w.Changed()
	if err != nil {
		t.Fatalf("Changed: %v", err)
	}
	if !changed {
		t.Fatal("modified file should report changed")
	}

	if _, err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	changed, err = w.Changed()
	if err != nil {
		t.Fatalf("Changed: %v", err)
	}
	if changed {
		t.Fatal("Load should re-baseline the modification time")
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteTemplate(path); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("模板必须能直接加载: %v", err)
	}
	if _, ok := cfg.Lending["BTC"]; !ok {
		t.Fatal("template should carry an example BTC policy")
	}
	if err := cfg.RequireCredentials(); err == nil {
		t.Fatal("template ships without credentials")
	}

	if err := WriteTemplate(path); err == nil {
		t.Fatal("WriteTemplate must refuse to overwrite")
	}
}
