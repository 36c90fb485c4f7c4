package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParsePairs(t *testing.T) {
	got := parsePairs(" Basic=price_basic, pro = price_pro ,broken,=x,enterprise=")
	if len(got) != 2 {
		t.Fatalf("expected 2 pairs, got %d (%v)", len(got), got)
	}
	if got["basic"] != "price_basic" || got["pro"] != "price_pro" {
		t.Fatalf("unexpected pairs: %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_TIMEOUT", "not-a-duration")
	t.Setenv("STRIPE_PRICE_IDS", "basic=price_1")

	cfg := Load()
	if cfg.StorageTimeout != 5*time.Second {
		t.Fatalf("expected default storage timeout, got %s", cfg.StorageTimeout)
	}
	if cfg.Stripe.PriceIDs["basic"] != "price_1" {
		t.Fatalf("expected price id for basic tier")
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis must be disabled without an address")
	}
}

func TestMeteringConfigValidation(t *testing.T) {
	if err := validateMeteringConfig(DefaultMeteringConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if err := validateMeteringConfig(MeteringConfig{OutputEstimateRatio: -1}); err == nil {
		t.Fatalf("expected negative ratio to be rejected")
	}
	var nilHolder *MeteringConfigHolder
	if nilHolder.Get().OutputEstimateRatio != 2.5 {
		t.Fatalf("nil holder must fall back to defaults")
	}
}

func TestMeteringConfigReadsSnakeCaseKeys(t *testing.T) {
	dir := t.TempDir()
	body := "metering:\n  output_estimate_ratio: 1.5\n  default_quota_credits: 250\n"
	if err := os.WriteFile(filepath.Join(dir, "metering.yml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)

	holder, err := NewMeteringConfigHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("load metering config: %v", err)
	}
	got := holder.Get()
	if got.OutputEstimateRatio != 1.5 {
		t.Fatalf("expected ratio 1.5, got %v", got.OutputEstimateRatio)
	}
	if got.DefaultQuotaCredits != 250 {
		t.Fatalf("expected default quota 250, got %d", got.DefaultQuotaCredits)
	}
}

func TestMeteringConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metering.yml"), []byte("metering:\n  default_quota_credits: 250\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("CREDITMETER_METERING_DEFAULT_QUOTA_CREDITS", "42")

	holder, err := NewMeteringConfigHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("load metering config: %v", err)
	}
	got := holder.Get()
	if got.DefaultQuotaCredits != 42 {
		t.Fatalf("expected env override 42, got %d", got.DefaultQuotaCredits)
	}
	if got.OutputEstimateRatio != 2.5 {
		t.Fatalf("expected default ratio, got %v", got.OutputEstimateRatio)
	}
}
