package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INSTRUCTIONS_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("STREAM_MAX_RECONNECTS", "3")
	t.Setenv("STREAM_BACKOFF_BASE_MS", "250")
	t.Setenv("BID_FLOOR", "0.85")
	t.Setenv("CACHE_CAPACITY", "64")
	t.Setenv("API_ALLOWED_ORIGINS", "http://a,http://b")

	cfg, err := LoadFromEnv(filepath.Join(dir, "none.env"))
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Stream.MaxReconnects != 3 {
		t.Errorf("max reconnects = %d", cfg.Stream.MaxReconnects)
	}
	if cfg.Stream.BackoffBase != 250*time.Millisecond {
		t.Errorf("backoff base = %s", cfg.Stream.BackoffBase)
	}
	if !cfg.Trading.BidFloor.Equal(decimal.RequireFromString("0.85")) {
		t.Errorf("bid floor = %s", cfg.Trading.BidFloor)
	}
	if cfg.Coordinator.CacheCapacity != 64 {
		t.Errorf("cache capacity = %d", cfg.Coordinator.CacheCapacity)
	}
	if len(cfg.Node.AllowedOrigins) != 2 {
		t.Errorf("origins = %v", cfg.Node.AllowedOrigins)
	}
	if len(cfg.Trading.Instructions) != len(DefaultInstructions()) {
		t.Errorf("missing instructions file should keep defaults")
	}
}

func TestLoadFromEnvDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("STOP_LOSS_MINUTE=50\nINSTRUCTIONS_FILE="+filepath.Join(dir, "x.yaml")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("STOP_LOSS_MINUTE"); os.Unsetenv("INSTRUCTIONS_FILE") })

	cfg, err := LoadFromEnv(envPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trading.StopLossMinute != 50 {
		t.Errorf("stop loss minute = %d, want 50 from .env", cfg.Trading.StopLossMinute)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INSTRUCTIONS_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("STREAM_MAX_RECONNECTS", "ten")

	if _, err := LoadFromEnv(filepath.Join(dir, "none.env")); !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"live without key", func(c *Config) { c.Exchange.Mode = "live" }},
		{"unknown mode", func(c *Config) { c.Exchange.Mode = "yolo" }},
		{"no instructions", func(c *Config) { c.Trading.Instructions = nil }},
		{"threshold one", func(c *Config) { c.Trading.Instructions[0].BuyPriceThreshold = decimal.NewFromInt(1) }},
		{"zero size", func(c *Config) { c.Trading.Instructions[0].OrderSize = decimal.Zero }},
		{"zero capacity", func(c *Config) { c.Coordinator.CacheCapacity = 0 }},
		{"zero attempts", func(c *Config) { c.Stream.MaxReconnects = 0 }},
		{"backoff inverted", func(c *Config) { c.Stream.BackoffMax = time.Millisecond }},
		{"bad timezone", func(c *Config) { c.Trading.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoadInstructions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.yaml")
	yaml := `instructions:
  - title: Bitcoin Up or Down
    match_slug: bitcoin-up-or-down
    order_size: 5
    buy_price_threshold: 0.90
    minutes_offset: 10
    current_hour_only: true
  - title: XRP Up or Down
    match_slug: xrp-up-or-down
    order_size: 2.5
    buy_price_threshold: 0.92
    disabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadInstructions(path)
	if err != nil {
		t.Fatalf("LoadInstructions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].MatchSlug != "bitcoin-up-or-down" || got[0].MinutesOffset != 10 || !got[0].Flags.CurrentHourOnly {
		t.Errorf("first = %+v", got[0])
	}
	if !got[0].BuyPriceThreshold.Equal(decimal.RequireFromString("0.9")) {
		t.Errorf("threshold = %s", got[0].BuyPriceThreshold)
	}
	if !got[1].OrderSize.Equal(decimal.RequireFromString("2.5")) || !got[1].Flags.Disabled {
		t.Errorf("second = %+v", got[1])
	}

	if _, err := LoadInstructions(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}
