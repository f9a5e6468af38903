package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/rules"
)

var ErrConfig = errors.New("invalid configuration")

type Stream struct {
	URL           string
	PingInterval  time.Duration
	AutoReconnect bool
	MaxReconnects int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	Topic         string // subscription topic, e.g. "activity"
	Type          string // subscription type, e.g. "trades"
}

type Exchange struct {
	Mode      string // "paper" or "live"
	Host      string
	RateLimit float64 // REST requests per second
	// L2 API credentials; derived from the wallet at startup when unset
	APIKey        string
	APISecret     string
	APIPassphrase string
	// Polls before a paper order reports MATCHED
	PaperFillAfter int
}

type Wallet struct {
	PrivateKey   string
	ProxyAddress string
}

type Trading struct {
	InstructionsFile string
	Instructions     []rules.Instruction
	BidFloor         decimal.Decimal
	SellThreshold    decimal.Decimal
	StopLossMinute   int
	Timezone         string
}

type Coordinator struct {
	CacheCapacity      int
	CleanupInterval    time.Duration
	StatusPollInterval time.Duration
	// Processing rows older than this on reload are treated as abandoned
	ProcessingGrace time.Duration
	HourlyRollover  bool
}

type Node struct {
	DataDir        string
	LogFile        string
	AuditFile      string
	APIAddr        string
	AllowedOrigins []string
	Verbose        bool
}

type Config struct {
	Stream      Stream
	Exchange    Exchange
	Wallet      Wallet
	Trading     Trading
	Coordinator Coordinator
	Node        Node
}

func Default() Config {
	return Config{
		Stream: Stream{
			URL:           "wss://ws-live-data.polymarket.com",
			PingInterval:  5 * time.Second,
			AutoReconnect: true,
			MaxReconnects: 10,
			BackoffBase:   time.Second,
			BackoffMax:    30 * time.Second,
			Topic:         "activity",
			Type:          "trades",
		},
		Exchange: Exchange{
			Mode:           "paper",
			Host:           "https://clob.polymarket.com",
			RateLimit:      5,
			PaperFillAfter: 1,
		},
		Trading: Trading{
			InstructionsFile: "instructions.yaml",
			Instructions:     DefaultInstructions(),
			BidFloor:         decimal.RequireFromString("0.88"),
			SellThreshold:    decimal.RequireFromString("0.51"),
			StopLossMinute:   55,
			Timezone:         "America/New_York",
		},
		Coordinator: Coordinator{
			CacheCapacity:      32,
			CleanupInterval:    60 * time.Second,
			StatusPollInterval: 10 * time.Second,
			ProcessingGrace:    2 * time.Minute,
			HourlyRollover:     true,
		},
		Node: Node{
			DataDir:        "data/db",
			LogFile:        "data/agent.log",
			AuditFile:      "data/decisions.jsonl",
			APIAddr:        ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// DefaultInstructions covers the hourly crypto up-or-down markets
func DefaultInstructions() []rules.Instruction {
	mk := func(title, slug string) rules.Instruction {
		return rules.Instruction{
			Title:             title,
			MatchSlug:         slug,
			OrderSize:         decimal.NewFromInt(5),
			BuyPriceThreshold: decimal.RequireFromString("0.90"),
			MinutesOffset:     0,
		}
	}
	return []rules.Instruction{
		mk("Bitcoin Up or Down", "bitcoin-up-or-down"),
		mk("Ethereum Up or Down", "ethereum-up-or-down"),
		mk("Solana Up or Down", "solana-up-or-down"),
		mk("XRP Up or Down", "xrp-up-or-down"),
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
// Instructions come from Trading.InstructionsFile when that file exists.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// .env is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v := os.Getenv(key); v != "" {
			x, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = x
		}
	}
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str("STREAM_URL", &cfg.Stream.URL)
	dur("STREAM_PING_INTERVAL_MS", &cfg.Stream.PingInterval)
	num("STREAM_MAX_RECONNECTS", &cfg.Stream.MaxReconnects)
	dur("STREAM_BACKOFF_BASE_MS", &cfg.Stream.BackoffBase)
	dur("STREAM_BACKOFF_MAX_MS", &cfg.Stream.BackoffMax)
	str("STREAM_TOPIC", &cfg.Stream.Topic)
	str("STREAM_TYPE", &cfg.Stream.Type)
	if v := os.Getenv("STREAM_AUTO_RECONNECT"); v != "" {
		cfg.Stream.AutoReconnect = v == "true"
	}

	str("EXCHANGE_MODE", &cfg.Exchange.Mode)
	str("CLOB_HOST", &cfg.Exchange.Host)
	if v := os.Getenv("CLOB_RATE_LIMIT"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Exchange.RateLimit = r
		} else {
			errs = append(errs, fmt.Errorf("CLOB_RATE_LIMIT: %w", err))
		}
	}
	str("CLOB_API_KEY", &cfg.Exchange.APIKey)
	str("CLOB_SECRET", &cfg.Exchange.APISecret)
	str("CLOB_PASSPHRASE", &cfg.Exchange.APIPassphrase)
	num("PAPER_FILL_AFTER", &cfg.Exchange.PaperFillAfter)

	str("PK", &cfg.Wallet.PrivateKey)
	str("PROXY_ADDRESS", &cfg.Wallet.ProxyAddress)

	str("INSTRUCTIONS_FILE", &cfg.Trading.InstructionsFile)
	dec("BID_FLOOR", &cfg.Trading.BidFloor)
	dec("SELL_THRESHOLD", &cfg.Trading.SellThreshold)
	num("STOP_LOSS_MINUTE", &cfg.Trading.StopLossMinute)
	str("TIMEZONE", &cfg.Trading.Timezone)

	num("CACHE_CAPACITY", &cfg.Coordinator.CacheCapacity)
	dur("CACHE_CLEANUP_MS", &cfg.Coordinator.CleanupInterval)
	dur("STATUS_POLL_MS", &cfg.Coordinator.StatusPollInterval)
	dur("PROCESSING_GRACE_MS", &cfg.Coordinator.ProcessingGrace)
	if v := os.Getenv("HOURLY_ROLLOVER"); v != "" {
		cfg.Coordinator.HourlyRollover = v == "true"
	}

	str("DATA_DIR", &cfg.Node.DataDir)
	str("LOG_FILE", &cfg.Node.LogFile)
	str("AUDIT_FILE", &cfg.Node.AuditFile)
	str("API_ADDR", &cfg.Node.APIAddr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.Node.AllowedOrigins = strings.Split(v, ",")
	}
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}

	if cfg.Trading.InstructionsFile != "" {
		instructions, err := LoadInstructions(cfg.Trading.InstructionsFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// keep defaults
		case err != nil:
			return cfg, err
		default:
			cfg.Trading.Instructions = instructions
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports missing or inconsistent settings. Any error is fatal at startup.
func (c Config) Validate() error {
	var errs []error
	zero, one := decimal.Zero, decimal.NewFromInt(1)
	inUnit := func(x decimal.Decimal) bool { return x.GreaterThan(zero) && x.LessThan(one) }

	if c.Stream.URL == "" {
		errs = append(errs, errors.New("STREAM_URL is required"))
	}
	if c.Stream.MaxReconnects < 1 {
		errs = append(errs, errors.New("STREAM_MAX_RECONNECTS must be >= 1"))
	}
	if c.Stream.BackoffBase <= 0 || c.Stream.BackoffMax < c.Stream.BackoffBase {
		errs = append(errs, errors.New("backoff base must be positive and not exceed backoff max"))
	}
	if c.Stream.PingInterval <= 0 {
		errs = append(errs, errors.New("STREAM_PING_INTERVAL_MS must be positive"))
	}
	switch c.Exchange.Mode {
	case "paper":
	case "live":
		if c.Wallet.PrivateKey == "" {
			errs = append(errs, errors.New("PK is required in live mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EXCHANGE_MODE %q", c.Exchange.Mode))
	}
	if len(c.Trading.Instructions) == 0 {
		errs = append(errs, errors.New("at least one instruction is required"))
	}
	for i, in := range c.Trading.Instructions {
		if in.MatchSlug == "" {
			errs = append(errs, fmt.Errorf("instruction %d: match_slug is required", i))
		}
		if !inUnit(in.BuyPriceThreshold) {
			errs = append(errs, fmt.Errorf("instruction %d: buy_price_threshold %s outside (0,1)", i, in.BuyPriceThreshold))
		}
		if !in.OrderSize.IsPositive() {
			errs = append(errs, fmt.Errorf("instruction %d: order_size must be positive", i))
		}
		if in.MinutesOffset < 0 || in.MinutesOffset > 59 {
			errs = append(errs, fmt.Errorf("instruction %d: minutes_offset %d outside [0,59]", i, in.MinutesOffset))
		}
	}
	if !inUnit(c.Trading.BidFloor) {
		errs = append(errs, errors.New("BID_FLOOR must be in (0,1)"))
	}
	if !inUnit(c.Trading.SellThreshold) {
		errs = append(errs, errors.New("SELL_THRESHOLD must be in (0,1)"))
	}
	if c.Trading.StopLossMinute < 0 || c.Trading.StopLossMinute > 59 {
		errs = append(errs, errors.New("STOP_LOSS_MINUTE must be in [0,59]"))
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.Coordinator.CacheCapacity < 1 {
		errs = append(errs, errors.New("CACHE_CAPACITY must be >= 1"))
	}
	if c.Coordinator.CleanupInterval <= 0 || c.Coordinator.StatusPollInterval <= 0 {
		errs = append(errs, errors.New("cleanup and status poll intervals must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Location resolves Trading.Timezone, falling back to UTC
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
