package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version int           `yaml:"version"`
	Global  GlobalConfig  `yaml:"global"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Chains  []Chain       `yaml:"chains"`
	Vendor  *VendorConfig `yaml:"vendor,omitempty"`
	Checkin *Checkin      `yaml:"checkin,omitempty"`
	Swap    *SwapConfig   `yaml:"swap,omitempty"`
	Vision  *VisionConfig `yaml:"vision,omitempty"`
	Server  ServerConfig  `yaml:"server"`
	ABIDirs []string      `yaml:"abi_dirs"`
	Sinks   []Sink        `yaml:"sinks"`
}

type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

type LedgerConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	RedisURL  string `yaml:"redis_url"`
	CacheSize int    `yaml:"cache_size"`
}

type Chain struct {
	ID      uint64 `yaml:"id"`
	Name    string `yaml:"name"`
	RPCURL  string `yaml:"rpc_url"`
	Timeout string `yaml:"timeout"`
	Factory string `yaml:"factory"`
}

type VendorConfig struct {
	ChainID  uint64 `yaml:"chain_id"`
	Contract string `yaml:"contract"`
}

type Checkin struct {
	ChainID  uint64 `yaml:"chain_id"`
	Contract string `yaml:"contract"`
}

type SwapConfig struct {
	ChainID uint64     `yaml:"chain_id"`
	Router  string     `yaml:"router"`
	Pairs   []SwapPair `yaml:"pairs"`
}

// SwapPair describes a tradable pair. Tokens[0] is the input of a forward swap.
type SwapPair struct {
	ID     string    `yaml:"id"`
	Tokens []string  `yaml:"tokens"`
	Legs   []PoolLeg `yaml:"legs"`
}

type PoolLeg struct {
	Pool   string `yaml:"pool"`
	Token0 string `yaml:"token0"`
	Token1 string `yaml:"token1"`
}

type VisionConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	FallbackModel string  `yaml:"fallback_model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	Timeout       string  `yaml:"timeout"`
	Retries       int     `yaml:"retries"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "sqlite"
	}
	if c.Ledger.Driver == "sqlite" && c.Ledger.Path == "" {
		c.Ledger.Path = "./data/ledger.db"
	}
	if c.Ledger.CacheSize == 0 {
		c.Ledger.CacheSize = 4096
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimitRPM == 0 {
		c.Server.RateLimitRPM = 120
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Vision != nil {
		if c.Vision.BaseURL == "" {
			c.Vision.BaseURL = "https://api.openai.com/v1"
		}
		if c.Vision.Model == "" {
			c.Vision.Model = "gpt-4o"
		}
		if c.Vision.FallbackModel == "" {
			c.Vision.FallbackModel = "gpt-4o-mini"
		}
		if c.Vision.MaxTokens == 0 {
			c.Vision.MaxTokens = 500
		}
		if c.Vision.Retries == 0 {
			c.Vision.Retries = 2
		}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	chainIDs := map[uint64]struct{}{}
	for _, ch := range c.Chains {
		if _, exists := chainIDs[ch.ID]; exists {
			return fmt.Errorf("duplicate chain id: %d", ch.ID)
		}
		chainIDs[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", ch.ID, err)
		}
	}

	if c.Vendor != nil {
		if err := requireChain(chainIDs, c.Vendor.ChainID); err != nil {
			return fmt.Errorf("vendor: %w", err)
		}
		if !common.IsHexAddress(c.Vendor.Contract) {
			return errors.New("vendor: contract must be a hex address")
		}
	}
	if c.Checkin != nil {
		if err := requireChain(chainIDs, c.Checkin.ChainID); err != nil {
			return fmt.Errorf("checkin: %w", err)
		}
		if !common.IsHexAddress(c.Checkin.Contract) {
			return errors.New("checkin: contract must be a hex address")
		}
	}
	if c.Swap != nil {
		if err := requireChain(chainIDs, c.Swap.ChainID); err != nil {
			return fmt.Errorf("swap: %w", err)
		}
		if err := c.Swap.Validate(); err != nil {
			return fmt.Errorf("swap: %w", err)
		}
	}
	if c.Vision != nil {
		if c.Vision.APIKey == "" {
			return errors.New("vision: api_key is required")
		}
		if c.Vision.Timeout != "" {
			if _, err := time.ParseDuration(c.Vision.Timeout); err != nil {
				return fmt.Errorf("vision: timeout: %w", err)
			}
		}
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	return nil
}

func (l *LedgerConfig) Validate() error {
	switch strings.ToLower(l.Driver) {
	case "sqlite":
		if l.Path == "" {
			return errors.New("path is required for sqlite ledger")
		}
	case "postgres":
		if l.DSN == "" {
			return errors.New("dsn is required for postgres ledger")
		}
	case "redis":
		if l.RedisURL == "" {
			return errors.New("redis_url is required for redis ledger")
		}
	default:
		return fmt.Errorf("unsupported ledger driver: %s", l.Driver)
	}
	return nil
}

func (ch *Chain) Validate() error {
	if ch.ID == 0 {
		return errors.New("id is required")
	}
	if ch.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if ch.Timeout != "" {
		if _, err := time.ParseDuration(ch.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	if ch.Factory != "" && !common.IsHexAddress(ch.Factory) {
		return errors.New("factory must be a hex address")
	}
	return nil
}

// TimeoutDuration returns the per-call RPC timeout, defaulting to 10s.
func (ch Chain) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(ch.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

func (s *SwapConfig) Validate() error {
	if !common.IsHexAddress(s.Router) {
		return errors.New("router must be a hex address")
	}
	if len(s.Pairs) == 0 {
		return errors.New("at least one pair is required")
	}
	seen := map[string]struct{}{}
	for _, p := range s.Pairs {
		if p.ID == "" {
			return errors.New("pair id is required")
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("duplicate pair id: %s", p.ID)
		}
		seen[p.ID] = struct{}{}
		if len(p.Tokens) != 2 {
			return fmt.Errorf("pair %s: exactly two tokens are required", p.ID)
		}
		for _, tok := range p.Tokens {
			if !common.IsHexAddress(tok) {
				return fmt.Errorf("pair %s: token %q is not a hex address", p.ID, tok)
			}
		}
		if len(p.Legs) < 1 || len(p.Legs) > 2 {
			return fmt.Errorf("pair %s: one or two legs are required", p.ID)
		}
		for _, leg := range p.Legs {
			if !common.IsHexAddress(leg.Pool) || !common.IsHexAddress(leg.Token0) || !common.IsHexAddress(leg.Token1) {
				return fmt.Errorf("pair %s: leg pool, token0 and token1 must be hex addresses", p.ID)
			}
		}
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

// ChainByID returns the chain entry with the given id.
func (c *Config) ChainByID(id uint64) (Chain, bool) {
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, true
		}
	}
	return Chain{}, false
}

func requireChain(ids map[uint64]struct{}, id uint64) error {
	if id == 0 {
		return errors.New("chain_id is required")
	}
	if _, ok := ids[id]; !ok {
		return fmt.Errorf("unknown chain_id: %d", id)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
