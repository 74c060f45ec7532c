// Package config handles loading and validating go-smc configuration from YAML files.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	App        AppConfig         `yaml:"app" validate:"required"`
	Strategy   StrategyConfig    `yaml:"strategy"`
	Timeframes TimeframeConfig   `yaml:"timeframes"`
	Risk       RiskConfig        `yaml:"risk"`
	Backtest   BacktestConfig    `yaml:"backtest"`
	Presets    map[string]Preset `yaml:"presets" validate:"dive"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Feed       FeedConfig        `yaml:"feed"`
	Cache      CacheConfig       `yaml:"cache"`
	Storage    StorageConfig     `yaml:"storage"`
	Paper      PaperConfig       `yaml:"paper"`
	API        APIConfig         `yaml:"api"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env      string `yaml:"env" validate:"required,oneof=dev staging prod"`
	LogLevel string `yaml:"logLevel" validate:"required,oneof=debug info warn error"`
	LogFile  string `yaml:"logFile"`
}

// StrategyConfig holds detector parameters and the confluence weights and thresholds.
type StrategyConfig struct {
	SwingLookback      int     `yaml:"swingLookback" validate:"gt=0"`
	OBLookback         int     `yaml:"obLookback" validate:"gt=3"`
	FVGMinSize         float64 `yaml:"fvgMinSize" validate:"gte=0"`
	LiquidityThreshold int     `yaml:"liquidityThreshold" validate:"gte=2"`
	RiskRewardRatio    float64 `yaml:"riskRewardRatio" validate:"gt=0"`
	ProfileLevels      int     `yaml:"profileLevels" validate:"gt=0"`
	MinCandles         int     `yaml:"minCandles" validate:"gt=0"`

	Pro ProThresholds `yaml:"pro"`
	MTF MTFThresholds `yaml:"mtf"`
}

// ProThresholds are the single-timeframe signal thresholds.
type ProThresholds struct {
	Strong           float64 `yaml:"strong" validate:"gt=0"`
	Weak             float64 `yaml:"weak" validate:"gt=0"`
	Edge             float64 `yaml:"edge" validate:"gte=0"`
	OppositeMax      float64 `yaml:"oppositeMax" validate:"gt=0"`
	SessionOverride  float64 `yaml:"sessionOverride" validate:"gt=0"`
	StrongBlock      float64 `yaml:"strongBlock" validate:"gte=0"`
	WeakBlock        float64 `yaml:"weakBlock" validate:"gte=0"`
	BlockStopATR     float64 `yaml:"blockStopAtr" validate:"gte=0"`
	FallbackStopATR  float64 `yaml:"fallbackStopAtr" validate:"gt=0"`
	ProfileProximity float64 `yaml:"profileProximity" validate:"gte=0"`
}

// MTFThresholds are the four-timeframe thresholds.
type MTFThresholds struct {
	EntryWeak   float64 `yaml:"entryWeak" validate:"gt=0"`
	EntryStrong float64 `yaml:"entryStrong" validate:"gt=0"`
	EntryEdge   float64 `yaml:"entryEdge" validate:"gte=0"`
	MinScore    float64 `yaml:"minScore" validate:"gte=0"`
	MinCandles  int     `yaml:"minCandles" validate:"gt=0"`
	SniperMin   int     `yaml:"sniperMin" validate:"gte=3"`
}

// TimeframeConfig names the four analysis timeframes.
type TimeframeConfig struct {
	Direction string `yaml:"direction"`
	Structure string `yaml:"structure"`
	Entry     string `yaml:"entry"`
	Sniper    string `yaml:"sniper"`
}

// RiskConfig holds sizing and admission-gate settings.
type RiskConfig struct {
	RiskPerTrade   float64 `yaml:"riskPerTrade" validate:"gt=0,lt=1"`
	Leverage       float64 `yaml:"leverage" validate:"gt=0"`
	MaxOpenTrades  int     `yaml:"maxOpenTrades" validate:"gt=0"`
	MaxDailyLoss   float64 `yaml:"maxDailyLoss" validate:"gt=0,lte=1"`
	MaxDrawdown    float64 `yaml:"maxDrawdown" validate:"gt=0,lte=1"`
	CooldownLosses int     `yaml:"cooldownLosses" validate:"gt=0"`
}

// BacktestConfig holds simulator settings.
type BacktestConfig struct {
	InitialBalance float64 `yaml:"initialBalance" validate:"gt=0"`
	Commission     float64 `yaml:"commission" validate:"gte=0"`
	Slippage       float64 `yaml:"slippage" validate:"gte=0"`
	Warmup         int     `yaml:"warmup" validate:"gte=0"`
	// MaxWindow caps the candles analysed per bar on every frame; negative
	// analyses the whole history up to the bar.
	MaxWindow      int     `yaml:"maxWindow"`
	FixedTargets   bool    `yaml:"fixedTargets"`
	UseGate        bool    `yaml:"useGate"`
	Days           int     `yaml:"days" validate:"gte=0"`
	ReportDir      string  `yaml:"reportDir"`
	Parallelism    int     `yaml:"parallelism" validate:"gte=0"`
}

// Preset overrides a subset of strategy and backtest settings. Zero fields keep the base value.
type Preset struct {
	RiskRewardRatio float64 `yaml:"riskRewardRatio" validate:"gte=0"`
	SwingLookback   int     `yaml:"swingLookback" validate:"gte=0"`
	OBLookback      int     `yaml:"obLookback" validate:"gte=0"`
	Commission      float64 `yaml:"commission" validate:"gte=0"`
	Slippage        float64 `yaml:"slippage" validate:"gte=0"`
	RiskPerTrade    float64 `yaml:"riskPerTrade" validate:"gte=0"`
}

// ExchangeConfig configures the Binance futures data source.
type ExchangeConfig struct {
	Symbol  string `yaml:"symbol" validate:"required"`
	APIKey  string `yaml:"apiKey"`
	Secret  string `yaml:"secret"`
	Testnet bool   `yaml:"testnet"`
	// Fallback lists secondary feeds tried in order: influx, csv.
	Fallback []string `yaml:"fallback" validate:"dive,oneof=influx csv"`
}

// FeedConfig configures offline candle sources.
type FeedConfig struct {
	CSVDir string `yaml:"csvDir"`
}

// CacheConfig configures the candle cache.
type CacheConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory redis none"`
	RedisAddress  string `yaml:"redisAddress"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	KeyPrefix     string `yaml:"keyPrefix"`
}

// StorageConfig configures persistence backends. Empty values disable a backend.
type StorageConfig struct {
	Influx   InfluxConfig `yaml:"influx"`
	Postgres string       `yaml:"postgresDsn"`
}

// InfluxConfig configures the InfluxDB time-series store.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether an InfluxDB URL is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// PaperConfig configures the live-replay paper runner.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initialBalance" validate:"gt=0"`
	CandleLimit    int     `yaml:"candleLimit" validate:"gt=0"`
	CycleSeconds   int     `yaml:"cycleSeconds" validate:"gte=0"`
	Commission     float64 `yaml:"commission" validate:"gte=0"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	ListenAddress string `yaml:"listenAddress"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("setting config defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.setDefaults()
	return cfg
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// ApplyPreset overlays a named preset onto the strategy and backtest settings.
func (c *Config) ApplyPreset(name string) error {
	p, ok := c.Presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	if p.RiskRewardRatio > 0 {
		c.Strategy.RiskRewardRatio = p.RiskRewardRatio
	}
	if p.SwingLookback > 0 {
		c.Strategy.SwingLookback = p.SwingLookback
	}
	if p.OBLookback > 0 {
		c.Strategy.OBLookback = p.OBLookback
	}
	if p.Commission > 0 {
		c.Backtest.Commission = p.Commission
	}
	if p.Slippage > 0 {
		c.Backtest.Slippage = p.Slippage
	}
	if p.RiskPerTrade > 0 {
		c.Risk.RiskPerTrade = p.RiskPerTrade
	}
	return nil
}

// Clone returns a deep copy safe to mutate in an isolated run.
func (c *Config) Clone() *Config {
	out := *c
	out.Presets = make(map[string]Preset, len(c.Presets))
	for k, v := range c.Presets {
		out.Presets[k] = v
	}
	out.Exchange.Fallback = append([]string(nil), c.Exchange.Fallback...)
	return &out
}

// setDefaults applies sensible defaults for optional fields.
func (c *Config) setDefaults() error {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFile == "" {
		c.App.LogFile = "logs/smc.log"
	}

	s := &c.Strategy
	setInt(&s.SwingLookback, 10)
	setInt(&s.OBLookback, 50)
	setFloat(&s.FVGMinSize, 0.001)
	setInt(&s.LiquidityThreshold, 3)
	setFloat(&s.RiskRewardRatio, 2.5)
	setInt(&s.ProfileLevels, 20)
	setInt(&s.MinCandles, 50)

	setFloat(&s.Pro.Strong, 8)
	setFloat(&s.Pro.Weak, 5.5)
	setFloat(&s.Pro.Edge, 2)
	setFloat(&s.Pro.OppositeMax, 3)
	setFloat(&s.Pro.SessionOverride, 10)
	setFloat(&s.Pro.StrongBlock, 5)
	setFloat(&s.Pro.WeakBlock, 3)
	setFloat(&s.Pro.BlockStopATR, 0.3)
	setFloat(&s.Pro.FallbackStopATR, 1.5)
	setFloat(&s.Pro.ProfileProximity, 0.005)

	setFloat(&s.MTF.EntryWeak, 4)
	setFloat(&s.MTF.EntryStrong, 6)
	setFloat(&s.MTF.EntryEdge, 1)
	setFloat(&s.MTF.MinScore, 5)
	setInt(&s.MTF.MinCandles, 30)
	setInt(&s.MTF.SniperMin, 20)

	setString(&c.Timeframes.Direction, "1d")
	setString(&c.Timeframes.Structure, "4h")
	setString(&c.Timeframes.Entry, "15m")
	setString(&c.Timeframes.Sniper, "5m")

	setFloat(&c.Risk.RiskPerTrade, 0.02)
	setFloat(&c.Risk.Leverage, 10)
	setInt(&c.Risk.MaxOpenTrades, 3)
	setFloat(&c.Risk.MaxDailyLoss, 0.06)
	setFloat(&c.Risk.MaxDrawdown, 0.15)
	setInt(&c.Risk.CooldownLosses, 4)

	b := &c.Backtest
	setFloat(&b.InitialBalance, 10000)
	setFloat(&b.Commission, 0.0006)
	setFloat(&b.Slippage, 0.0002)
	setInt(&b.Warmup, 50)
	setInt(&b.MaxWindow, 500)
	setInt(&b.Days, 30)
	setString(&b.ReportDir, "backtest_results")

	if c.Presets == nil {
		c.Presets = make(map[string]Preset)
	}
	if _, ok := c.Presets["scalp"]; !ok {
		c.Presets["scalp"] = Preset{RiskRewardRatio: 1.5, SwingLookback: 5, OBLookback: 30, Commission: 0.0008, Slippage: 0.0003}
	}
	if _, ok := c.Presets["intraday"]; !ok {
		c.Presets["intraday"] = Preset{}
	}
	if _, ok := c.Presets["swing"]; !ok {
		c.Presets["swing"] = Preset{RiskRewardRatio: 3.0, SwingLookback: 15, OBLookback: 70, Commission: 0.0004, Slippage: 0.0001}
	}

	setString(&c.Exchange.Symbol, "BTCUSDT")
	setString(&c.Cache.Backend, "memory")
	setString(&c.Cache.KeyPrefix, "smc:candles")

	setFloat(&c.Paper.InitialBalance, 10000)
	setInt(&c.Paper.CandleLimit, 300)
	setFloat(&c.Paper.Commission, 0.0006)

	setString(&c.API.ListenAddress, ":8080")
	return nil
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
