package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig
	Feed     FeedConfig
	Trade    TradeConfig
	Loop     LoopConfig
	Runtime  RuntimeConfig
}

type ExchangeConfig struct {
	BaseUrl string
	ApiKey  string
	Secret  string
}

type FeedConfig struct {
	WSUrl      string
	FetchLimit int
}

type TradeConfig struct {
	SizingMode      string // "percent" | "absolute"
	PercentPerTrade float64
	AbsoluteAmount  float64
	TinyTestMode    bool
	TinyTestMin     float64
	TinyTestMax     float64

	MaxLeverage      int
	MaxOpenPositions int
	MaxTradesPerDay  int

	OrderType         string // "MARKET" | "LIMIT"
	TPClosePercents   []float64
	TrailingAfterTP   int // 0 disables the trailing stop
	TrailingCallback  float64
	BreakevenAfterTP  int // 0 disables breakeven promotion
	StopLossClampPct  float64
	StopLossWidenMult float64

	LimitFillThreshold  float64
	LimitFillTimeoutSec int
	FillPollIntervalSec int
}

type LoopConfig struct {
	CheckIntervalSec  int
	DailyLossLimit    float64
	DailyProfitTarget float64
}

type RuntimeConfig struct {
	DryRun bool
	Log    LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {

	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	cfg.Exchange = ExchangeConfig{
		BaseUrl: viper.GetString("exchange.base_url"),
		ApiKey:  envSub("exchange.api_key"),
		Secret:  envSub("exchange.secret"),
	}

	cfg.Feed = FeedConfig{
		WSUrl:      viper.GetString("feed.ws_url"),
		FetchLimit: viper.GetInt("feed.fetch_limit"),
	}

	cfg.Trade = TradeConfig{
		SizingMode:      viper.GetString("trade.sizing_mode"),
		PercentPerTrade: viper.GetFloat64("trade.percent_per_trade"),
		AbsoluteAmount:  viper.GetFloat64("trade.absolute_amount"),
		TinyTestMode:    viper.GetBool("trade.tiny_test_mode"),
		TinyTestMin:     viper.GetFloat64("trade.tiny_test_min"),
		TinyTestMax:     viper.GetFloat64("trade.tiny_test_max"),

		MaxLeverage:      viper.GetInt("trade.max_leverage"),
		MaxOpenPositions: viper.GetInt("trade.max_open_positions"),
		MaxTradesPerDay:  viper.GetInt("trade.max_trades_per_day"),

		OrderType:         viper.GetString("trade.order_type"),
		TPClosePercents:   floatSlice("trade.tp_close_percents"),
		TrailingAfterTP:   viper.GetInt("trade.trailing_after_tp"),
		TrailingCallback:  viper.GetFloat64("trade.trailing_callback_rate"),
		BreakevenAfterTP:  viper.GetInt("trade.breakeven_after_tp"),
		StopLossClampPct:  viper.GetFloat64("trade.stop_loss_clamp_percent"),
		StopLossWidenMult: viper.GetFloat64("trade.stop_loss_widen_multiplier"),

		LimitFillThreshold:  viper.GetFloat64("trade.limit_fill_threshold"),
		LimitFillTimeoutSec: viper.GetInt("trade.limit_fill_timeout_seconds"),
		FillPollIntervalSec: viper.GetInt("trade.fill_poll_interval_seconds"),
	}

	cfg.Loop = LoopConfig{
		CheckIntervalSec:  viper.GetInt("loop.check_interval_seconds"),
		DailyLossLimit:    viper.GetFloat64("loop.daily_loss_limit"),
		DailyProfitTarget: viper.GetFloat64("loop.daily_profit_target"),
	}

	cfg.Runtime = RuntimeConfig{
		DryRun: viper.GetBool("runtime.dry_run"),
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Trade.SizingMode == "" {
		cfg.Trade.SizingMode = "percent"
	}
	if cfg.Trade.OrderType == "" {
		cfg.Trade.OrderType = "MARKET"
	}
	if len(cfg.Trade.TPClosePercents) == 0 {
		cfg.Trade.TPClosePercents = []float64{35, 30, 20, 15}
	}
	if cfg.Trade.StopLossWidenMult == 0 {
		cfg.Trade.StopLossWidenMult = 2.0
	}
	if cfg.Trade.LimitFillThreshold == 0 {
		cfg.Trade.LimitFillThreshold = 0.95
	}
	if cfg.Trade.LimitFillTimeoutSec == 0 {
		cfg.Trade.LimitFillTimeoutSec = 90
	}
	if cfg.Trade.FillPollIntervalSec == 0 {
		cfg.Trade.FillPollIntervalSec = 2
	}
	if cfg.Loop.CheckIntervalSec == 0 {
		cfg.Loop.CheckIntervalSec = 30
	}
	if cfg.Feed.FetchLimit == 0 {
		cfg.Feed.FetchLimit = 10
	}
}

func (c *Config) Validate() error {
	if len(c.Trade.TPClosePercents) != 4 {
		return fmt.Errorf("trade.tp_close_percents must hold exactly 4 values, got %d", len(c.Trade.TPClosePercents))
	}
	var sum float64
	for _, p := range c.Trade.TPClosePercents {
		if p < 0 {
			return fmt.Errorf("negative tp close percent: %f", p)
		}
		sum += p
	}
	if sum > 100 {
		return fmt.Errorf("tp close percents sum above 100: %f", sum)
	}
	switch strings.ToUpper(c.Trade.OrderType) {
	case "MARKET", "LIMIT":
	default:
		return fmt.Errorf("unsupported trade.order_type: %s", c.Trade.OrderType)
	}
	switch strings.ToLower(c.Trade.SizingMode) {
	case "percent", "absolute":
	default:
		return fmt.Errorf("unsupported trade.sizing_mode: %s", c.Trade.SizingMode)
	}
	if c.Trade.TrailingAfterTP < 0 || c.Trade.TrailingAfterTP > 4 {
		return fmt.Errorf("trade.trailing_after_tp must be 0..4, got %d", c.Trade.TrailingAfterTP)
	}
	if c.Trade.BreakevenAfterTP < 0 || c.Trade.BreakevenAfterTP > 4 {
		return fmt.Errorf("trade.breakeven_after_tp must be 0..4, got %d", c.Trade.BreakevenAfterTP)
	}
	if c.Trade.LimitFillThreshold <= 0 || c.Trade.LimitFillThreshold > 1 {
		return fmt.Errorf("trade.limit_fill_threshold must be in (0, 1], got %f", c.Trade.LimitFillThreshold)
	}
	return nil
}

func floatSlice(key string) []float64 {
	raw := viper.GetStringSlice(key)
	if len(raw) == 0 {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		val, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil {
			continue
		}
		out = append(out, val)
	}
	return out
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
