package config

import "time"

// Config 是 Midas 的主配置载体。
type Config struct {
	App         AppConfig           `toml:"app"`
	Accounts    []AccountConfig     `toml:"accounts"`
	Alerts      AlertsConfig        `toml:"alerts"`
	Allocations AllocationsConfig   `toml:"allocations"`
	Store       StoreConfig         `toml:"store"`
	Strategies  StrategiesConfig    `toml:"strategies"`
	MarketData  MarketDataConfig    `toml:"marketdata"`
	Splits      SplitTrackerConfig  `toml:"splits"`
}

type AppConfig struct {
	Env             string `toml:"env"`
	LogLevel        string `toml:"log_level"`
	LogPath         string `toml:"log_path"`
	HTTPAddr        string `toml:"http_addr"`
	MaxSleepSeconds int    `toml:"max_sleep_seconds"` // 调度循环最长休眠，保证 stop 信号及时生效
}

// AccountConfig 描述一个券商账户。系统固定运行两个账户（索引 0 和 1）。
type AccountConfig struct {
	AccountNumber    string             `toml:"account_number"`
	ConsumerKey      string             `toml:"consumer_key"`
	RefreshTokenPath string             `toml:"refresh_token_path"`
	CapitalLimit     CapitalLimitConfig `toml:"capital_limit"`
}

// CapitalLimitConfig 是资金安全阀：滚动窗口内的下单资金上限。
type CapitalLimitConfig struct {
	Capital       float64 `toml:"capital"`
	WindowMinutes int     `toml:"window_minutes"`
}

type AlertsConfig struct {
	TextAlerts bool         `toml:"text_alerts"`
	Twilio     TwilioConfig `toml:"twilio"`
}

type TwilioConfig struct {
	AccountSID string   `toml:"account_sid"`
	AuthToken  string   `toml:"auth_token"`
	From       string   `toml:"from"`
	To         []string `toml:"to"`
}

// AllocationsConfig 控制各策略的资金配比。
type AllocationsConfig struct {
	// AdjustToUseAllCapital 打开后，处于回撤中的策略释放出的资金会按比例
	// 重新分配给其余策略（上限 4 倍）。
	AdjustToUseAllCapital bool               `toml:"adjust_to_use_all_capital"`
	Targets               map[string]float64 `toml:"targets"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type StrategiesConfig struct {
	ManifestPath string `toml:"manifest_path"`
}

type MarketDataConfig struct {
	RefreshSeconds int `toml:"refresh_seconds"`
}

// SplitTrackerConfig 列出已知将要拆股的股票；这些股票的订单会被整体过滤。
type SplitTrackerConfig struct {
	Symbols []string `toml:"symbols"`
}

// MaxSleep returns the scheduler's sleep ceiling.
func (a AppConfig) MaxSleep() time.Duration {
	if a.MaxSleepSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(a.MaxSleepSeconds) * time.Second
}

// Window returns the rolling capital-limit window.
func (c CapitalLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}
