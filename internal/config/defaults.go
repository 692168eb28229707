package config

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":9981"
	defaultAppLogPath    = "/data/logs/midas-live.log"
	defaultAppMaxSleep   = 60
	defaultStorePath     = "/data/db/midas.db"
	defaultManifestPath  = "configs/strategies.yaml"
	defaultQuoteRefresh  = 30
	defaultCapWindowMins = 30
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	for i := range c.Accounts {
		c.Accounts[i].applyDefaults()
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Strategies.ManifestPath == "" {
		c.Strategies.ManifestPath = defaultManifestPath
	}
	if c.MarketData.RefreshSeconds <= 0 {
		c.MarketData.RefreshSeconds = defaultQuoteRefresh
	}
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
	if a.LogPath == "" {
		a.LogPath = defaultAppLogPath
	}
	if a.MaxSleepSeconds <= 0 {
		a.MaxSleepSeconds = defaultAppMaxSleep
	}
}

func (a *AccountConfig) applyDefaults() {
	if a.CapitalLimit.WindowMinutes <= 0 {
		a.CapitalLimit.WindowMinutes = defaultCapWindowMins
	}
}
