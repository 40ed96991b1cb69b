package http

type Config struct {
	Port            uint `mapstructure:"port"`
	LoginRateLimit  int  `mapstructure:"login_rate_limit"`
	LoginRateWindow int  `mapstructure:"login_rate_window_seconds"`
}
