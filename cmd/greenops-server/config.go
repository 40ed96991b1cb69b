package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	internalhttp "github.com/greenops-hq/greenops-server/internal/api/http"
	"github.com/greenops-hq/greenops-server/internal/auth"
	"github.com/greenops-hq/greenops-server/internal/db"
	"github.com/greenops-hq/greenops-server/internal/machines"
)

type Config struct {
	Log      LogConfig
	Http     internalhttp.Config
	Database db.Config
	Auth     AuthConfig
	Fleet    machines.Config
}

type AuthConfig struct {
	JWT auth.Config `mapstructure:",squash"`

	// AdminInitialPassword is applied once at startup, then cleared.
	AdminInitialPassword string `mapstructure:"admin_initial_password"`
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/greenops-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Documented flat environment names used by existing deployments.
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("database.pool_size", "DB_POOL_SIZE")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET_KEY")
	_ = viper.BindEnv("auth.jwt_expiration_hours", "JWT_EXPIRATION_HOURS")
	_ = viper.BindEnv("auth.admin_initial_password", "ADMIN_INITIAL_PASSWORD")
	_ = viper.BindEnv("http.login_rate_limit", "LOGIN_RATE_LIMIT")
	_ = viper.BindEnv("http.login_rate_window_seconds", "LOGIN_RATE_WINDOW")
	_ = viper.BindEnv("fleet.idle_threshold_seconds", "IDLE_THRESHOLD_SECONDS")
	_ = viper.BindEnv("fleet.heartbeat_timeout_seconds", "HEARTBEAT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("fleet.offline_check_interval_seconds", "OFFLINE_CHECK_INTERVAL_SECONDS")
	_ = viper.BindEnv("fleet.idle_power_watts", "IDLE_POWER_WATTS")
	_ = viper.BindEnv("fleet.active_power_watts", "ACTIVE_POWER_WATTS")
	_ = viper.BindEnv("fleet.electricity_cost_per_kwh", "ELECTRICITY_COST_PER_KWH")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if err := validateConfig(); err != nil {
		panic(err)
	}

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		printable := config
		printable.Auth.JWT.Secret = "***"
		printable.Auth.AdminInitialPassword = "***"
		if configJSON, err := json.MarshalIndent(printable, "", "  "); err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func validateConfig() error {
	if config.Database.Url == "" {
		return fmt.Errorf("database.url (DATABASE_URL) must be set")
	}
	if config.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt_secret (JWT_SECRET_KEY) must be set")
	}
	if config.Auth.JWT.ExpirationHours <= 0 {
		config.Auth.JWT.ExpirationHours = 24
	}
	if config.Http.LoginRateLimit <= 0 {
		config.Http.LoginRateLimit = 5
	}
	if config.Http.LoginRateWindow <= 0 {
		config.Http.LoginRateWindow = 900
	}
	return config.Fleet.Validate()
}
