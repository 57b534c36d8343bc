package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Admission and lifecycle.
	RoomIPCap   int           `mapstructure:"room_ip_cap"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	SweepEvery  time.Duration `mapstructure:"sweep_every"`
	BcryptCost  int           `mapstructure:"bcrypt_cost"`

	// Rate limits.
	GlobalWindow time.Duration `mapstructure:"global_window"`
	GlobalMax    int           `mapstructure:"global_max"`
	CreateWindow time.Duration `mapstructure:"create_window"`
	CreateMax    int           `mapstructure:"create_max"`
	ChatWindow   time.Duration `mapstructure:"chat_window"`
	ChatMax      int           `mapstructure:"chat_max"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("room_ip_cap", 5)
	v.SetDefault("grace_period", "2m")
	v.SetDefault("sweep_every", "5m")
	v.SetDefault("bcrypt_cost", 10)

	v.SetDefault("global_window", "1m")
	v.SetDefault("global_max", 20)
	v.SetDefault("create_window", "1m")
	v.SetDefault("create_max", 3)
	v.SetDefault("chat_window", "10s")
	v.SetDefault("chat_max", 10)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
