package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 对应 config/config.yaml 的结构。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Game      GameConfig      `mapstructure:"game"`
	Rain      RainConfig      `mapstructure:"rain"`
	Freebet   FreebetConfig   `mapstructure:"freebet"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// ServerConfig HTTP监听配置
type ServerConfig struct {
	Mode       string     `mapstructure:"mode" validate:"oneof=debug release test"`
	Address    string     `mapstructure:"address" validate:"required"`
	AdminToken string     `mapstructure:"adminToken"`
	Cors       CorsConfig `mapstructure:"cors"`
}

// CorsConfig CORS中间件允许的来源
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 选择SQL驱动与Redis实例。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver" validate:"oneof=sqlite postgres mysql"`
	DSN    string      `mapstructure:"dsn" validate:"required"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis连接配置
type RedisConfig struct {
	Address  string `mapstructure:"address" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// GameConfig 回合循环与下注限额配置
type GameConfig struct {
	BettingWindow       time.Duration `mapstructure:"bettingWindow" validate:"gt=0"`
	Cooldown            time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	TickInterval        time.Duration `mapstructure:"tickInterval" validate:"gt=0"`
	GrowthRate          float64       `mapstructure:"growthRate" validate:"gt=0"`
	HouseEdge           float64       `mapstructure:"houseEdge" validate:"gte=0,lt=1"`
	MaxMultiplier       float64       `mapstructure:"maxMultiplier" validate:"gt=1"`
	MinBet              float64       `mapstructure:"minBet" validate:"gt=0"`
	MaxBet              float64       `mapstructure:"maxBet" validate:"gtfield=MinBet"`
	ClientSeed          string        `mapstructure:"clientSeed" validate:"required"`
	ExposeTargetOnStart bool          `mapstructure:"exposeTargetOnStart"`
	LeaderLeaseTTL      time.Duration `mapstructure:"leaderLeaseTTL" validate:"gt=0"`
	HistorySize         int           `mapstructure:"historySize" validate:"gt=0"`
}

// RainConfig 红包雨发放配置
type RainConfig struct {
	MinAmountPerUser float64       `mapstructure:"minAmountPerUser" validate:"gt=0"`
	MaxWinners       int           `mapstructure:"maxWinners" validate:"gte=2"`
	ClaimWindow      time.Duration `mapstructure:"claimWindow" validate:"gt=0"`
	PendingTTL       time.Duration `mapstructure:"pendingTTL" validate:"gt=0"`
	SweepInterval    time.Duration `mapstructure:"sweepInterval" validate:"gt=0"`
	ClaimRateLimit   int64         `mapstructure:"claimRateLimit" validate:"gt=0"`
	ClaimRateWindow  time.Duration `mapstructure:"claimRateWindow" validate:"gt=0"`
}

// FreebetConfig 免费投注额度的过期配置
type FreebetConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweepInterval" validate:"gt=0"`
}

// BroadcastConfig 事件广播配置
type BroadcastConfig struct {
	Channel   string     `mapstructure:"channel" validate:"required"`
	QueueSize int        `mapstructure:"queueSize" validate:"gt=0"`
	AMQP      AMQPConfig `mapstructure:"amqp"`
}

// AMQPConfig 可选的RabbitMQ fanout发布配置
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url" validate:"required_if=Enabled true"`
	Exchange string `mapstructure:"exchange" validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.adminToken", "")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "aviator.db")
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("game.bettingWindow", 6*time.Second)
	v.SetDefault("game.cooldown", 3*time.Second)
	v.SetDefault("game.tickInterval", 100*time.Millisecond)
	v.SetDefault("game.growthRate", 0.06)
	v.SetDefault("game.houseEdge", 0.01)
	v.SetDefault("game.maxMultiplier", 1000.0)
	v.SetDefault("game.minBet", 1.0)
	v.SetDefault("game.maxBet", 10000.0)
	v.SetDefault("game.clientSeed", "aviator")
	v.SetDefault("game.exposeTargetOnStart", true)
	v.SetDefault("game.leaderLeaseTTL", 5*time.Second)
	v.SetDefault("game.historySize", 50)

	v.SetDefault("rain.minAmountPerUser", 1.0)
	v.SetDefault("rain.maxWinners", 100)
	v.SetDefault("rain.claimWindow", 60*time.Second)
	v.SetDefault("rain.pendingTTL", 10*time.Minute)
	v.SetDefault("rain.sweepInterval", 2*time.Second)
	v.SetDefault("rain.claimRateLimit", 10)
	v.SetDefault("rain.claimRateWindow", time.Minute)

	v.SetDefault("freebet.ttl", 7*24*time.Hour)
	v.SetDefault("freebet.sweepInterval", time.Minute)

	v.SetDefault("broadcast.channel", "aviator:events")
	v.SetDefault("broadcast.queueSize", 1024)
	v.SetDefault("broadcast.amqp.enabled", false)
	v.SetDefault("broadcast.amqp.url", "")
	v.SetDefault("broadcast.amqp.exchange", "aviator.events")
}

// LoadConfig 先加载.env（如存在），再从./config或工作目录读取config.yaml，
// 最后应用DATABASE_DSN、GAME_HOUSEEDGE等环境变量覆盖。
// 配置文件缺失不算错误，默认值和环境变量仍然生效。
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载.env失败: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if path := os.Getenv("AVIATOR_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 按validate标签校验配置。
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	return nil
}
