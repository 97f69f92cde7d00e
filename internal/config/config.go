package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Notifiers NotifiersConfig `mapstructure:"notifiers"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type QueueConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Jitter       bool          `mapstructure:"jitter"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	MaxRetry     int           `mapstructure:"max_retry"`
	Workers      int           `mapstructure:"workers"`
}

type NotifiersConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	DingTalk DingTalkConfig `mapstructure:"dingtalk"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
	WeChat   WeChatConfig   `mapstructure:"wechat"`
}

type DingTalkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
}

type FeishuConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type WeChatConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppID      string `mapstructure:"app_id"`
	AppSecret  string `mapstructure:"app_secret"`
	TemplateID string `mapstructure:"template_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("notiq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/notiq")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("NOTIQ")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8970)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/notiq.db")

	v.SetDefault("queue.poll_interval", 30*time.Second)
	v.SetDefault("queue.base_delay", 30*time.Second)
	v.SetDefault("queue.jitter", false)
	v.SetDefault("queue.stop_grace", 10*time.Second)
	v.SetDefault("queue.batch_limit", 100)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.workers", 4)

	v.SetDefault("notifiers.timeout", 10*time.Second)
	v.SetDefault("notifiers.dingtalk.enabled", false)
	v.SetDefault("notifiers.feishu.enabled", false)
	v.SetDefault("notifiers.wechat.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
