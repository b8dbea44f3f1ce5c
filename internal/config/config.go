package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	CardLink     CardLinkConfig     `mapstructure:"cardlink"`
	Prescription PrescriptionConfig `mapstructure:"prescription"`
	Smartcard    SmartcardConfig    `mapstructure:"smartcard"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type CardLinkConfig struct {
	URL              string        `mapstructure:"url"`
	TenantToken      string        `mapstructure:"tenant_token"`
	WsSessionID      string        `mapstructure:"ws_session_id"`
	ReadPersonalData bool          `mapstructure:"read_personal_data"`
	ReadInsurerData  bool          `mapstructure:"read_insurer_data"`
	MessageTimeout   time.Duration `mapstructure:"message_timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type PrescriptionConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type SmartcardConfig struct {
	Reader       string        `mapstructure:"reader"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("cardlink.url", "")
	v.SetDefault("cardlink.tenant_token", "")
	v.SetDefault("cardlink.ws_session_id", "")
	v.SetDefault("cardlink.read_personal_data", false)
	v.SetDefault("cardlink.read_insurer_data", false)
	v.SetDefault("cardlink.message_timeout", 5*time.Second)
	v.SetDefault("cardlink.connect_timeout", 10*time.Second)
	v.SetDefault("cardlink.ping_interval", 15*time.Second)
	v.SetDefault("prescription.timeout", 30*time.Second)
	v.SetDefault("smartcard.reader", "")
	v.SetDefault("smartcard.poll_interval", 500*time.Millisecond)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"cardlink.message_timeout", c.CardLink.MessageTimeout},
		{"cardlink.connect_timeout", c.CardLink.ConnectTimeout},
		{"cardlink.ping_interval", c.CardLink.PingInterval},
		{"prescription.timeout", c.Prescription.Timeout},
		{"smartcard.poll_interval", c.Smartcard.PollInterval},
	}
	for _, entry := range durations {
		if entry.d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", entry.key, entry.d)
		}
	}
	return nil
}
