package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/pairline/pairline/internal/domain"
)

type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type QueueConfig struct {
	Region           string   `mapstructure:"region"`
	Language         string   `mapstructure:"language"`
	Gender           string   `mapstructure:"gender"`
	GenderPreference string   `mapstructure:"gender_preference"`
	Interests        []string `mapstructure:"interests"`
	QueueType        string   `mapstructure:"queue_type"`
	NativeLanguage   string   `mapstructure:"native_language"`
	LearningLanguage string   `mapstructure:"learning_language"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	RelayURL   string `mapstructure:"relay_url"`
	Credential string `mapstructure:"credential"`

	STUNServers  []string `mapstructure:"stun_servers"`
	TURNServers  []string `mapstructure:"turn_servers"`
	TURNEndpoint string   `mapstructure:"turn_endpoint"`

	DeviceClass string `mapstructure:"device_class"`
	// Capture selects the media source: "device" or "static" (headless).
	Capture string `mapstructure:"capture"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Queue     QueueConfig     `mapstructure:"queue"`

	SkipCooldown        time.Duration `mapstructure:"skip_cooldown"`
	QualityPollInterval time.Duration `mapstructure:"quality_poll_interval"`
	SecurityPollChecks  int           `mapstructure:"security_poll_checks"`
	MaxRecoveryAttempts int           `mapstructure:"max_recovery_attempts"`

	// Relay server side (cmd/relay only).
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
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
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("device_class", "desktop")
	v.SetDefault("capture", "device")
	v.SetDefault("reconnect.base_delay", "500ms")
	v.SetDefault("reconnect.max_delay", "15s")
	v.SetDefault("reconnect.max_attempts", 6)
	v.SetDefault("queue.queue_type", "default")
	v.SetDefault("skip_cooldown", "2s")
	v.SetDefault("quality_poll_interval", "3s")
	v.SetDefault("security_poll_checks", 10)
	v.SetDefault("max_recovery_attempts", 3)
	v.SetDefault("port", 8080)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Criteria converts the configured queue defaults into match criteria.
func (c *Config) Criteria() domain.MatchCriteria {
	return domain.MatchCriteria{
		Region:           c.Queue.Region,
		Language:         c.Queue.Language,
		Gender:           c.Queue.Gender,
		GenderPreference: c.Queue.GenderPreference,
		Interests:        c.Queue.Interests,
		QueueType:        c.Queue.QueueType,
		NativeLanguage:   c.Queue.NativeLanguage,
		LearningLanguage: c.Queue.LearningLanguage,
	}
}
