package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Log          LogConfig          `mapstructure:"log"`
	Store        StoreConfig        `mapstructure:"store"`
	Bus          BusConfig          `mapstructure:"bus"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Capture      CaptureConfig      `mapstructure:"capture"`
	Host         HostConfig         `mapstructure:"host"`
	Downloads    DownloadsConfig    `mapstructure:"downloads"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
}

type BusConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MailboxSize    int           `mapstructure:"mailbox_size"`
}

// MonitorConfig holds the meeting detection timings.
type MonitorConfig struct {
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	LeaveDebounce   time.Duration `mapstructure:"leave_debounce"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartDelay      time.Duration `mapstructure:"start_delay"`
	ResetRetryDelay time.Duration `mapstructure:"reset_retry_delay"`
}

type OrchestratorConfig struct {
	StartDelay       time.Duration `mapstructure:"start_delay"`
	StartAttempts    int           `mapstructure:"start_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RecoveryDelay    time.Duration `mapstructure:"recovery_delay"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	LivenessTimeout  time.Duration `mapstructure:"liveness_timeout"`
	// FinalizeTimeout bounds how long a stopping session waits for its
	// capture context to report the outcome.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
	// PermanentReasons are failure reasons never retried.
	PermanentReasons []string `mapstructure:"permanent_reasons"`
}

type CaptureConfig struct {
	ReadyDelay       time.Duration `mapstructure:"ready_delay"`
	MuteInterval     time.Duration `mapstructure:"mute_interval"`
	FragmentInterval time.Duration `mapstructure:"fragment_interval"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	TabCheckInterval time.Duration `mapstructure:"tab_check_interval"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
	MicBuffer        int           `mapstructure:"mic_buffer"`
	SaveAttempts     int           `mapstructure:"save_attempts"`
	SaveBackoff      time.Duration `mapstructure:"save_backoff"`
}

type HostConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	FrameBuffer    int           `mapstructure:"frame_buffer"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	ICEServers     []string      `mapstructure:"ice_servers"`
}

type DownloadsConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "meetrecorder")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("store.backend", "badger")
	v.SetDefault("store.path", "./data/state")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.prefix", "meetrecorder:")

	v.SetDefault("bus.request_timeout", "3s")
	v.SetDefault("bus.mailbox_size", 64)

	v.SetDefault("monitor.settle_delay", "3s")
	v.SetDefault("monitor.leave_debounce", "1s")
	v.SetDefault("monitor.poll_interval", "2s")
	v.SetDefault("monitor.start_delay", "500ms")
	v.SetDefault("monitor.reset_retry_delay", "3s")

	v.SetDefault("orchestrator.start_delay", "1500ms")
	v.SetDefault("orchestrator.start_attempts", 3)
	v.SetDefault("orchestrator.retry_backoff", "1500ms")
	v.SetDefault("orchestrator.recovery_delay", "3s")
	v.SetDefault("orchestrator.liveness_interval", "5s")
	v.SetDefault("orchestrator.liveness_timeout", "3s")
	v.SetDefault("orchestrator.finalize_timeout", "30s")
	v.SetDefault("orchestrator.permanent_reasons", []string{"no_permission", "already_recording", "no_source_tab", "no_data"})

	v.SetDefault("capture.ready_delay", "0s")
	v.SetDefault("capture.mute_interval", "2s")
	v.SetDefault("capture.fragment_interval", "1s")
	v.SetDefault("capture.tick_interval", "1s")
	v.SetDefault("capture.tab_check_interval", "2s")
	v.SetDefault("capture.drain_timeout", "500ms")
	v.SetDefault("capture.close_timeout", "10s")
	v.SetDefault("capture.mic_buffer", 8)
	v.SetDefault("capture.save_attempts", 3)
	v.SetDefault("capture.save_backoff", "1s")

	v.SetDefault("host.request_timeout", "3s")
	v.SetDefault("host.send_buffer", 64)
	v.SetDefault("host.frame_buffer", 64)
	v.SetDefault("host.rate_limit", 50.0)
	v.SetDefault("host.rate_burst", 100)
	v.SetDefault("host.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("downloads.dir", "./recordings")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
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

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Backend).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Orchestrator.StartAttempts < 1 {
		return fmt.Errorf("orchestrator.start_attempts must be >= 1, got %d", c.Orchestrator.StartAttempts)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Capture.FragmentInterval <= 0 || c.Capture.MuteInterval <= 0 {
		return fmt.Errorf("capture intervals must be positive")
	}
	switch c.Store.Backend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
