package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/ezquant/azrl/azrl/model"
)

type Stock struct {
	Symbol string `yaml:"symbol"`
	File   string `yaml:"file"`
}

type Period struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

type TrainingConfig struct {
	Period             `yaml:",inline"`
	Timesteps          int     `yaml:"timesteps"`
	StartTimesteps     int     `yaml:"start_timesteps"`
	BatchSize          int     `yaml:"batch_size"`
	MaxLimit           int     `yaml:"max_limit"`
	ExplorationNoise   float64 `yaml:"exploration_noise"`
	RandomStart        bool    `yaml:"random_start"`
	BufferCapacity     int     `yaml:"buffer_capacity"`
	SaveLocation       string  `yaml:"save_location"`
	CheckpointInterval string  `yaml:"checkpoint_interval"`
	CheckpointEvery    int     `yaml:"checkpoint_every"`
	Seed               int64   `yaml:"seed"`
}

type TestingConfig struct {
	Period `yaml:",inline"`
	Output string `yaml:"output"`
}

type AgentConfig struct {
	Discount             float64 `yaml:"discount"`
	Tau                  float64 `yaml:"tau"`
	PolicyNoise          float64 `yaml:"policy_noise"`
	NoiseClip            float64 `yaml:"noise_clip"`
	PolicyFreq           int     `yaml:"policy_freq"`
	LearnRate            float64 `yaml:"learn_rate"`
	Hidden               []int   `yaml:"hidden,flow"`
	DelayedPolicyUpdates bool    `yaml:"delayed_policy_updates"`
	TargetPolicyNoise    bool    `yaml:"target_policy_noise"`
}

type EnvironmentConfig struct {
	StartingAmountLower int  `yaml:"starting_amount_lower"`
	StartingAmountUpper int  `yaml:"starting_amount_upper"`
	AllowShort          bool `yaml:"allow_short"`
	AllowMargin         bool `yaml:"allow_margin"`
	IndicatorPeriod     int  `yaml:"indicator_period"`
}

type StorageConfig struct {
	Database string `yaml:"database"`
	KV       string `yaml:"kv"`
}

type TelegramConfig struct {
	Enabled bool    `yaml:"enabled"`
	Token   string  `yaml:"token"`
	Users   []int64 `yaml:"users,flow,omitempty"`
}

type DownloadConfig struct {
	URLTemplate string `yaml:"url_template"`
	Directory   string `yaml:"directory"`
	Retries     int    `yaml:"retries"`
	Timeout     string `yaml:"timeout"`
}

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Stocks      []Stock           `yaml:"stocks"`
	Calendar    string            `yaml:"calendar"`
	Training    TrainingConfig    `yaml:"training"`
	Testing     TestingConfig     `yaml:"testing"`
	Agent       AgentConfig       `yaml:"agent"`
	Environment EnvironmentConfig `yaml:"environment"`
	Storage     StorageConfig     `yaml:"storage"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Download    DownloadConfig    `yaml:"download"`
}

// DefaultConfig returns the settings used for any key a config file omits.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Calendar: "data/price_data/SPY.csv",
		Training: TrainingConfig{
			Period:             Period{StartDate: "01-01-2015", EndDate: "12-31-2019"},
			Timesteps:          50000,
			StartTimesteps:     2500,
			BatchSize:          128,
			MaxLimit:           10,
			ExplorationNoise:   0.1,
			RandomStart:        true,
			BufferCapacity:     1_000_000,
			SaveLocation:       "models/policy",
			CheckpointInterval: "30m",
			CheckpointEvery:    10000,
		},
		Testing: TestingConfig{
			Period: Period{StartDate: "01-01-2020", EndDate: "12-31-2020"},
			Output: "test_results.csv",
		},
		Agent: AgentConfig{
			Discount:    0.95,
			Tau:         0.005,
			PolicyNoise: 0.2,
			NoiseClip:   0.5,
			PolicyFreq:  2,
			LearnRate:   3e-4,
			Hidden:      []int{400, 300},
		},
		Environment: EnvironmentConfig{
			StartingAmountLower: 10000,
			StartingAmountUpper: 50000,
			AllowShort:          true,
			AllowMargin:         true,
		},
		Storage: StorageConfig{
			Database: "data/azrl.db",
			KV:       "data/kv",
		},
		Download: DownloadConfig{
			Directory: "data/price_data",
			Retries:   5,
			Timeout:   "30s",
		},
	}
}

// LoadConfig reads a YAML file over the defaults, then applies .env and
// environment variable overrides. A missing file leaves the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("AZRL_SAVE_LOCATION"); v != "" {
		c.Training.SaveLocation = v
	}
	if v := os.Getenv("AZRL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_USER"); v != "" {
		users := make([]int64, 0)
		for _, field := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return fmt.Errorf("TELEGRAM_USER: %w", err)
			}
			users = append(users, id)
		}
		c.Telegram.Users = users
	}
	return nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch {
	case len(c.Stocks) == 0:
		return fmt.Errorf("stocks: at least one stock is required")
	case c.Training.Timesteps <= 0:
		return fmt.Errorf("training.timesteps must be positive")
	case c.Training.BatchSize <= 0:
		return fmt.Errorf("training.batch_size must be positive")
	case c.Training.MaxLimit <= 0:
		return fmt.Errorf("training.max_limit must be positive")
	case c.Training.BufferCapacity <= 0:
		return fmt.Errorf("training.buffer_capacity must be positive")
	case c.Training.SaveLocation == "":
		return fmt.Errorf("training.save_location is required")
	case c.Environment.StartingAmountLower > c.Environment.StartingAmountUpper:
		return fmt.Errorf("environment.starting_amount_lower is above starting_amount_upper")
	case len(c.Agent.Hidden) == 0:
		return fmt.Errorf("agent.hidden needs at least one layer")
	case c.Telegram.Enabled && (c.Telegram.Token == "" || len(c.Telegram.Users) == 0):
		return fmt.Errorf("telegram.token and telegram.users are required when telegram is enabled")
	}
	for _, s := range c.Stocks {
		if s.Symbol == "" || s.File == "" {
			return fmt.Errorf("stocks: symbol and file are required")
		}
	}
	if _, err := c.CheckpointInterval(); err != nil {
		return err
	}
	if _, err := c.DownloadTimeout(); err != nil {
		return err
	}
	return nil
}

// CheckpointInterval parses training.checkpoint_interval; empty disables
// time based checkpoints.
func (c *Config) CheckpointInterval() (time.Duration, error) {
	return parseDuration("training.checkpoint_interval", c.Training.CheckpointInterval)
}

func (c *Config) DownloadTimeout() (time.Duration, error) {
	return parseDuration("download.timeout", c.Download.Timeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (c *Config) Symbols() []string {
	symbols := make([]string, len(c.Stocks))
	for i, s := range c.Stocks {
		symbols[i] = s.Symbol
	}
	return symbols
}

// TrainSettings describes the training run.
func (c *Config) TrainSettings() model.Settings {
	return model.Settings{
		Symbols:      c.Symbols(),
		StartDate:    c.Training.StartDate,
		EndDate:      c.Training.EndDate,
		RandomStart:  c.Training.RandomStart,
		SaveLocation: c.Training.SaveLocation,
	}
}

// TestSettings describes the testing run, always from a deterministic start.
func (c *Config) TestSettings() model.Settings {
	return model.Settings{
		Symbols:      c.Symbols(),
		StartDate:    c.Testing.StartDate,
		EndDate:      c.Testing.EndDate,
		SaveLocation: c.Training.SaveLocation,
	}
}

func (c *Config) TelegramSettings() model.TelegramSettings {
	return model.TelegramSettings{
		Enabled: c.Telegram.Enabled,
		Token:   c.Telegram.Token,
		Users:   c.Telegram.Users,
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
