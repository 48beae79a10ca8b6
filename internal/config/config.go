package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

var (
	ErrMissingAPIKey        = errors.New("OPENAI_API_KEY not found in environment variables")
	ErrMissingTelegramToken = errors.New("TELEGRAM_BOT_TOKEN not found in environment variables")
)

// Config is read by viper from flags, environment variables, an optional
// .env file and an optional YAML config file, in that order of precedence.
type Config struct {
	OpenAIKey           string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL       string        `mapstructure:"openai_base_url"`
	Model               string        `mapstructure:"openai_model"`
	Temperature         float32       `mapstructure:"openai_temperature"`
	MaxCompletionTokens int           `mapstructure:"max_tokens"`
	PromptFile          string        `mapstructure:"prompt_file"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	Stream              bool          `mapstructure:"stream"`
	ContextLimit        int           `mapstructure:"context_message_limit"`
	ContextTTL          time.Duration `mapstructure:"context_ttl"`
	Title               string        `mapstructure:"bot_title"`

	TelegramToken  string `mapstructure:"telegram_bot_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	AdminUserIDs   []int64
	AllowedUserIDs []int64
}

var defaults = map[string]any{
	"openai_api_key":            "",
	"openai_base_url":           "",
	"openai_model":              "gpt-4o-mini",
	"openai_temperature":        0.7,
	"max_tokens":                0,
	"prompt_file":               "prompt.txt",
	"request_timeout":           "60s",
	"stream":                    false,
	"context_message_limit":     0,
	"context_ttl":               "0s",
	"bot_title":                 "AeroVista CIO Bot",
	"telegram_bot_token":        "",
	"telegram_chat_id":          0,
	"admin_user_ids":            "",
	"allowed_telegram_user_ids": "",
}

// Load populates a Config from v. configFile may be empty, in which case
// cio-bot.yaml is searched in the working directory and $HOME/.cio-bot.
// envFile is loaded without overriding variables that are already set.
//
// A missing API key is reported as ErrMissingAPIKey together with the
// otherwise populated Config.
func Load(v *viper.Viper, configFile, envFile string) (Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil {
			log.Debug().Err(err).Str("path", envFile).Msg("could not read .env")
		}
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cio-bot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cio-bot")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}

	cfg.OpenAIKey = strings.TrimSpace(cfg.OpenAIKey)
	cfg.AdminUserIDs = parseIDs(v.GetString("admin_user_ids"))
	cfg.AllowedUserIDs = parseIDs(v.GetString("allowed_telegram_user_ids"))

	log.Debug().
		Str("config", v.ConfigFileUsed()).
		Str("model", cfg.Model).
		Str("prompt_file", cfg.PromptFile).
		Msg("loaded configuration")

	if cfg.OpenAIKey == "" {
		return cfg, ErrMissingAPIKey
	}

	return cfg, nil
}

// RequireTelegram checks the settings only the Telegram frontend needs.
func (c Config) RequireTelegram() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return ErrMissingTelegramToken
	}
	return nil
}

func parseIDs(raw string) []int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			log.Warn().Err(err).Str("id", p).Msg("skipping user id")
			continue
		}
		ids = append(ids, v)
	}
	return ids
}
