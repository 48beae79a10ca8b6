package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cio-bot/internal/adapter/memory"
	"cio-bot/internal/adapter/openai"
	"cio-bot/internal/adapter/telegram"
	"cio-bot/internal/adapter/terminal"
	"cio-bot/internal/config"
	"cio-bot/internal/instruction"
	"cio-bot/internal/usecase/chat"
)

type clientFactory func(cfg config.Config) chat.Client

func openAIClient(cfg config.Config) chat.Client {
	return openai.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "cio-bot",
		Short:         "cio-bot is a chat assistant backed by an OpenAI model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := v.GetString("log-level")
			if v.GetBool("verbose") && level != "trace" {
				level = "debug"
			}
			return initLogger(&logConfig{
				Level:      level,
				LogFormat:  v.GetString("log-format"),
				LogFile:    v.GetString("log-file"),
				WithCaller: v.GetBool("with-caller"),
			})
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("env-file", ".env", "Path to a .env file")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("log-file", "", "Also write logs to this file, rotated")
	flags.Bool("with-caller", false, "Log caller information")
	flags.BoolP("verbose", "v", false, "Shorthand for --log-level debug")
	flags.String("prompt-file", "", "File holding the system instruction (default prompt.txt)")
	flags.String("model", "", "OpenAI model (default gpt-4o-mini)")
	flags.Bool("stream", false, "Stream replies as they are generated")
	cobra.CheckErr(bindFlags(v, flags))

	run := func(frontend func(ctx context.Context, cfg config.Config, svc *chat.Service) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, v.GetString("config"), v.GetString("env-file"))
			if err != nil {
				return err
			}
			svc, err := newSession(cfg, instruction.NewFileSource(cfg.PromptFile), openAIClient)
			if err != nil {
				return err
			}
			log.Info().
				Str("session_id", svc.SessionID()).
				Str("model", cfg.Model).
				Msg("session started")

			err = frontend(cmd.Context(), cfg, svc)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE:  run(runTerminal),
	}
	telegramCmd := &cobra.Command{
		Use:   "telegram",
		Short: "Serve the conversation through a Telegram bot",
		Args:  cobra.NoArgs,
		RunE:  run(runTelegram),
	}

	rootCmd.RunE = chatCmd.RunE
	rootCmd.AddCommand(chatCmd, telegramCmd)
	return rootCmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"prompt_file":  "prompt-file",
		"openai_model": "model",
		"stream":       "stream",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// newSession loads the instruction and builds the conversation manager.
// The client is only created once the instruction is available.
func newSession(cfg config.Config, src instruction.Source, newClient clientFactory) (*chat.Service, error) {
	text, err := src.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load instruction")
	}
	return chat.NewService(memory.NewStore(), newClient(cfg), text, cfg), nil
}

func runTerminal(ctx context.Context, cfg config.Config, svc *chat.Service) error {
	repl, err := terminal.NewREPL(svc, os.Stdin, os.Stdout, terminal.Options{
		Title:  cfg.Title,
		Stream: cfg.Stream,
	})
	if err != nil {
		return err
	}
	return repl.Run(ctx)
}

func runTelegram(ctx context.Context, cfg config.Config, svc *chat.Service) error {
	bot, err := telegram.NewBot(cfg, svc)
	if err != nil {
		return err
	}
	return bot.Run(ctx)
}
