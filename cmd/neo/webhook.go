package main

import (
	"errors"
	"fmt"

	"neonetworker/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
)

func newSetWebhookCmd(opts *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register the Telegram webhook URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closeQuietly(closer)

			if cfg.Telegram.BotToken == "" {
				return errors.New("telegram bot token is not configured")
			}
			if url == "" {
				url = cfg.Telegram.WebhookURL
			}
			if url == "" {
				return errors.New("--url or telegram.webhook_url is required")
			}

			botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
			if err != nil {
				return fmt.Errorf("telegram login: %w", err)
			}
			if err := service.NewTelegramService(botAPI).SetWebhook(url, cfg.Telegram.WebhookSecret); err != nil {
				return err
			}
			logger.Info().Str("url", url).Str("bot", botAPI.Self.UserName).Msg("telegram webhook registered")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public HTTPS URL of /api/telegram/webhook")
	return cmd
}
