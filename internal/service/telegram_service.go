package service

import (
	"fmt"

	"neonetworker/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// webhookUpdates are the only update kinds the bot handles.
var webhookUpdates = []string{"message", "callback_query"}

// TelegramService is the outbound side of the Telegram bot: plain replies,
// the voice approval keyboard and webhook registration.
type TelegramService struct {
	api domain.TelegramSender
}

func NewTelegramService(api domain.TelegramSender) *TelegramService {
	return &TelegramService{api: api}
}

// SendMessage sends plain text with link previews off, since replies often
// quote contact emails and sites.
func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	cfg := tgbotapi.NewMessage(chatID, text)
	cfg.DisableWebPagePreview = true
	return s.api.Send(cfg)
}

func (s *TelegramService) SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	cfg := tgbotapi.NewMessage(chatID, text)
	cfg.ReplyMarkup = keyboard
	return s.api.Send(cfg)
}

// EditMessage rewrites a sent message. A nil keyboard removes the buttons.
func (s *TelegramService) EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	cfg.ReplyMarkup = keyboard
	return s.api.Send(cfg)
}

func (s *TelegramService) AnswerCallback(callbackID, text string) error {
	if _, err := s.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// FileURL resolves a voice note file id to a downloadable URL.
func (s *TelegramService) FileURL(fileID string) (string, error) {
	url, err := s.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve telegram file %s: %w", fileID, err)
	}
	return url, nil
}

// SetWebhook points Telegram at url. A non-empty secret is sent back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header of every update.
func (s *TelegramService) SetWebhook(url, secret string) error {
	if _, err := tgbotapi.NewWebhook(url); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}

	// WebhookConfig has no secret_token field, so the call is built by hand.
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", webhookUpdates); err != nil {
		return err
	}
	if _, err := s.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}
