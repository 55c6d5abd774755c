package bot

import (
	"context"
	"fmt"

	"neonetworker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type MessageSender interface {
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
}

// TelegramAdminNotifier forwards chat activity to the admin's Telegram chat.
type TelegramAdminNotifier struct {
	sender      MessageSender
	adminChatID int64
}

func NewTelegramAdminNotifier(sender MessageSender, adminChatID int64) *TelegramAdminNotifier {
	if sender == nil || adminChatID == 0 {
		return nil
	}
	return &TelegramAdminNotifier{sender: sender, adminChatID: adminChatID}
}

// AdminNotifierFor wraps NewTelegramAdminNotifier for RouterDeps. It returns a
// nil interface, not a typed nil pointer, when no admin chat is configured.
func AdminNotifierFor(sender MessageSender, adminChatID int64) AdminNotifier {
	if n := NewTelegramAdminNotifier(sender, adminChatID); n != nil {
		return n
	}
	return nil
}

func (n *TelegramAdminNotifier) NotifyAdmin(_ context.Context, user *models.User, prompt string, success bool) error {
	if n == nil {
		return nil
	}
	status := "✅"
	if !success {
		status = "❌"
	}
	who := user.Email
	if user.FullName != "" {
		who = fmt.Sprintf("%s <%s>", user.FullName, user.Email)
	}
	_, err := n.sender.SendMessage(n.adminChatID, fmt.Sprintf("%s %s\n💬 %s", status, who, prompt))
	return err
}
