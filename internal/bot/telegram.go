package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/llm"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	callbackVoiceApprove = "voice_approve"
	callbackVoiceReject  = "voice_reject"

	secretHeader       = "X-Telegram-Bot-Api-Secret-Token"
	maxTelegramMessage = 4000
	maxVoiceBytes      = 20 << 20
)

// TelegramBot handles webhook updates from Telegram.
type TelegramBot struct {
	tg            domain.TelegramService
	router        *Router
	transcriber   llm.Transcriber
	httpClient    *http.Client
	secret        string
	updateTimeout time.Duration
	logger        *zerolog.Logger
}

func NewTelegramBot(
	tg domain.TelegramService,
	router *Router,
	transcriber llm.Transcriber,
	secret string,
	updateTimeout time.Duration,
	logger *zerolog.Logger,
) *TelegramBot {
	if updateTimeout <= 0 {
		updateTimeout = 30 * time.Second
	}
	return &TelegramBot{
		tg:            tg,
		router:        router,
		transcriber:   transcriber,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		secret:        secret,
		updateTimeout: updateTimeout,
		logger:        logger,
	}
}

// ServeHTTP is the webhook endpoint. It answers 200 for every well-formed
// request so Telegram does not redeliver.
func (b *TelegramBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) != 1 {
			b.logger.Warn().Msg("telegram webhook secret mismatch")
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&update); err != nil {
		b.logger.Warn().Err(err).Msg("bad telegram update")
		w.WriteHeader(http.StatusOK)
		return
	}

	b.ProcessUpdate(r.Context(), update)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (b *TelegramBot) ProcessUpdate(ctx context.Context, update tgbotapi.Update) {
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.updateTimeout)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.New().String()).Int("update_id", update.UpdateID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(&l, func() {
		switch {
		case update.CallbackQuery != nil:
			b.handleCallback(updateCtx, update.CallbackQuery)
		case update.Message != nil && update.Message.From != nil:
			b.handleMessage(updateCtx, update.Message)
		}
	})
}

func (b *TelegramBot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	id := telegramIdentity(msg.From, msg.Chat)

	switch {
	case msg.Voice != nil:
		b.handleVoice(ctx, id, msg)
	case strings.TrimSpace(msg.Text) != "":
		b.send(ctx, msg.Chat.ID, b.router.HandleText(ctx, id, msg.Text))
	default:
		b.send(ctx, msg.Chat.ID, "🤔 I can read text and voice messages. Type help to see what I can do.")
	}
}

func (b *TelegramBot) handleVoice(ctx context.Context, id domain.ChatIdentity, msg *tgbotapi.Message) {
	if b.transcriber == nil {
		b.send(ctx, msg.Chat.ID, "⚠️ Voice messages are not supported right now. Please type your command.")
		return
	}

	transcript, err := b.transcribe(ctx, msg.Voice.FileID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("voice transcription failed")
		b.send(ctx, msg.Chat.ID, "❌ Sorry, I could not process the voice message.")
		return
	}

	prompt, pending := b.router.HandleVoice(ctx, id, transcript)
	if !pending {
		b.send(ctx, msg.Chat.ID, prompt)
		return
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Run it", callbackVoiceApprove),
		tgbotapi.NewInlineKeyboardButtonData("❌ Discard", callbackVoiceReject),
	))
	if _, err := b.tg.SendWithInlineKeyboard(msg.Chat.ID, prompt, keyboard); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to send voice prompt")
	}
}

func (b *TelegramBot) transcribe(ctx context.Context, fileID string) (string, error) {
	fileURL, err := b.tg.FileURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download voice: status %d", resp.StatusCode)
	}
	return b.transcriber.Transcribe(ctx, io.LimitReader(resp.Body, maxVoiceBytes), "voice.ogg")
}

// handleCallback always answers the callback so the client stops spinning.
func (b *TelegramBot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		if err := b.tg.AnswerCallback(cb.ID, ""); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to answer callback")
		}
	}()

	if cb.From == nil || cb.Message == nil {
		return
	}
	id := telegramIdentity(cb.From, cb.Message.Chat)

	var text string
	switch cb.Data {
	case callbackVoiceApprove:
		text = b.router.ResolveVoice(ctx, id, true)
	case callbackVoiceReject:
		text = b.router.ResolveVoice(ctx, id, false)
	default:
		zerolog.Ctx(ctx).Warn().Str("data", cb.Data).Msg("unknown callback")
		return
	}

	// drop the buttons from the prompt
	if _, err := b.tg.EditMessage(cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text, nil); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to clear voice keyboard")
	}
	b.send(ctx, cb.Message.Chat.ID, text)
}

// send splits long replies to stay under Telegram's message size limit.
func (b *TelegramBot) send(ctx context.Context, chatID int64, text string) {
	for _, chunk := range domain.SplitMessage(text, maxTelegramMessage) {
		if _, err := b.tg.SendMessage(chatID, chunk); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("failed to send telegram message")
			return
		}
	}
}

func (b *TelegramBot) withRecovery(l *zerolog.Logger, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPanic()
			l.Error().Interface("panic", r).Msg("recovered from panic in update handler")
		}
	}()
	handler()
}

func telegramIdentity(from *tgbotapi.User, chat *tgbotapi.Chat) domain.ChatIdentity {
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	id := domain.ChatIdentity{
		Platform:    models.PlatformTelegram,
		ExternalID:  strconv.FormatInt(from.ID, 10),
		DisplayName: name,
		Username:    from.UserName,
		ChatID:      strconv.FormatInt(from.ID, 10),
	}
	if chat != nil {
		id.ChatID = strconv.FormatInt(chat.ID, 10)
	}
	return id
}

