package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/llm"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	// maxReplyBytes keeps every text body under the 4096 character cap.
	maxReplyBytes = 4000
)

// Router is the chat command handler shared with Telegram.
type Router interface {
	HandleText(ctx context.Context, id domain.ChatIdentity, text string) string
	HandleVoice(ctx context.Context, id domain.ChatIdentity, transcript string) (string, bool)
}

// Messenger sends replies and fetches voice notes.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

type Webhook struct {
	client      Messenger
	router      Router
	transcriber llm.Transcriber
	verifyToken string
	appSecret   string
	timeout     time.Duration
	logger      *zerolog.Logger
}

func NewWebhook(
	client Messenger,
	router Router,
	transcriber llm.Transcriber,
	verifyToken, appSecret string,
	timeout time.Duration,
	logger *zerolog.Logger,
) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		client:      client,
		router:      router,
		transcriber: transcriber,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		timeout:     timeout,
		logger:      logger,
	}
}

type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []inbound `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inbound struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"audio"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

// Verify answers the subscription handshake.
func (h *Webhook) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge))
		return
	}
	h.logger.Warn().Str("mode", mode).Msg("whatsapp webhook verification failed")
	http.Error(w, "forbidden", http.StatusForbidden)
}

// Receive handles message notifications. Meta redelivers on non-2xx, so
// processing errors still answer 200.
func (h *Webhook) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if h.appSecret != "" && !validSignature(body, r.Header.Get(signatureHeader), h.appSecret) {
		h.logger.Warn().Msg("whatsapp webhook signature mismatch")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var p payload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("bad whatsapp payload")
		writeOK(w)
		return
	}

	h.process(r.Context(), p)
	writeOK(w)
}

func (h *Webhook) process(ctx context.Context, p payload) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				h.handle(ctx, msg, names[msg.From])
			}
		}
	}
}

func (h *Webhook) handle(ctx context.Context, msg inbound, name string) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	l := h.logger.With().Str("request_id", uuid.New().String()).Str("message_id", msg.ID).Logger()
	msgCtx = l.WithContext(msgCtx)

	defer func() {
		if r := recover(); r != nil {
			metrics.IncPanic()
			l.Error().Interface("panic", r).Msg("recovered from panic in whatsapp handler")
		}
	}()

	id := domain.ChatIdentity{
		Platform:    models.PlatformWhatsApp,
		ExternalID:  msg.From,
		DisplayName: name,
		ChatID:      msg.From,
	}

	var reply string
	switch {
	case msg.Type == "text" && msg.Text != nil:
		reply = h.router.HandleText(msgCtx, id, msg.Text.Body)
	case msg.Type == "button" && msg.Button != nil:
		reply = h.router.HandleText(msgCtx, id, msg.Button.Text)
	case msg.Type == "audio" && msg.Audio != nil:
		reply = h.voice(msgCtx, id, msg.Audio.ID)
	default:
		reply = "🤔 I can read text and voice messages. Type help to see what I can do."
	}

	if strings.TrimSpace(reply) == "" {
		return
	}
	for _, chunk := range domain.SplitMessage(reply, maxReplyBytes) {
		if err := h.client.SendText(msgCtx, msg.From, chunk); err != nil {
			l.Error().Err(err).Msg("failed to send whatsapp reply")
			return
		}
	}
}

func (h *Webhook) voice(ctx context.Context, id domain.ChatIdentity, mediaID string) string {
	if h.transcriber == nil {
		return "⚠️ Voice messages are not supported right now. Please type your command."
	}
	data, mime, err := h.client.DownloadMedia(ctx, mediaID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("whatsapp media download failed")
		return "❌ Sorry, I could not process the voice message."
	}
	transcript, err := h.transcriber.Transcribe(ctx, bytes.NewReader(data), audioFilename(mime))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("voice transcription failed")
		return "❌ Sorry, I could not process the voice message."
	}
	// Approval arrives as a yes/no text reply, so the pending flag is unused.
	prompt, _ := h.router.HandleVoice(ctx, id, transcript)
	return prompt
}

// audioFilename picks an extension Whisper recognises.
func audioFilename(mime string) string {
	switch {
	case strings.Contains(mime, "mpeg"):
		return "voice.mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "aac"):
		return "voice.m4a"
	case strings.Contains(mime, "amr"):
		return "voice.amr"
	default:
		return "voice.ogg"
	}
}

func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
