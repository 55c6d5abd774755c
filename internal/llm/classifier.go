package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/metrics"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultPollAttempts = 30
	defaultPollInterval = 500 * time.Millisecond
)

var ErrRunNotFinished = errors.New("assistant run did not finish")

// Request is one message to classify. ThreadID is the user's assistant thread,
// empty on first contact.
type Request struct {
	Text     string
	ThreadID string
}

// Result carries the command and the thread the message was posted to.
type Result struct {
	Command  Command
	ThreadID string
}

type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// API is the subset of *openai.Client used here.
type API interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order, after, before, runID *string) (openai.MessagesList, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// NewClient builds the OpenAI client from cfg. BaseURL is overridable for tests
// and proxies.
func NewClient(cfg config.OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewClassifier picks the assistant flow when an assistant id is configured
// and a single chat completion otherwise. It returns nil without an API key.
func NewClassifier(api API, cfg config.OpenAIConfig, logger *zerolog.Logger) Classifier {
	if cfg.APIKey == "" || api == nil {
		return nil
	}
	if cfg.AssistantID != "" {
		return NewAssistantClassifier(api, cfg, logger)
	}
	return NewChatClassifier(api, cfg, logger)
}

// AssistantClassifier posts to a per-user assistant thread and polls the run.
type AssistantClassifier struct {
	api          API
	assistantID  string
	pollAttempts int
	pollInterval time.Duration
	logger       *zerolog.Logger
}

func NewAssistantClassifier(api API, cfg config.OpenAIConfig, logger *zerolog.Logger) *AssistantClassifier {
	c := &AssistantClassifier{
		api:          api,
		assistantID:  cfg.AssistantID,
		pollAttempts: cfg.PollAttempts,
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}
	if c.pollAttempts <= 0 {
		c.pollAttempts = defaultPollAttempts
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	return c
}

func (c *AssistantClassifier) Classify(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	defer func() { metrics.ObserveClassifier(outcome(err), started) }()

	threadID := req.ThreadID
	if threadID == "" {
		thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return Result{}, fmt.Errorf("create thread: %w", err)
		}
		threadID = thread.ID
	}
	res.ThreadID = threadID

	if _, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: req.Text,
	}); err != nil {
		return res, fmt.Errorf("create message: %w", err)
	}

	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:            c.assistantID,
		AdditionalInstructions: RoutingPrompt(time.Now()),
	})
	if err != nil {
		return res, fmt.Errorf("create run: %w", err)
	}

	if err := c.waitForRun(ctx, threadID, run); err != nil {
		return res, err
	}

	reply, err := c.latestAssistantReply(ctx, threadID)
	if err != nil {
		return res, err
	}

	cmd, err := ParseReply(reply)
	if err != nil {
		return res, err
	}
	res.Command = cmd
	return res, nil
}

func (c *AssistantClassifier) waitForRun(ctx context.Context, threadID string, run openai.Run) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusFailed, openai.RunStatusRequiresAction, openai.RunStatusCancelled, openai.RunStatusExpired:
			return fmt.Errorf("%w: status %s", ErrRunNotFinished, run.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err error
		run, err = c.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return fmt.Errorf("retrieve run: %w", err)
		}
	}
	if run.Status == openai.RunStatusCompleted {
		return nil
	}
	return fmt.Errorf("%w: still %s after %d polls", ErrRunNotFinished, run.Status, c.pollAttempts)
}

func (c *AssistantClassifier) latestAssistantReply(ctx context.Context, threadID string) (string, error) {
	limit := 10
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, msg := range list.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Text != nil {
				b.WriteString(part.Text.Value)
			}
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("%w: no assistant message", ErrUnparseable)
}

// ChatClassifier sends one chat completion with the routing prompt.
type ChatClassifier struct {
	api    API
	model  string
	logger *zerolog.Logger
}

func NewChatClassifier(api API, cfg config.OpenAIConfig, logger *zerolog.Logger) *ChatClassifier {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &ChatClassifier{api: api, model: model, logger: logger}
}

func (c *ChatClassifier) Classify(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	defer func() { metrics.ObserveClassifier(outcome(err), started) }()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: RoutingPrompt(time.Now())},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return Result{ThreadID: req.ThreadID}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{ThreadID: req.ThreadID}, fmt.Errorf("%w: empty completion", ErrUnparseable)
	}

	cmd, err := ParseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{ThreadID: req.ThreadID}, err
	}
	return Result{Command: cmd, ThreadID: req.ThreadID}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnparseable):
		return "unparseable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrRunNotFinished):
		return "timeout"
	default:
		return "error"
	}
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

type WhisperTranscriber struct {
	api API
}

func NewWhisperTranscriber(api API) *WhisperTranscriber {
	return &WhisperTranscriber{api: api}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   audio,
		FilePath: filename,
		Language: "en",
		Prompt:   TranscriptionPrompt,
	})
	if err != nil {
		metrics.IncIntegrationFailure("whisper")
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
