package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/llm"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"
	"neonetworker/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	msgRateLimited   = "⚠️ You are sending messages too fast. Please wait a moment."
	msgNotApproved   = "⏳ Your account is awaiting approval"
	msgGenericError  = "❌ Sorry, something went wrong. Please try again later."
	msgNothingVoice  = "⚠️ There is no pending voice command."
	msgVoiceRejected = "❌ Voice command discarded."
	msgCancelled     = "❌ Cancelled."
)

var (
	yesWords = map[string]bool{"yes": true, "y": true, "confirm": true, "ok": true, "sure": true, "yeah": true, "yep": true}
	noWords  = map[string]bool{"no": true, "n": true, "cancel": true, "nope": true, "nah": true}
)

type UserResolver interface {
	ResolveChatUser(ctx context.Context, id domain.ChatIdentity) (*models.User, error)
}

type PeopleService interface {
	List(ctx context.Context, user *models.User, search string) ([]*models.Person, error)
	Search(ctx context.Context, user *models.User, term string, limit int) ([]*models.Person, error)
	Create(ctx context.Context, user *models.User, in service.PersonInput) (*models.Person, error)
	Update(ctx context.Context, user *models.User, id uuid.UUID, in service.PersonInput) (*models.Person, error)
	Delete(ctx context.Context, user *models.User, id uuid.UUID) error
}

type TaskService interface {
	List(ctx context.Context, user *models.User, filter domain.TaskFilter) ([]*models.Task, error)
	Create(ctx context.Context, user *models.User, in service.TaskInput) (*models.Task, error)
	Update(ctx context.Context, user *models.User, id uuid.UUID, in service.TaskInput) (*models.Task, error)
	Delete(ctx context.Context, user *models.User, id uuid.UUID) error
	FindByTitle(ctx context.Context, user *models.User, title string) ([]*models.Task, error)
}

type EventService interface {
	Upcoming(ctx context.Context, user *models.User, limit int) ([]*models.Event, error)
	Between(ctx context.Context, user *models.User, from, to time.Time) ([]*models.Event, error)
	List(ctx context.Context, user *models.User, filter domain.EventFilter) ([]*models.Event, error)
	Create(ctx context.Context, user *models.User, in service.EventInput) (*models.Event, error)
	Update(ctx context.Context, user *models.User, id uuid.UUID, in service.EventInput) (*models.Event, error)
	Delete(ctx context.Context, user *models.User, id uuid.UUID) error
	FindByTitle(ctx context.Context, user *models.User, title string) ([]*models.Event, error)
}

// AdminNotifier reports chat prompts to the operator.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, user *models.User, prompt string, success bool) error
}

// Router turns chat text into CRM operations. It is shared by the Telegram
// and WhatsApp adapters.
type Router struct {
	users      UserResolver
	people     PeopleService
	tasks      TaskService
	events     EventService
	state      domain.StateManager
	classifier llm.Classifier
	notifier   AdminNotifier
	cfg        config.ChatConfig
	commands   []command
	now        func() time.Time
	logger     *zerolog.Logger
}

type RouterDeps struct {
	Users      UserResolver
	People     PeopleService
	Tasks      TaskService
	Events     EventService
	State      domain.StateManager
	Classifier llm.Classifier
	Notifier   AdminNotifier
}

func NewRouter(deps RouterDeps, cfg config.ChatConfig, logger *zerolog.Logger) *Router {
	r := &Router{
		users:      deps.Users,
		people:     deps.People,
		tasks:      deps.Tasks,
		events:     deps.Events,
		state:      deps.State,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
	r.commands = r.simpleCommands()
	return r
}

// result is the outcome of one routed message.
type result struct {
	reply   string
	command string
	err     error
}

func reply(command, text string) result {
	return result{reply: text, command: command}
}

func failed(command string, err error) result {
	return result{command: command, err: err}
}

// HandleText routes one text message and returns the reply. Errors never
// escape; they become apology replies.
func (r *Router) HandleText(ctx context.Context, id domain.ChatIdentity, text string) string {
	user, ok, msg := r.begin(ctx, id)
	if !ok {
		return msg
	}

	st, err := r.state.GetUserState(ctx, user.ID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to load chat state")
		st = models.ChatState{UserID: user.ID, Current: models.StateIdle}
	}

	res := r.route(ctx, user, st, strings.TrimSpace(text))
	return r.finish(ctx, id, user, text, res)
}

// HandleVoice stores a transcript for approval. The bool reports whether a
// transcript is now pending, so callers only offer approve buttons then.
func (r *Router) HandleVoice(ctx context.Context, id domain.ChatIdentity, transcript string) (string, bool) {
	user, ok, msg := r.begin(ctx, id)
	if !ok {
		return msg, false
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "⚠️ I could not understand the voice message. Please try again.", false
	}

	st, err := r.state.GetUserState(ctx, user.ID)
	if err != nil {
		st = models.ChatState{UserID: user.ID}
	}
	if err := r.state.Transition(ctx, st.WaitingVoice(transcript)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to store voice transcript")
		return msgGenericError, false
	}
	metrics.IncCommand(id.Platform, "voice", "pending")
	return fmt.Sprintf("🎤 I heard:\n\"%s\"\n\nShould I run this command? Reply yes or no.", transcript), true
}

// ResolveVoice approves or rejects the pending transcript.
func (r *Router) ResolveVoice(ctx context.Context, id domain.ChatIdentity, approve bool) string {
	user, ok, msg := r.begin(ctx, id)
	if !ok {
		return msg
	}
	st, err := r.state.GetUserState(ctx, user.ID)
	if err != nil || st.Kind() != models.StateWaitingVoiceApproval {
		return msgNothingVoice
	}
	res := r.resolveVoice(ctx, user, st, approve)
	return r.finish(ctx, id, user, st.Transcript, res)
}

func (r *Router) begin(ctx context.Context, id domain.ChatIdentity) (*models.User, bool, string) {
	user, err := r.users.ResolveChatUser(ctx, id)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("platform", id.Platform).Msg("failed to resolve chat user")
		return nil, false, msgGenericError
	}
	// Auto-registered chat users start approved; a revoked approval blocks
	// every chat command.
	if !user.IsApproved {
		zerolog.Ctx(ctx).Info().Str("user_id", user.ID.String()).Msg("chat message from unapproved user")
		return nil, false, msgNotApproved
	}

	limit := r.cfg.RateLimitMessages
	if limit <= 0 {
		limit = models.RateLimitMessages
	}
	window := time.Duration(r.cfg.RateLimitWindow) * time.Second
	if window <= 0 {
		window = models.RateLimitWindow * time.Second
	}
	allowed, err := r.state.CheckRateLimit(ctx, user.ID, limit, window)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("user_id", user.ID.String()).Msg("rate limit check failed")
	} else if !allowed {
		zerolog.Ctx(ctx).Warn().Str("user_id", user.ID.String()).Msg("rate limit exceeded")
		return nil, false, msgRateLimited
	}
	return user, true, ""
}

func (r *Router) finish(ctx context.Context, id domain.ChatIdentity, user *models.User, prompt string, res result) string {
	outcome := "ok"
	text := res.reply
	if res.err != nil {
		outcome = "error"
		text = r.errorReply(ctx, res.err)
	}
	if res.command == "" {
		res.command = "unknown"
	}
	metrics.IncCommand(id.Platform, res.command, outcome)
	r.notifyAdmin(user, prompt, res.err == nil)
	return text
}

func (r *Router) errorReply(ctx context.Context, err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		if value, ok := strings.CutPrefix(verr.Message, "invalid format: "); ok {
			return fmt.Sprintf("❌ Invalid %s format: %s", verr.Field, value)
		}
		return "❌ " + verr.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "❌ I could not find that."
	case errors.Is(err, domain.ErrForbidden):
		return "❌ You do not have access to that."
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("chat command failed")
	return msgGenericError
}

// notifyAdmin is fire and forget.
func (r *Router) notifyAdmin(user *models.User, prompt string, success bool) {
	if r.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.notifier.NotifyAdmin(ctx, user, prompt, success); err != nil {
			r.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to notify admin")
		}
	}()
}

func (r *Router) route(ctx context.Context, user *models.User, st models.ChatState, text string) result {
	if text == "" {
		return reply("empty", "🤔 Send me a command, or type help.")
	}

	switch {
	case st.Kind() == models.StateWaitingPassword:
		// legacy state: drop it and treat the message as a command
		idle := st.Idle()
		if err := r.state.Transition(ctx, idle); err != nil {
			return failed("state", err)
		}
		st = idle
	case st.Waiting():
		return r.handleWaiting(ctx, user, st, text)
	}

	lower := normalize(text)
	for _, c := range r.commands {
		if arg, ok := c.match(lower, text); ok {
			return c.handle(ctx, user, arg)
		}
	}

	return r.classify(ctx, user, st, text)
}

// handleWaiting applies confirmation replies while a flow is pending.
func (r *Router) handleWaiting(ctx context.Context, user *models.User, st models.ChatState, text string) result {
	answer := normalize(text)

	if st.Kind() == models.StateWaitingVoiceApproval {
		switch {
		case yesWords[answer]:
			return r.resolveVoice(ctx, user, st, true)
		case noWords[answer]:
			return r.resolveVoice(ctx, user, st, false)
		}
		return reply("voice", fmt.Sprintf("🎤 Pending voice command:\n\"%s\"\n\nReply yes to run it or no to discard it.", st.Transcript))
	}

	switch {
	case yesWords[answer]:
		if st.TargetID == nil {
			return reply("confirm", r.candidatePrompt(st))
		}
		return r.executeDelete(ctx, user, st)
	case noWords[answer]:
		if err := r.state.Transition(ctx, st.Idle()); err != nil {
			return failed("confirm", err)
		}
		return reply("confirm", msgCancelled)
	}

	if n, err := strconv.Atoi(answer); err == nil && len(st.Candidates) > 0 {
		next, ok := st.Select(n)
		if !ok {
			return reply("confirm", r.candidatePrompt(st))
		}
		if err := r.state.Transition(ctx, next); err != nil {
			return failed("confirm", err)
		}
		return reply("confirm", fmt.Sprintf("🗑 Delete %s \"%s\"? Reply yes or no.", kindNoun(next.Kind()), next.TargetLabel))
	}

	// anything else re-prompts and leaves the state as it is
	if st.TargetID == nil {
		return reply("confirm", r.candidatePrompt(st))
	}
	return reply("confirm", fmt.Sprintf("⚠️ Please reply yes to delete %s \"%s\" or no to cancel.", kindNoun(st.Kind()), st.TargetLabel))
}

func (r *Router) resolveVoice(ctx context.Context, user *models.User, st models.ChatState, approve bool) result {
	idle := st.Idle()
	if err := r.state.Transition(ctx, idle); err != nil {
		return failed("voice", err)
	}
	if !approve {
		return reply("voice", msgVoiceRejected)
	}
	return r.route(ctx, user, idle, st.Transcript)
}

func (r *Router) executeDelete(ctx context.Context, user *models.User, st models.ChatState) result {
	var (
		command string
		err     error
	)
	switch st.Kind() {
	case models.StateWaitingTaskDelete:
		command = "remove_task"
		err = r.tasks.Delete(ctx, user, *st.TargetID)
	case models.StateWaitingPersonDelete:
		command = "delete_person"
		err = r.people.Delete(ctx, user, *st.TargetID)
	case models.StateWaitingEventDelete:
		command = "remove_event"
		err = r.events.Delete(ctx, user, *st.TargetID)
	}

	if terr := r.state.Transition(ctx, st.Idle()); terr != nil {
		zerolog.Ctx(ctx).Error().Err(terr).Msg("failed to clear chat state")
	}
	if errors.Is(err, domain.ErrNotFound) {
		return reply(command, fmt.Sprintf("⚠️ %s \"%s\" no longer exists.", capitalize(kindNoun(st.Kind())), st.TargetLabel))
	}
	if err != nil {
		return failed(command, err)
	}
	return reply(command, fmt.Sprintf("✅ Deleted %s \"%s\".", kindNoun(st.Kind()), st.TargetLabel))
}

func (r *Router) candidatePrompt(st models.ChatState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 Several %ss match. Reply with a number to choose one, or no to cancel:\n", kindNoun(st.Kind()))
	for i, c := range st.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}

// startDelete offers candidates for deletion. Nothing is deleted until the
// user confirms.
func (r *Router) startDelete(ctx context.Context, user *models.User, kind models.ChatStateKind, query string, candidates []models.Candidate) result {
	command := deleteCommand(kind)
	if len(candidates) == 0 {
		return reply(command, fmt.Sprintf("❌ No %s found matching \"%s\".", kindNoun(kind), query))
	}

	st, err := r.state.GetUserState(ctx, user.ID)
	if err != nil {
		st = models.ChatState{UserID: user.ID}
	}
	next := st.WaitingDelete(kind, candidates)
	if err := r.state.Transition(ctx, next); err != nil {
		return failed(command, err)
	}
	if next.TargetID != nil {
		return reply(command, fmt.Sprintf("🗑 Delete %s \"%s\"? Reply yes or no.", kindNoun(kind), next.TargetLabel))
	}
	return reply(command, r.candidatePrompt(next))
}

func (r *Router) classify(ctx context.Context, user *models.User, st models.ChatState, text string) result {
	if r.classifier == nil {
		return r.searchContacts(ctx, user, text)
	}

	res, err := r.classifier.Classify(ctx, llm.Request{Text: text, ThreadID: st.ThreadID})
	if res.ThreadID != "" && res.ThreadID != st.ThreadID {
		next := st
		next.ThreadID = res.ThreadID
		if terr := r.state.Transition(ctx, next); terr != nil {
			zerolog.Ctx(ctx).Warn().Err(terr).Msg("failed to store assistant thread")
		}
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("classifier failed, falling back to contact search")
		return r.searchContacts(ctx, user, text)
	}
	return r.dispatch(ctx, user, res.Command)
}

func deleteCommand(kind models.ChatStateKind) string {
	switch kind {
	case models.StateWaitingPersonDelete:
		return "delete_person"
	case models.StateWaitingEventDelete:
		return "remove_event"
	}
	return "remove_task"
}

func kindNoun(kind models.ChatStateKind) string {
	switch kind {
	case models.StateWaitingPersonDelete:
		return "contact"
	case models.StateWaitingEventDelete:
		return "event"
	}
	return "task"
}

// normalize lowercases and trims trailing punctuation for matching.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
