package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/database"
	"neonetworker/internal/domain"
	"neonetworker/internal/llm"
	"neonetworker/internal/models"
	"neonetworker/internal/repository"
	"neonetworker/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	mu     sync.Mutex
	cmd    llm.Command
	err    error
	thread string
	seen   []llm.Request
}

func (f *fakeClassifier) Classify(_ context.Context, req llm.Request) (llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, req)
	thread := req.ThreadID
	if f.thread != "" {
		thread = f.thread
	}
	return llm.Result{Command: f.cmd, ThreadID: thread}, f.err
}

type fakeNotifier struct {
	calls chan string
}

func (f *fakeNotifier) NotifyAdmin(_ context.Context, _ *models.User, prompt string, success bool) error {
	if success {
		f.calls <- "ok:" + prompt
	} else {
		f.calls <- "fail:" + prompt
	}
	return nil
}

type testEnv struct {
	db         *database.DB
	router     *Router
	classifier *fakeClassifier
	notifier   *fakeNotifier
	tasks      *service.TaskService
	people     *service.PersonService
	id         domain.ChatIdentity
}

func newTestEnv(t *testing.T, chat config.ChatConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.Open(config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "bot.db")}, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		db:         db,
		classifier: &fakeClassifier{err: errors.New("offline")},
		notifier:   &fakeNotifier{calls: make(chan string, 32)},
		tasks:      service.NewTaskService(db, &logger),
		people:     service.NewPersonService(db, db, &logger),
		id:         domain.ChatIdentity{Platform: models.PlatformTelegram, ExternalID: "1001", DisplayName: "Test User", ChatID: "1001"},
	}
	env.router = NewRouter(RouterDeps{
		Users:      service.NewUserService(db, db, config.AuthConfig{}, &logger),
		People:     env.people,
		Tasks:      env.tasks,
		Events:     service.NewEventService(db, nil, &logger),
		State:      service.NewStateService(repository.NewDBStateRepository(db), &logger),
		Classifier: env.classifier,
		Notifier:   env.notifier,
	}, chat, &logger)
	return env
}

func (e *testEnv) say(t *testing.T, text string) string {
	t.Helper()
	return e.router.HandleText(context.Background(), e.id, text)
}

func (e *testEnv) user(t *testing.T) *models.User {
	t.Helper()
	u, err := e.db.GetUserByEmail(context.Background(), "tg-1001@telegram.local")
	require.NoError(t, err)
	return u
}

func (e *testEnv) state(t *testing.T) models.ChatState {
	t.Helper()
	st, err := e.db.GetChatState(context.Background(), e.user(t).ID)
	require.NoError(t, err)
	return *st
}

func TestRouter_HelpAutoRegisters(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})

	out := env.say(t, "/start")
	assert.Contains(t, out, "Neo Networker")

	u := env.user(t)
	assert.True(t, u.IsApproved)
	assert.Equal(t, "Test User", u.FullName)

	select {
	case call := <-env.notifier.calls:
		assert.Equal(t, "ok:/start", call)
	case <-time.After(2 * time.Second):
		t.Fatal("admin was not notified")
	}
}

func TestRouter_TaskCommands(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})

	assert.Contains(t, env.say(t, "show tasks"), "No tasks")
	assert.Contains(t, env.say(t, "add task Quarterly report"), "✅ Task added: Quarterly report")

	out := env.say(t, "My Tasks")
	assert.Contains(t, out, "Quarterly report [todo]")

	out = env.say(t, "update quarterly REPORT status to completed")
	assert.Contains(t, out, "[done]")

	assert.Contains(t, env.say(t, "show tasks"), "No tasks")
	assert.Contains(t, env.say(t, "show done tasks"), "Quarterly report")
	assert.Contains(t, env.say(t, "show all tasks"), "Quarterly report")

	assert.Contains(t, env.say(t, "update nothing to done"), "No task found")
	assert.Contains(t, env.say(t, "update quarterly to sideways"), "Unknown status")
	assert.Contains(t, env.say(t, "update quarterly"), "Try")
}

func TestRouter_ProjectTasks(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.say(t, "help")
	u := env.user(t)

	apollo := "Apollo"
	for _, title := range []string{"Launch", "Land"} {
		title := title
		_, err := env.tasks.Create(context.Background(), u, service.TaskInput{Title: &title, Project: &apollo})
		require.NoError(t, err)
	}
	other := "Other"
	_, err := env.tasks.Create(context.Background(), u, service.TaskInput{Title: &other})
	require.NoError(t, err)

	out := env.say(t, "show tasks for project apollo")
	assert.Contains(t, out, "Launch")
	assert.Contains(t, out, "Land")
	assert.NotContains(t, out, "Other")

	out = env.say(t, "project Apollo tasks")
	assert.Contains(t, out, "Launch")
}

func TestRouter_DeleteSingleMatch(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.say(t, "add task Send invoice")

	out := env.say(t, "delete send invoice")
	assert.Contains(t, out, `Delete task "Send invoice"?`)
	assert.Equal(t, models.StateWaitingTaskDelete, env.state(t).Current)

	out = env.say(t, "maybe later")
	assert.Contains(t, out, "Please reply yes")
	assert.Equal(t, models.StateWaitingTaskDelete, env.state(t).Current)

	out = env.say(t, "Yes!")
	assert.Contains(t, out, `✅ Deleted task "Send invoice"`)
	assert.Equal(t, models.StateIdle, env.state(t).Kind())

	tasks, err := env.tasks.FindByTitle(context.Background(), env.user(t), "invoice")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRouter_DeleteCandidates(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.say(t, "add task Call Alice")
	env.say(t, "add task Call Bob")

	out := env.say(t, "remove call")
	assert.Contains(t, out, "Several tasks match")
	st := env.state(t)
	require.Len(t, st.Candidates, 2)
	assert.Nil(t, st.TargetID)

	// yes without a selection re-prompts
	assert.Contains(t, env.say(t, "yes"), "Reply with a number")
	assert.Contains(t, env.say(t, "7"), "Reply with a number")

	second := st.Candidates[1].Label
	out = env.say(t, "2")
	assert.Contains(t, out, second)
	st = env.state(t)
	require.NotNil(t, st.TargetID)
	assert.Empty(t, st.Candidates)

	assert.Contains(t, env.say(t, "nope"), "Cancelled")
	assert.Equal(t, models.StateIdle, env.state(t).Kind())

	tasks, err := env.tasks.FindByTitle(context.Background(), env.user(t), "call")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestRouter_DeleteContact(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.say(t, "help")
	u := env.user(t)

	first, last := "John", "Smith"
	_, err := env.people.Create(context.Background(), u, service.PersonInput{FirstName: &first, LastName: &last})
	require.NoError(t, err)

	assert.Contains(t, env.say(t, "delete contact Jane Doe"), "No contact found")

	out := env.say(t, "delete contact john smith")
	assert.Contains(t, out, `Delete contact "John Smith"?`)
	assert.Contains(t, env.say(t, "y"), "✅ Deleted contact")

	assert.Contains(t, env.say(t, "show contacts"), "No contacts")
}

func TestRouter_ClassifierFallbackSearch(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.say(t, "help")
	u := env.user(t)

	first, company := "Marta", "Initech"
	_, err := env.people.Create(context.Background(), u, service.PersonInput{FirstName: &first, Company: &company})
	require.NoError(t, err)

	out := env.say(t, "initech")
	assert.Contains(t, out, "Marta (Initech)")

	out = env.say(t, "qwerty")
	assert.Contains(t, out, "did not understand")
}

func TestRouter_ClassifierDispatch(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	env.classifier.err = nil
	env.classifier.thread = "thread_1"

	env.classifier.cmd = llm.Command{Function: llm.FuncAddEvent, Params: map[string]any{
		"title": "Board meeting", "start_datetime": "tomorrow-ish",
	}}
	out := env.say(t, "board meeting tomorrow-ish")
	assert.Equal(t, "❌ Invalid start_datetime format: tomorrow-ish", out)
	assert.Equal(t, "thread_1", env.state(t).ThreadID)

	env.classifier.cmd = llm.Command{Function: llm.FuncAddEvent, Params: map[string]any{
		"title": "Board meeting", "start_datetime": "2099-01-02 10:00", "participants": []any{"cfo@example.com"},
	}}
	out = env.say(t, "board meeting on jan 2 2099 at 10")
	assert.Contains(t, out, "✅ Event added: Board meeting 🕒 2099-01-02 10:00")
	assert.Contains(t, out, "👥 1")

	env.classifier.cmd = llm.Command{Function: llm.FuncShowEvents, Params: map[string]any{}}
	assert.Contains(t, env.say(t, "what's coming up"), "Board meeting")

	env.classifier.cmd = llm.Command{Function: llm.FuncAddAlert, Params: map[string]any{"task": "x"}}
	assert.Contains(t, env.say(t, "remind me"), "not available yet")

	env.classifier.cmd = llm.Command{Function: llm.FuncAddPerson, Params: map[string]any{
		"first_name": "Ada", "last_name": "Lovelace", "company": "Engines",
	}}
	assert.Contains(t, env.say(t, "new contact Ada Lovelace from Engines"), "Contact added: Ada Lovelace (Engines)")

	env.classifier.cmd = llm.Command{Function: llm.FuncUpdatePerson, Params: map[string]any{
		"name": "Ada Lovelace", "field": "met_at", "value": "conference",
	}}
	assert.Contains(t, env.say(t, "ada was met at a conference"), "met_at = conference")

	env.classifier.cmd = llm.Command{Function: llm.FuncRemoveTask, Params: map[string]any{}}
	assert.Contains(t, env.say(t, "remove that"), "Please tell me the task title")

	// the thread is reused on later calls
	last := env.classifier.seen[len(env.classifier.seen)-1]
	assert.Equal(t, "thread_1", last.ThreadID)
}

func TestRouter_VoiceApproval(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	ctx := context.Background()

	out, pending := env.router.HandleVoice(ctx, env.id, "add task buy milk")
	assert.True(t, pending)
	assert.Contains(t, out, "add task buy milk")
	assert.Equal(t, models.StateWaitingVoiceApproval, env.state(t).Current)

	assert.Contains(t, env.say(t, "what?"), "Pending voice command")

	out = env.say(t, "yes")
	assert.Contains(t, out, "✅ Task added: buy milk")
	assert.Equal(t, models.StateIdle, env.state(t).Kind())

	_, pending = env.router.HandleVoice(ctx, env.id, "delete buy milk")
	assert.True(t, pending)
	assert.Equal(t, msgVoiceRejected, env.router.ResolveVoice(ctx, env.id, false))
	assert.Equal(t, msgNothingVoice, env.router.ResolveVoice(ctx, env.id, true))

	_, pending = env.router.HandleVoice(ctx, env.id, "   ")
	assert.False(t, pending)
	assert.Equal(t, models.StateIdle, env.state(t).Kind())
}

func TestRouter_RevokedApprovalBlocksCommands(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{})
	ctx := context.Background()

	env.say(t, "/start")
	u := env.user(t)
	require.True(t, u.IsApproved)
	u.IsApproved = false
	require.NoError(t, env.db.UpdateUser(ctx, u))

	assert.Equal(t, msgNotApproved, env.say(t, "add task Secret plan"))
	_, pending := env.router.HandleVoice(ctx, env.id, "add task Secret plan")
	assert.False(t, pending)
	assert.Equal(t, msgNotApproved, env.router.ResolveVoice(ctx, env.id, true))

	tasks, err := env.tasks.List(ctx, u, domain.TaskFilter{IncludeDone: true, IncludeScheduled: true, IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRouter_RateLimit(t *testing.T) {
	env := newTestEnv(t, config.ChatConfig{RateLimitMessages: 2, RateLimitWindow: 60})

	assert.NotEqual(t, msgRateLimited, env.say(t, "help"))
	assert.NotEqual(t, msgRateLimited, env.say(t, "help"))
	assert.Equal(t, msgRateLimited, env.say(t, "help"))
}

func TestParseStatusUpdate(t *testing.T) {
	cases := []struct {
		in            string
		title, status string
		ok            bool
	}{
		{"report status to done", "report", "done", true},
		{"report status in progress", "report", "in progress", true},
		{"trip to Paris to started", "trip to Paris", "started", true},
		{"\"Budget\" to todo.", "Budget", "todo", true},
		{"report", "", "", false},
		{" status to done", "", "done", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			title, status, ok := parseStatusUpdate(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.title, title)
				assert.Equal(t, tc.status, status)
			}
		})
	}
}
