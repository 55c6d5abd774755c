package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/database"
	"neonetworker/internal/domain"
	"neonetworker/internal/events"
	"neonetworker/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.Open(config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "svc.db")}, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:   "test-secret",
		JWTExpiry:   time.Hour,
		AdminEmails: []string{"admin@example.com"},
		BcryptCost:  4,
	}
}

func approvedUser(t *testing.T, db *database.DB, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, IsApproved: true}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestAuthService_RegisterLogin(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	auth := NewAuthService(db, testAuthConfig(), &logger)
	users := NewUserService(db, db, testAuthConfig(), &logger)
	ctx := context.Background()

	user, err := auth.Register(ctx, "New@Example.com", "pw", "New User")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.False(t, user.IsApproved)

	_, err = auth.Register(ctx, "new@example.com", "pw", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = auth.Register(ctx, "not-an-email", "pw", "")
	assert.True(t, domain.IsValidation(err))

	_, _, err = auth.Login(ctx, "new@example.com", "pw")
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	_, _, err = auth.Login(ctx, "new@example.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = auth.Login(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	admin := approvedUser(t, db, "admin@example.com")
	_, err = users.Approve(ctx, admin.ID, user.ID, true)
	require.NoError(t, err)

	token, got, err := auth.Login(ctx, "NEW@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	id, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	notes, err := db.ListNotifications(ctx, user.Email, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationApproval, notes[0].Type)
}

func TestAuthService_Tokens(t *testing.T) {
	logger := zerolog.Nop()
	auth := NewAuthService(nil, testAuthConfig(), &logger)
	user := &models.User{Email: "a@example.com"}
	require.NoError(t, user.BeforeCreate(nil))

	state, err := auth.SignGoogleState(user.ID)
	require.NoError(t, err)

	id, err := auth.ParseGoogleState(state)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	// A state token is not an access token and vice versa.
	_, err = auth.ParseToken(state)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	access, err := auth.IssueToken(user)
	require.NoError(t, err)
	_, err = auth.ParseGoogleState(access)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	other := NewAuthService(nil, config.AuthConfig{JWTSecret: "other"}, &logger)
	_, err = other.ParseToken(access)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.True(t, auth.IsAdmin(&models.User{Email: "ADMIN@example.com"}))
	assert.False(t, auth.IsAdmin(user))
}

func TestUserService_ResolveChatUser(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	users := NewUserService(db, db, testAuthConfig(), &logger)
	ctx := context.Background()

	tg, err := users.ResolveChatUser(ctx, domain.ChatIdentity{
		Platform: models.PlatformTelegram, ExternalID: "4242", DisplayName: "Tele Gram", Username: "tg_user",
	})
	require.NoError(t, err)
	assert.Equal(t, "tg-4242@telegram.local", tg.Email)
	assert.True(t, tg.IsApproved)
	assert.Equal(t, "tg_user", tg.TelegramUsername)

	again, err := users.ResolveChatUser(ctx, domain.ChatIdentity{Platform: models.PlatformTelegram, ExternalID: "4242"})
	require.NoError(t, err)
	assert.Equal(t, tg.ID, again.ID)

	wa, err := users.ResolveChatUser(ctx, domain.ChatIdentity{Platform: models.PlatformWhatsApp, ExternalID: "+1 (555) 010-2030"})
	require.NoError(t, err)
	assert.Equal(t, "wa-15550102030@whatsapp.local", wa.Email)
	assert.Equal(t, models.PlatformWhatsApp, wa.PreferredMessagingPlatform)

	_, err = users.ResolveChatUser(ctx, domain.ChatIdentity{Platform: "sms", ExternalID: "1"})
	assert.True(t, domain.IsValidation(err))
}

func TestUserService_Preferences(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	users := NewUserService(db, db, testAuthConfig(), &logger)
	ctx := context.Background()
	user := approvedUser(t, db, "prefs@example.com")

	assert.Equal(t, models.DefaultPlan, users.Plan(user))
	require.NoError(t, users.SetPlan(ctx, user, "Pro"))

	require.NoError(t, users.AddGroupMember(ctx, user, "Mate@example.com"))
	assert.ErrorIs(t, users.AddGroupMember(ctx, user, "mate@example.com"), domain.ErrConflict)
	assert.True(t, domain.IsValidation(users.AddGroupMember(ctx, user, "prefs@example.com")))

	reloaded, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", users.Plan(reloaded))
	assert.Equal(t, []string{"mate@example.com"}, users.GroupMembers(reloaded))

	require.NoError(t, users.RemoveGroupMember(ctx, reloaded, "mate@example.com"))
	assert.ErrorIs(t, users.RemoveGroupMember(ctx, reloaded, "mate@example.com"), domain.ErrNotFound)

	assert.True(t, domain.IsValidation(users.SetPreferredPlatform(ctx, reloaded, "fax")))
	require.NoError(t, users.SetPreferredPlatform(ctx, reloaded, "WhatsApp"))
	assert.Equal(t, models.PlatformWhatsApp, reloaded.PreferredMessagingPlatform)

	other := approvedUser(t, db, "other@example.com")
	require.NoError(t, users.ConnectTelegram(ctx, other, 777, "@other"))
	assert.ErrorIs(t, users.ConnectTelegram(ctx, reloaded, 777, ""), domain.ErrConflict)
	assert.Equal(t, "other", other.TelegramUsername)
}

func TestPersonService_Access(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	people := NewPersonService(db, db, &logger)
	ctx := context.Background()
	owner := approvedUser(t, db, "owner@example.com")
	friend := approvedUser(t, db, "friend@example.com")

	str := func(s string) *string { return &s }

	_, err := people.Create(ctx, owner, PersonInput{Company: str("ACME")})
	assert.True(t, domain.IsValidation(err))

	_, err = people.Create(ctx, owner, PersonInput{FirstName: str("A"), Status: str("bogus")})
	assert.True(t, domain.IsValidation(err))

	p, err := people.Create(ctx, owner, PersonInput{
		FirstName:    str("Ada"),
		LastName:     str("Lovelace"),
		Gender:       str("Female"),
		CustomFields: map[string]any{"met_at": "conf"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PersonStatusActive, p.Status)
	require.NotNil(t, p.Gender)
	assert.Equal(t, "female", *p.Gender)

	_, err = people.Get(ctx, friend, p.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = people.Share(ctx, owner, p.ID, "friend@example.com", "view")
	require.NoError(t, err)

	got, err := people.Get(ctx, friend, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "conf", got.CustomFields["met_at"])

	_, err = people.Update(ctx, friend, p.ID, PersonInput{Notes: str("hi")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = people.Share(ctx, owner, p.ID, "friend@example.com", "edit")
	require.NoError(t, err)

	updated, err := people.Update(ctx, friend, p.ID, PersonInput{Notes: str("hi"), Gender: str("")})
	require.NoError(t, err)
	assert.Equal(t, "hi", updated.Notes)
	assert.Nil(t, updated.Gender)

	assert.ErrorIs(t, people.Delete(ctx, friend, p.ID), domain.ErrForbidden)
	require.NoError(t, people.Delete(ctx, owner, p.ID))

	_, err = people.Get(ctx, owner, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskService(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	tasks := NewTaskService(db, &logger)
	ctx := context.Background()
	owner := approvedUser(t, db, "t@example.com")
	intruder := approvedUser(t, db, "x@example.com")

	str := func(s string) *string { return &s }

	_, err := tasks.Create(ctx, owner, TaskInput{Title: str("Report"), DueDate: str("tomorrow-ish")})
	require.Error(t, err)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "due_date", verr.Field)

	task, err := tasks.Create(ctx, owner, TaskInput{Title: str("Report"), DueDate: str("2025-06-01 09:30"), Project: str("Q2")})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusTodo, task.Status)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), *task.DueDate)

	_, err = tasks.Update(ctx, intruder, task.ID, TaskInput{Status: str("done")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	updated, err := tasks.Update(ctx, owner, task.ID, TaskInput{Status: str("Completed")})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, updated.Status)

	open, err := tasks.List(ctx, owner, domain.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)

	done, err := tasks.List(ctx, owner, domain.TaskFilter{Status: "finished"})
	require.NoError(t, err)
	assert.Len(t, done, 1)

	_, err = tasks.List(ctx, owner, domain.TaskFilter{Status: "sideways"})
	assert.True(t, domain.IsValidation(err))

	found, err := tasks.FindByTitle(ctx, owner, "repo")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	require.NoError(t, tasks.Delete(ctx, owner, task.ID))
	assert.ErrorIs(t, tasks.Delete(ctx, owner, task.ID), domain.ErrNotFound)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) PublishJSON(eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, eventType)
	return nil
}

func TestEventService(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.Nop()
	pub := &recordingPublisher{}
	svc := NewEventService(db, pub, &logger)
	ctx := context.Background()
	owner := approvedUser(t, db, "host@example.com")
	guest := approvedUser(t, db, "guest@example.com")

	str := func(s string) *string { return &s }
	guests := ParticipantList{{Email: "Guest@Example.com"}}

	_, err := svc.Create(ctx, owner, EventInput{Title: str("No start")})
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, owner, EventInput{
		Title: str("Backwards"), StartDatetime: str("2025-06-01 10:00"), EndDatetime: str("2025-06-01 09:00"),
	})
	assert.True(t, domain.IsValidation(err))

	ev, err := svc.Create(ctx, owner, EventInput{
		Title:         str("Sync"),
		StartDatetime: str("2025-06-01T10:00:00Z"),
		Participants:  &guests,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), ev.StartDatetime)

	seen, err := svc.Get(ctx, guest, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sync", seen.Title)

	list, err := svc.List(ctx, guest, domain.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.Update(ctx, guest, ev.ID, EventInput{Title: str("Hijack")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Update(ctx, owner, ev.ID, EventInput{Location: str("Room 1")})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, owner, ev.ID))
	_, err = svc.Get(ctx, owner, ev.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []string{events.EventCreated, events.EventUpdated, events.EventDeleted}, pub.topics)
}

func TestParticipantListUnmarshal(t *testing.T) {
	var in EventInput
	require.NoError(t, json.Unmarshal([]byte(`{"participants": ["a@x.io", {"email": "b@x.io", "name": "B"}, ""]}`), &in))
	require.NotNil(t, in.Participants)
	assert.Equal(t, ParticipantList{{Email: "a@x.io"}, {Email: "b@x.io", Name: "B"}}, *in.Participants)
}

func TestParseDateTime(t *testing.T) {
	cases := map[string]time.Time{
		"2025-03-10 14:30":          time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		"2025-03-10T14:30:00Z":      time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		"2025-03-10T14:30:00.500Z":  time.Date(2025, 3, 10, 14, 30, 0, 500_000_000, time.UTC),
		"2025-03-10T14:30":          time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		"2025-03-10T14:30:00+02:00": time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC),
		"2025-03-10":                time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDateTime("start_datetime", in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
	}

	_, err := ParseDateTime("due_date", "next tuesday")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "due_date", verr.Field)
	assert.Contains(t, verr.Message, "next tuesday")
}
