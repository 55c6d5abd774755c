package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/database"
	"neonetworker/internal/domain"
	"neonetworker/internal/models"
	"neonetworker/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/people/v1"
)

type testEnv struct {
	db   *database.DB
	auth *AuthService
	mux  *http.ServeMux
	user *models.User

	mu      sync.Mutex
	revoked []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.Open(config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "google.db")}, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{db: db, mux: http.NewServeMux()}
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	env.mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"Bearer","expires_in":3600}`))
		}
	})
	env.mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		env.mu.Lock()
		env.revoked = append(env.revoked, r.Form.Get("token"))
		env.mu.Unlock()
	})
	env.mux.HandleFunc("/v1/people/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(people.Person{ResourceName: "people/1234"})
	})

	users := service.NewUserService(db, db, config.AuthConfig{}, &logger)
	env.auth = NewAuthService(config.GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/api/auth/google/callback",
	}, users, db, db, &logger)
	env.auth.oauth.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
	env.auth.revokeURL = srv.URL + "/revoke"
	env.auth.peopleEndpoint = srv.URL + "/"
	env.auth.calendarEndpoint = srv.URL + "/calendar/v3/"
	env.auth.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	env.user = &models.User{Email: "owner@example.com", IsApproved: true}
	require.NoError(t, db.CreateUser(context.Background(), env.user))
	return env
}

func (e *testEnv) link(t *testing.T) {
	t.Helper()
	require.NoError(t, e.auth.Exchange(context.Background(), e.user, "good-code"))
}

func TestAuthCodeURL(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.auth.AuthCodeURL("state-token")
	require.NoError(t, err)
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "prompt=consent")
	assert.Contains(t, u, "state=state-token")
	assert.Contains(t, u, "contacts.readonly")

	logger := zerolog.Nop()
	disabled := NewAuthService(config.GoogleConfig{}, nil, nil, nil, &logger)
	_, err = disabled.AuthCodeURL("x")
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestExchangeAndRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.Error(t, env.auth.Exchange(ctx, env.user, "bad-code"))
	env.link(t)

	stored, err := env.db.GetUserByID(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.GoogleAccessToken)
	assert.Equal(t, "rt-1", stored.GoogleRefreshToken)
	require.NotNil(t, stored.GoogleID)
	assert.Equal(t, "1234", *stored.GoogleID)
	assert.True(t, env.auth.Status(stored).Linked)

	tok, err := env.auth.EnsureValidToken(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)

	expired := time.Now().Add(-time.Hour)
	stored.GoogleTokenExpiry = &expired
	tok, err = env.auth.EnsureValidToken(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)

	stored, err = env.db.GetUserByID(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.GoogleAccessToken)
	assert.Equal(t, "rt-1", stored.GoogleRefreshToken)
}

func TestEnsureValidToken_NotLinked(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.EnsureValidToken(context.Background(), env.user)
	assert.ErrorIs(t, err, domain.ErrNotLinked)
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.link(t)

	require.NoError(t, env.auth.Revoke(ctx, env.user))
	assert.Equal(t, []string{"rt-1"}, env.revoked)

	stored, err := env.db.GetUserByID(ctx, env.user.ID)
	require.NoError(t, err)
	assert.False(t, stored.GoogleLinked())
	assert.Nil(t, stored.GoogleID)
}

func TestSyncContacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.link(t)

	existing := &models.Person{OwnerID: env.user.ID, FirstName: "Ann", Email: "ann@example.com"}
	require.NoError(t, env.db.CreatePerson(ctx, existing))

	env.mux.HandleFunc("/v1/people/me/connections", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(people.ListConnectionsResponse{
				Connections: []*people.Person{{
					ResourceName:   "people/c1",
					Names:          []*people.Name{{GivenName: "Ann", FamilyName: "Lee"}},
					EmailAddresses: []*people.EmailAddress{{Value: "ANN@example.com"}},
					Organizations:  []*people.Organization{{Name: "Initech", Title: "CTO"}},
				}},
				NextPageToken: "page-2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(people.ListConnectionsResponse{
			Connections: []*people.Person{
				{
					ResourceName: "people/c2",
					Names:        []*people.Name{{GivenName: "Bob", FamilyName: "Stone"}},
					PhoneNumbers: []*people.PhoneNumber{{Value: "+1 555 0100"}},
				},
				{ResourceName: "people/c3"},
			},
		})
	})

	res, err := env.auth.SyncContacts(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 1, Updated: 1, Skipped: 1}, res)

	ann, err := env.db.GetPerson(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lee", ann.LastName)
	assert.Equal(t, "Initech", ann.Company)
	require.NotNil(t, ann.GoogleContactID)
	assert.Equal(t, "people/c1", *ann.GoogleContactID)

	bob, err := env.db.FindPersonByGoogleID(ctx, env.user.ID, "people/c2")
	require.NoError(t, err)
	assert.Equal(t, "google", bob.Source)

	res, err = env.auth.SyncContacts(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Skipped: 3}, res)
}

func TestSyncCalendar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.link(t)

	env.mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		_ = json.NewEncoder(w).Encode(calendar.Events{Items: []*calendar.Event{
			{
				Id:      "g1",
				Summary: "Board meeting",
				Start:   &calendar.EventDateTime{DateTime: "2025-03-02T10:00:00Z"},
				End:     &calendar.EventDateTime{DateTime: "2025-03-02T11:00:00Z"},
				Attendees: []*calendar.EventAttendee{
					{Email: "owner@example.com", Self: true},
					{Email: "Guest@Example.com", DisplayName: "Guest"},
				},
			},
			{Id: "g2", Summary: "Holiday", Start: &calendar.EventDateTime{Date: "2025-03-05"}},
			{Id: "g3", Status: "cancelled"},
		}})
	})

	res, err := env.auth.SyncCalendar(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 2, Skipped: 1}, res)

	ev, err := env.db.FindEventByGoogleID(ctx, env.user.ID, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Board meeting", ev.Title)
	require.Len(t, ev.Participants, 1)
	assert.Equal(t, "guest@example.com", ev.Participants[0].Email)

	res, err = env.auth.SyncCalendar(ctx, env.user)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Skipped: 3}, res)
}

func TestSyncAll_NotifiesOnNewRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.link(t)

	env.mux.HandleFunc("/v1/people/me/connections", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(people.ListConnectionsResponse{})
	})
	env.mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(calendar.Events{Items: []*calendar.Event{{
			Id:      "g9",
			Summary: "Quarterly review",
			Start:   &calendar.EventDateTime{DateTime: "2025-03-03T09:00:00Z"},
		}}})
	})

	notifications := service.NewNotificationService(env.db)
	env.auth.SyncAll(ctx, notifications)
	env.auth.SyncAll(ctx, notifications)

	notes, err := notifications.List(ctx, env.user, false)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationSync, notes[0].Type)
	assert.Contains(t, notes[0].Message, "1 new")
}

func TestCalendarSync_Mirror(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.link(t)
	mirror := NewCalendarSync(env.auth)

	var mu sync.Mutex
	var calls []string
	record := func(r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
	}
	env.mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var body calendar.Event
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "Launch", body.Summary)
		body.Id = "created-1"
		_ = json.NewEncoder(w).Encode(body)
	})
	env.mux.HandleFunc("/calendar/v3/calendars/primary/events/stale", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
	})
	env.mux.HandleFunc("/calendar/v3/calendars/primary/events/created-1", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Deleted"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(calendar.Event{Id: "created-1"})
	})

	stale := "stale"
	ev := &models.Event{
		OwnerID:       env.user.ID,
		Title:         "Launch",
		StartDatetime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		GoogleEventID: &stale,
		IsActive:      true,
	}
	require.NoError(t, env.db.CreateEvent(ctx, ev))

	require.NoError(t, mirror.UpsertEvent(ctx, env.user.ID, ev.ID))
	stored, err := env.db.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GoogleEventID)
	assert.Equal(t, "created-1", *stored.GoogleEventID)

	require.NoError(t, mirror.UpsertEvent(ctx, env.user.ID, ev.ID))
	require.NoError(t, mirror.DeleteEvent(ctx, env.user.ID, "created-1"))

	assert.Equal(t, []string{
		"PUT /calendar/v3/calendars/primary/events/stale",
		"POST /calendar/v3/calendars/primary/events",
		"PUT /calendar/v3/calendars/primary/events/created-1",
		"DELETE /calendar/v3/calendars/primary/events/created-1",
	}, calls)
}

func TestCalendarSync_SkipsUnlinkedOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mirror := NewCalendarSync(env.auth)

	ev := &models.Event{OwnerID: env.user.ID, Title: "Local only", StartDatetime: time.Now().UTC(), IsActive: true}
	require.NoError(t, env.db.CreateEvent(ctx, ev))

	assert.NoError(t, mirror.UpsertEvent(ctx, env.user.ID, ev.ID))
	assert.NoError(t, mirror.DeleteEvent(ctx, env.user.ID, "anything"))
}
