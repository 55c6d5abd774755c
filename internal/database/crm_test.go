package database

import (
	"context"
	"testing"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createUser(t *testing.T, db *DB, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, IsApproved: true}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestPeople_SearchAndShare(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := createUser(t, db, "owner@example.com")
	friend := createUser(t, db, "friend@example.com")

	john := &models.Person{OwnerID: owner.ID, FirstName: "John", LastName: "Smith", Company: "ACME Corp", Email: "John@Acme.io"}
	jane := &models.Person{OwnerID: owner.ID, FirstName: "Jane", LastName: "Doe", Company: "Globex"}
	require.NoError(t, db.CreatePerson(ctx, john))
	require.NoError(t, db.CreatePerson(ctx, jane))
	assert.Equal(t, models.PersonStatusActive, john.Status)
	assert.Equal(t, models.PriorityMedium, john.Priority)

	found, err := db.ListPeople(ctx, owner.ID, domain.PersonFilter{Search: "acme"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, john.ID, found[0].ID)

	byEmail, err := db.FindPersonByEmail(ctx, owner.ID, "JOHN@acme.io")
	require.NoError(t, err)
	assert.Equal(t, john.ID, byEmail.ID)

	shared, err := db.ListPeople(ctx, friend.ID, domain.PersonFilter{IncludeShared: true})
	require.NoError(t, err)
	assert.Empty(t, shared)

	require.NoError(t, db.SharePerson(ctx, &models.PersonShare{
		PersonID: jane.ID, OwnerID: owner.ID, SharedWithUserID: friend.ID, Permission: "view",
	}))
	require.NoError(t, db.SharePerson(ctx, &models.PersonShare{
		PersonID: jane.ID, OwnerID: owner.ID, SharedWithUserID: friend.ID, Permission: "edit",
	}))

	share, err := db.GetShare(ctx, jane.ID, friend.ID)
	require.NoError(t, err)
	assert.Equal(t, "edit", share.Permission)

	shared, err = db.ListPeople(ctx, friend.ID, domain.PersonFilter{IncludeShared: true})
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, jane.ID, shared[0].ID)

	n, err := db.DeleteAllPeople(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.ErrorIs(t, db.DeletePerson(ctx, john.ID), domain.ErrNotFound)
}

func TestTasks_FilterAndOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := createUser(t, db, "tasks@example.com")

	soon := time.Now().Add(24 * time.Hour).UTC()
	later := time.Now().Add(72 * time.Hour).UTC()

	undated := &models.Task{OwnerID: owner.ID, Title: "Undated", Project: "Alpha", IsActive: true}
	second := &models.Task{OwnerID: owner.ID, Title: "Later", Project: "alpha", DueDate: &later, IsActive: true}
	first := &models.Task{OwnerID: owner.ID, Title: "Soon", Project: "Beta", DueDate: &soon, IsActive: true}
	done := &models.Task{OwnerID: owner.ID, Title: "Finished", Status: models.TaskStatusDone, IsActive: true}
	scheduled := &models.Task{OwnerID: owner.ID, Title: "Scheduled", IsScheduled: true, IsActive: true}
	inactive := &models.Task{OwnerID: owner.ID, Title: "Archived", IsActive: false}
	for _, task := range []*models.Task{undated, second, first, done, scheduled, inactive} {
		require.NoError(t, db.CreateTask(ctx, task))
	}
	assert.Equal(t, models.TaskStatusTodo, undated.Status)

	tasks, err := db.ListTasks(ctx, owner.ID, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"Soon", "Later", "Undated"}, taskTitles(tasks))

	tasks, err = db.ListTasks(ctx, owner.ID, domain.TaskFilter{Project: "ALPHA"})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = db.ListTasks(ctx, owner.ID, domain.TaskFilter{Status: models.TaskStatusDone})
	require.NoError(t, err)
	assert.Equal(t, []string{"Finished"}, taskTitles(tasks))

	tasks, err = db.ListTasks(ctx, owner.ID, domain.TaskFilter{IncludeDone: true, IncludeScheduled: true})
	require.NoError(t, err)
	assert.Len(t, tasks, 5)

	tasks, err = db.ListTasks(ctx, owner.ID, domain.TaskFilter{Search: "LAT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Later"}, taskTitles(tasks))

	projects, err := db.ListProjects(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta", "alpha"}, projects)

	require.NoError(t, db.DeleteTask(ctx, first.ID))
	assert.ErrorIs(t, db.DeleteTask(ctx, first.ID), domain.ErrNotFound)
}

func taskTitles(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func TestEvents_ParticipantContainment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice@example.com")
	bob := createUser(t, db, "bob@example.com")

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	meeting := &models.Event{
		OwnerID:       alice.ID,
		Title:         "Kickoff",
		StartDatetime: start,
		Participants:  []models.Participant{{Email: "Bob@Example.com", Name: "Bob"}},
		IsActive:      true,
	}
	private := &models.Event{OwnerID: alice.ID, Title: "Focus", StartDatetime: start.Add(time.Hour), IsActive: true}
	require.NoError(t, db.CreateEvent(ctx, meeting))
	require.NoError(t, db.CreateEvent(ctx, private))

	got, err := db.GetEvent(ctx, meeting.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, "bob@example.com", got.Participants[0].Email)

	events, err := db.ListEvents(ctx, bob.ID, "BOB@example.com", domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Kickoff", events[0].Title)

	events, err = db.ListEvents(ctx, alice.ID, alice.Email, domain.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	from := start.Add(30 * time.Minute)
	events, err = db.ListEvents(ctx, alice.ID, alice.Email, domain.EventFilter{Start: &from})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Focus", events[0].Title)

	require.NoError(t, db.SoftDeleteEvent(ctx, meeting.ID))
	assert.ErrorIs(t, db.SoftDeleteEvent(ctx, meeting.ID), domain.ErrNotFound)

	events, err = db.ListEvents(ctx, bob.ID, bob.Email, domain.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	stored, err := db.GetEvent(ctx, meeting.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestEvents_FindByGoogleID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := createUser(t, db, "g@example.com")

	gid := "evt_123"
	require.NoError(t, db.CreateEvent(ctx, &models.Event{
		OwnerID: owner.ID, Title: "Synced", StartDatetime: time.Now().UTC(), GoogleEventID: &gid, IsActive: true,
	}))

	ev, err := db.FindEventByGoogleID(ctx, owner.ID, gid)
	require.NoError(t, err)
	assert.Equal(t, "Synced", ev.Title)

	_, err = db.FindEventByGoogleID(ctx, uuid.New(), gid)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotifications(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n := &models.Notification{UserEmail: "Reader@example.com", Message: "approved", Type: models.NotificationApproval}
	require.NoError(t, db.CreateNotification(ctx, n))

	unread, err := db.ListNotifications(ctx, "reader@example.com", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	assert.ErrorIs(t, db.MarkNotificationRead(ctx, n.ID, "someone@example.com"), domain.ErrNotFound)
	require.NoError(t, db.MarkNotificationRead(ctx, n.ID, "reader@example.com"))

	unread, err = db.ListNotifications(ctx, "reader@example.com", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
