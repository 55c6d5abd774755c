package domain

import (
	"context"
	"time"

	"neonetworker/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// ChatIdentity is the platform-neutral sender of an inbound chat message.
type ChatIdentity struct {
	Platform    string
	ExternalID  string
	DisplayName string
	Username    string
	// ChatID is where replies go; for WhatsApp it equals ExternalID.
	ChatID string
}

type TaskFilter struct {
	Project          string
	Status           string
	Search           string
	IncludeScheduled bool
	IncludeDone      bool
	IncludeInactive  bool
}

type EventFilter struct {
	Start   *time.Time
	End     *time.Time
	Project string
	Search  string
	Limit   int
}

type PersonFilter struct {
	Search        string
	IncludeShared bool
	Limit         int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserByWhatsAppPhone(ctx context.Context, phone string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListGoogleLinkedUsers(ctx context.Context) ([]*models.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	CountRecords(ctx context.Context) (map[string]int64, error)
}

type PersonRepository interface {
	CreatePerson(ctx context.Context, person *models.Person) error
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	UpdatePerson(ctx context.Context, person *models.Person) error
	DeletePerson(ctx context.Context, id uuid.UUID) error
	DeleteAllPeople(ctx context.Context, ownerID uuid.UUID) (int64, error)
	ListPeople(ctx context.Context, ownerID uuid.UUID, filter PersonFilter) ([]*models.Person, error)
	FindPersonByEmail(ctx context.Context, ownerID uuid.UUID, email string) (*models.Person, error)
	FindPersonByGoogleID(ctx context.Context, ownerID uuid.UUID, googleID string) (*models.Person, error)
	SharePerson(ctx context.Context, share *models.PersonShare) error
	GetShare(ctx context.Context, personID, userID uuid.UUID) (*models.PersonShare, error)
}

type TaskRepository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTasks(ctx context.Context, ownerID uuid.UUID, filter TaskFilter) ([]*models.Task, error)
	ListProjects(ctx context.Context, ownerID uuid.UUID) ([]string, error)
}

type EventRepository interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	UpdateEvent(ctx context.Context, event *models.Event) error
	SoftDeleteEvent(ctx context.Context, id uuid.UUID) error
	// ListEvents returns active events owned by ownerID or listing
	// participantEmail as a participant.
	ListEvents(ctx context.Context, ownerID uuid.UUID, participantEmail string, filter EventFilter) ([]*models.Event, error)
	FindEventByGoogleID(ctx context.Context, ownerID uuid.UUID, googleEventID string) (*models.Event, error)
	SetEventGoogleID(ctx context.Context, id uuid.UUID, googleEventID string) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, email string, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, email string) error
}

type StateRepository interface {
	GetState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error)
	SetState(ctx context.Context, state *models.ChatState) error
	ClearState(ctx context.Context, userID uuid.UUID) error
	CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error)
}

type StateManager interface {
	GetUserState(ctx context.Context, userID uuid.UUID) (models.ChatState, error)
	Transition(ctx context.Context, next models.ChatState) error
	ResetUserState(ctx context.Context, userID uuid.UUID) error
	CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type TelegramService interface {
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	EditMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	AnswerCallback(callbackID string, text string) error
	FileURL(fileID string) (string, error)
	SetWebhook(url, secret string) error
}
