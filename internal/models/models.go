package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserPreferences is the free-form settings blob stored on the user row.
type UserPreferences struct {
	CustomFields []string `json:"custom_fields,omitempty"`
	TableColumns []string `json:"table_columns,omitempty"`
	Plan         string   `json:"plan,omitempty"`
	GroupMembers []string `json:"group_members,omitempty"`
}

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	FullName     string     `gorm:"size:255" json:"full_name"`
	IsApproved   bool       `gorm:"not null;default:false" json:"is_approved"`
	ApprovedBy   *uuid.UUID `gorm:"type:uuid" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`

	TelegramID                 *int64  `gorm:"uniqueIndex" json:"telegram_id,omitempty"`
	TelegramUsername           string  `gorm:"size:255" json:"telegram_username,omitempty"`
	WhatsAppPhone              *string `gorm:"column:whatsapp_phone;size:32;uniqueIndex" json:"whatsapp_phone,omitempty"`
	PreferredMessagingPlatform string  `gorm:"size:20;default:telegram" json:"preferred_messaging_platform"`

	StateData datatypes.JSONType[ChatState] `json:"-"`

	GoogleID           *string    `gorm:"size:255;uniqueIndex" json:"-"`
	GoogleAccessToken  string     `gorm:"type:text" json:"-"`
	GoogleRefreshToken string     `gorm:"type:text" json:"-"`
	GoogleTokenExpiry  *time.Time `json:"-"`

	Preferences datatypes.JSONType[UserPreferences] `gorm:"column:user_preferences" json:"user_preferences"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// GoogleLinked reports whether the user has stored Google credentials.
func (u *User) GoogleLinked() bool {
	return u.GoogleRefreshToken != "" || u.GoogleAccessToken != ""
}

type Person struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         uuid.UUID         `gorm:"type:uuid;index;not null" json:"owner_id"`
	FirstName       string            `gorm:"size:255" json:"first_name"`
	LastName        string            `gorm:"size:255" json:"last_name"`
	Email           string            `gorm:"size:255;index" json:"email"`
	Phone           string            `gorm:"size:255" json:"phone"`
	Company         string            `gorm:"size:255" json:"company"`
	JobTitle        string            `gorm:"size:255" json:"job_title"`
	Status          string            `gorm:"size:32;default:active" json:"status"`
	Priority        string            `gorm:"size:16;default:medium" json:"priority"`
	Gender          *string           `gorm:"size:32" json:"gender"`
	JobStatus       *string           `gorm:"size:32" json:"job_status"`
	Categories      string            `gorm:"size:255" json:"categories"`
	Tags            string            `gorm:"size:255" json:"tags"`
	Notes           string            `gorm:"type:text" json:"notes"`
	LinkedInURL     string            `gorm:"column:linkedin_url;size:255" json:"linkedin_url"`
	Location        string            `gorm:"size:255" json:"location"`
	Source          string            `gorm:"size:255" json:"source"`
	CustomFields    datatypes.JSONMap `json:"custom_fields"`
	GoogleContactID *string           `gorm:"size:255;index" json:"google_contact_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (p *Person) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// FullName joins first and last name, skipping empty parts.
func (p *Person) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PersonShare grants another user access to a contact.
type PersonShare struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PersonID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_share_person_user;not null" json:"person_id"`
	OwnerID          uuid.UUID `gorm:"type:uuid;index;not null" json:"owner_id"`
	SharedWithUserID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_share_person_user;not null" json:"shared_with_user_id"`
	Permission       string    `gorm:"size:16;default:view" json:"permission"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *PersonShare) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type Task struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"owner_id"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Description   string     `gorm:"type:text" json:"description"`
	Project       string     `gorm:"size:255;index" json:"project"`
	Status        string     `gorm:"size:32;default:todo" json:"status"`
	Priority      string     `gorm:"size:16;default:medium" json:"priority"`
	DueDate       *time.Time `json:"due_date"`
	ScheduledDate *time.Time `json:"scheduled_date"`
	IsScheduled   bool       `gorm:"not null;default:false" json:"is_scheduled"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Participant struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Event struct {
	ID            uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID       uuid.UUID                        `gorm:"type:uuid;index;not null" json:"owner_id"`
	Title         string                           `gorm:"size:255;not null" json:"title"`
	Description   string                           `gorm:"type:text" json:"description"`
	Location      string                           `gorm:"size:255" json:"location"`
	Project       string                           `gorm:"size:255;index" json:"project"`
	EventType     string                           `gorm:"size:32;default:meeting" json:"event_type"`
	StartDatetime time.Time                        `gorm:"index;not null" json:"start_datetime"`
	EndDatetime   *time.Time                       `json:"end_datetime"`
	Participants  datatypes.JSONSlice[Participant] `json:"participants"`
	RepeatPattern string                           `gorm:"size:64" json:"repeat_pattern"`
	GoogleEventID *string                          `gorm:"size:255;index" json:"google_event_id,omitempty"`
	IsActive      bool                             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time                        `json:"created_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Participants == nil {
		e.Participants = datatypes.JSONSlice[Participant]{}
	}
	return nil
}

type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserEmail string    `gorm:"size:255;index;not null" json:"user_email"`
	Message   string    `gorm:"type:text" json:"notification"`
	Type      string    `gorm:"size:32" json:"type"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Person{},
		&PersonShare{},
		&Task{},
		&Event{},
		&Notification{},
	}
}
