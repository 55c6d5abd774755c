package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

type UserService struct {
	users         domain.UserRepository
	notifications domain.NotificationRepository
	cfg           config.AuthConfig
	logger        *zerolog.Logger
}

func NewUserService(
	users domain.UserRepository,
	notifications domain.NotificationRepository,
	cfg config.AuthConfig,
	logger *zerolog.Logger,
) *UserService {
	return &UserService{
		users:         users,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetUserByID(ctx, id)
}

func (s *UserService) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.ListUsers(ctx)
}

func (s *UserService) IsAdmin(user *models.User) bool {
	return user != nil && s.cfg.IsAdminEmail(user.Email)
}

// ResolveChatUser finds the account behind a chat identity, registering and
// approving a new one on first contact.
func (s *UserService) ResolveChatUser(ctx context.Context, id domain.ChatIdentity) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch id.Platform {
	case models.PlatformTelegram:
		tgID, perr := strconv.ParseInt(id.ExternalID, 10, 64)
		if perr != nil {
			return nil, domain.Invalid("telegram_id", "not numeric: %s", id.ExternalID)
		}
		user, err = s.users.GetUserByTelegramID(ctx, tgID)
	case models.PlatformWhatsApp:
		user, err = s.users.GetUserByWhatsAppPhone(ctx, normalizePhone(id.ExternalID))
	default:
		return nil, domain.Invalid("platform", "unsupported platform %q", id.Platform)
	}
	if err == nil {
		if id.Username != "" && user.TelegramUsername != id.Username && id.Platform == models.PlatformTelegram {
			user.TelegramUsername = id.Username
			if uerr := s.users.UpdateUser(ctx, user); uerr != nil {
				s.logger.Warn().Err(uerr).Msg("failed to refresh telegram username")
			}
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	return s.registerChatUser(ctx, id)
}

func (s *UserService) registerChatUser(ctx context.Context, id domain.ChatIdentity) (*models.User, error) {
	now := time.Now().UTC()
	user := &models.User{
		FullName:                   strings.TrimSpace(id.DisplayName),
		IsApproved:                 true,
		ApprovedAt:                 &now,
		PreferredMessagingPlatform: id.Platform,
	}

	switch id.Platform {
	case models.PlatformTelegram:
		tgID, _ := strconv.ParseInt(id.ExternalID, 10, 64)
		user.TelegramID = &tgID
		user.TelegramUsername = id.Username
		user.Email = fmt.Sprintf("tg-%d@telegram.local", tgID)
	case models.PlatformWhatsApp:
		phone := normalizePhone(id.ExternalID)
		user.WhatsAppPhone = &phone
		user.Email = fmt.Sprintf("wa-%s@whatsapp.local", phone)
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("platform", id.Platform).
		Msg("chat user auto-registered")
	return user, nil
}

// Approve sets the approval flag and notifies the user.
func (s *UserService) Approve(ctx context.Context, adminID, userID uuid.UUID, approved bool) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.IsApproved = approved
	if approved {
		now := time.Now().UTC()
		user.ApprovedAt = &now
		user.ApprovedBy = &adminID
	} else {
		user.ApprovedAt = nil
		user.ApprovedBy = nil
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	msg := "Your account has been approved."
	if !approved {
		msg = "Your account approval has been revoked."
	}
	if err := s.notifications.CreateNotification(ctx, &models.Notification{
		UserEmail: user.Email,
		Message:   msg,
		Type:      models.NotificationApproval,
	}); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to create approval notification")
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("admin_id", adminID.String()).
		Bool("approved", approved).
		Msg("user approval changed")
	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.users.DeleteUser(ctx, userID)
}

func (s *UserService) Stats(ctx context.Context) (map[string]int64, error) {
	return s.users.CountRecords(ctx)
}

func (s *UserService) SetPreferredPlatform(ctx context.Context, user *models.User, platform string) error {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if !models.OneOf(platform, models.MessagingTargets) {
		return domain.Invalid("preferred_messaging_platform", "must be one of %s", strings.Join(models.MessagingTargets, ", "))
	}
	user.PreferredMessagingPlatform = platform
	return s.users.UpdateUser(ctx, user)
}

// ConnectTelegram links a Telegram account to a web account.
func (s *UserService) ConnectTelegram(ctx context.Context, user *models.User, telegramID int64, username string) error {
	if telegramID <= 0 {
		return domain.Invalid("telegram_id", "must be a positive number")
	}
	if existing, err := s.users.GetUserByTelegramID(ctx, telegramID); err == nil && existing.ID != user.ID {
		return fmt.Errorf("%w: telegram account is linked to another user", domain.ErrConflict)
	}
	user.TelegramID = &telegramID
	user.TelegramUsername = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return s.users.UpdateUser(ctx, user)
}

func (s *UserService) ConnectWhatsApp(ctx context.Context, user *models.User, phone string) error {
	phone = normalizePhone(phone)
	if len(phone) < 7 {
		return domain.Invalid("phone", "a valid phone number is required")
	}
	if existing, err := s.users.GetUserByWhatsAppPhone(ctx, phone); err == nil && existing.ID != user.ID {
		return fmt.Errorf("%w: phone is linked to another user", domain.ErrConflict)
	}
	user.WhatsAppPhone = &phone
	return s.users.UpdateUser(ctx, user)
}

func (s *UserService) Plan(user *models.User) string {
	if p := user.Preferences.Data().Plan; p != "" {
		return p
	}
	return models.DefaultPlan
}

func (s *UserService) SetPlan(ctx context.Context, user *models.User, plan string) error {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		return domain.Invalid("plan", "is required")
	}
	return s.updatePreferences(ctx, user, func(p *models.UserPreferences) { p.Plan = plan })
}

// SetPreferences replaces the column and custom field layout.
func (s *UserService) SetPreferences(ctx context.Context, user *models.User, customFields, tableColumns []string) error {
	return s.updatePreferences(ctx, user, func(p *models.UserPreferences) {
		if customFields != nil {
			p.CustomFields = customFields
		}
		if tableColumns != nil {
			p.TableColumns = tableColumns
		}
	})
}

func (s *UserService) GroupMembers(user *models.User) []string {
	members := user.Preferences.Data().GroupMembers
	if members == nil {
		return []string{}
	}
	return members
}

func (s *UserService) AddGroupMember(ctx context.Context, user *models.User, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.Invalid("email", "a valid email is required")
	}
	if email == user.Email {
		return domain.Invalid("email", "cannot add yourself")
	}
	if models.OneOf(email, s.GroupMembers(user)) {
		return fmt.Errorf("%w: %s is already a member", domain.ErrConflict, email)
	}
	return s.updatePreferences(ctx, user, func(p *models.UserPreferences) {
		p.GroupMembers = append(p.GroupMembers, email)
	})
}

func (s *UserService) RemoveGroupMember(ctx context.Context, user *models.User, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	members := s.GroupMembers(user)
	kept := make([]string, 0, len(members))
	for _, m := range members {
		if m != email {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(members) {
		return domain.ErrNotFound
	}
	return s.updatePreferences(ctx, user, func(p *models.UserPreferences) { p.GroupMembers = kept })
}

// SaveGoogleTokens stores OAuth credentials after a code exchange or refresh.
func (s *UserService) SaveGoogleTokens(
	ctx context.Context,
	user *models.User,
	googleID, access, refresh string,
	expiry time.Time,
) error {
	if googleID != "" {
		user.GoogleID = &googleID
	}
	user.GoogleAccessToken = access
	if refresh != "" {
		user.GoogleRefreshToken = refresh
	}
	if !expiry.IsZero() {
		e := expiry.UTC()
		user.GoogleTokenExpiry = &e
	}
	return s.users.UpdateUser(ctx, user)
}

func (s *UserService) ClearGoogleTokens(ctx context.Context, user *models.User) error {
	user.GoogleID = nil
	user.GoogleAccessToken = ""
	user.GoogleRefreshToken = ""
	user.GoogleTokenExpiry = nil
	return s.users.UpdateUser(ctx, user)
}

func (s *UserService) ListGoogleLinkedUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.ListGoogleLinkedUsers(ctx)
}

func (s *UserService) updatePreferences(ctx context.Context, user *models.User, mutate func(*models.UserPreferences)) error {
	prefs := user.Preferences.Data()
	mutate(&prefs)
	user.Preferences = datatypes.NewJSONType(prefs)
	return s.users.UpdateUser(ctx, user)
}

// normalizePhone keeps digits only, which is how WhatsApp reports wa_id.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
