package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

const revokeURL = "https://oauth2.googleapis.com/revoke"

var Scopes = []string{
	people.ContactsReadonlyScope,
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
	people.UserinfoEmailScope,
}

// TokenStore persists OAuth credentials on the user row.
type TokenStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveGoogleTokens(ctx context.Context, user *models.User, googleID, access, refresh string, expiry time.Time) error
	ClearGoogleTokens(ctx context.Context, user *models.User) error
	ListGoogleLinkedUsers(ctx context.Context) ([]*models.User, error)
}

// Status is the link state reported to the frontend.
type Status struct {
	Linked      bool       `json:"linked"`
	GoogleID    string     `json:"google_id,omitempty"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
}

// AuthService runs the OAuth flow and builds API clients for linked users.
type AuthService struct {
	oauth  *oauth2.Config
	tokens TokenStore
	people domain.PersonRepository
	events domain.EventRepository
	logger *zerolog.Logger

	httpClient       *http.Client
	revokeURL        string
	peopleEndpoint   string
	calendarEndpoint string
	now              func() time.Time
}

func NewAuthService(
	cfg config.GoogleConfig,
	tokens TokenStore,
	peopleRepo domain.PersonRepository,
	eventRepo domain.EventRepository,
	logger *zerolog.Logger,
) *AuthService {
	return &AuthService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		tokens:     tokens,
		people:     peopleRepo,
		events:     eventRepo,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		revokeURL:  revokeURL,
		now:        time.Now,
	}
}

func (s *AuthService) Configured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

// AuthCodeURL asks for offline access with forced consent so Google always
// returns a refresh token.
func (s *AuthService) AuthCodeURL(state string) (string, error) {
	if !s.Configured() {
		return "", domain.ErrDisabled
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for tokens and links them to user.
func (s *AuthService) Exchange(ctx context.Context, user *models.User, code string) error {
	if !s.Configured() {
		return domain.ErrDisabled
	}
	if strings.TrimSpace(code) == "" {
		return domain.Invalid("code", "authorization code is required")
	}
	tok, err := s.oauth.Exchange(s.clientContext(ctx), code)
	if err != nil {
		metrics.IncIntegrationFailure("google")
		return fmt.Errorf("exchange code: %w", err)
	}

	googleID, err := s.profileID(ctx, tok)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to read google profile")
	}
	if err := s.tokens.SaveGoogleTokens(ctx, user, googleID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		return fmt.Errorf("save google tokens: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID.String()).Msg("google account linked")
	return nil
}

// EnsureValidToken refreshes an expired access token and persists the result.
func (s *AuthService) EnsureValidToken(ctx context.Context, user *models.User) (*oauth2.Token, error) {
	if !user.GoogleLinked() {
		return nil, domain.ErrNotLinked
	}
	current := &oauth2.Token{
		AccessToken:  user.GoogleAccessToken,
		RefreshToken: user.GoogleRefreshToken,
		TokenType:    "Bearer",
	}
	if user.GoogleTokenExpiry != nil {
		current.Expiry = *user.GoogleTokenExpiry
	}
	if current.Valid() {
		return current, nil
	}
	if current.RefreshToken == "" {
		return nil, domain.ErrNotLinked
	}

	fresh, err := s.oauth.TokenSource(s.clientContext(ctx), current).Token()
	if err != nil {
		metrics.IncIntegrationFailure("google")
		return nil, fmt.Errorf("refresh google token: %w", err)
	}
	if fresh.AccessToken != current.AccessToken {
		if err := s.tokens.SaveGoogleTokens(ctx, user, "", fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
			return nil, fmt.Errorf("save refreshed token: %w", err)
		}
	}
	return fresh, nil
}

// Revoke invalidates the grant at Google and always clears the local tokens.
func (s *AuthService) Revoke(ctx context.Context, user *models.User) error {
	token := user.GoogleRefreshToken
	if token == "" {
		token = user.GoogleAccessToken
	}
	if token != "" {
		if err := s.revoke(ctx, token); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("google revoke failed")
		}
	}
	return s.tokens.ClearGoogleTokens(ctx, user)
}

func (s *AuthService) revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke: status %d", resp.StatusCode)
	}
	return nil
}

func (s *AuthService) Status(user *models.User) Status {
	st := Status{Linked: user.GoogleLinked(), TokenExpiry: user.GoogleTokenExpiry}
	if user.GoogleID != nil {
		st.GoogleID = *user.GoogleID
	}
	return st
}

// SyncNotifier leaves an in-app notification for a user.
type SyncNotifier interface {
	Notify(ctx context.Context, email, kind, message string) error
}

// SyncAll imports contacts and calendar events for every linked user. When
// notifier is set, users whose sync created new rows get a sync notification.
func (s *AuthService) SyncAll(ctx context.Context, notifier SyncNotifier) {
	users, err := s.tokens.ListGoogleLinkedUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list google linked users")
		return
	}
	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		l := s.logger.With().Str("user_id", user.ID.String()).Logger()

		var created int
		if res, err := s.SyncContacts(ctx, user); err != nil {
			l.Error().Err(err).Msg("scheduled contact sync failed")
		} else {
			created += res.Created
			l.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("contacts synced")
		}
		if res, err := s.SyncCalendar(ctx, user); err != nil {
			l.Error().Err(err).Msg("scheduled calendar sync failed")
		} else {
			created += res.Created
			l.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("calendar synced")
		}

		if notifier == nil || created == 0 {
			continue
		}
		msg := fmt.Sprintf("Google sync imported %d new contacts and events", created)
		if err := notifier.Notify(ctx, user.Email, models.NotificationSync, msg); err != nil {
			l.Warn().Err(err).Msg("sync notification failed")
		}
	}
}

func (s *AuthService) profileID(ctx context.Context, tok *oauth2.Token) (string, error) {
	svc, err := s.peopleService(ctx, tok)
	if err != nil {
		return "", err
	}
	me, err := svc.People.Get("people/me").PersonFields("emailAddresses").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(me.ResourceName, "people/"), nil
}

func (s *AuthService) peopleService(ctx context.Context, tok *oauth2.Token) (*people.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(s.apiClient(ctx, tok))}
	if s.peopleEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.peopleEndpoint))
	}
	return people.NewService(ctx, opts...)
}

func (s *AuthService) calendarService(ctx context.Context, tok *oauth2.Token) (*calendar.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(s.apiClient(ctx, tok))}
	if s.calendarEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.calendarEndpoint))
	}
	return calendar.NewService(ctx, opts...)
}

func (s *AuthService) apiClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(s.clientContext(ctx), oauth2.StaticTokenSource(tok))
}

func (s *AuthService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// authorized returns a valid token for user, mapping a revoked grant to
// ErrNotLinked.
func (s *AuthService) authorized(ctx context.Context, user *models.User) (*oauth2.Token, error) {
	tok, err := s.EnsureValidToken(ctx, user)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, domain.ErrNotLinked
		}
		return nil, err
	}
	return tok, nil
}
