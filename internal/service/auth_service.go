package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	purposeAccess      = "access"
	purposeGoogleState = "google_oauth"
	googleStateTTL     = 10 * time.Minute
)

type Claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type AuthService struct {
	users  domain.UserRepository
	cfg    config.AuthConfig
	logger *zerolog.Logger
}

func NewAuthService(users domain.UserRepository, cfg config.AuthConfig, logger *zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		cfg:    cfg,
		logger: logger,
	}
}

// Register creates an unapproved account.
func (s *AuthService) Register(ctx context.Context, email, password, fullName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, domain.Invalid("email", "a valid email is required")
	}
	minLen := s.cfg.MinPasswordLen
	if minLen < 1 {
		minLen = 1
	}
	if len(password) < minLen {
		return nil, domain.Invalid("password", "must be at least %d characters", minLen)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, nil
}

// Login checks credentials and issues an access token. Unapproved users get
// domain.ErrNotApproved after a successful password check.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrUnauthorized
	}
	if err != nil {
		return "", nil, err
	}
	if user.PasswordHash == "" {
		return "", nil, domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrUnauthorized
	}
	if !user.IsApproved {
		return "", user, domain.ErrNotApproved
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	cost := s.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// IssueToken signs an HS256 access token carrying the user id and email.
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	return s.sign(user.ID, user.Email, purposeAccess, s.cfg.JWTExpiry)
}

// ParseToken validates an access token and returns the user id.
func (s *AuthService) ParseToken(raw string) (uuid.UUID, error) {
	return s.parse(raw, purposeAccess)
}

// SignGoogleState produces the OAuth state parameter naming userID.
func (s *AuthService) SignGoogleState(userID uuid.UUID) (string, error) {
	return s.sign(userID, "", purposeGoogleState, googleStateTTL)
}

func (s *AuthService) ParseGoogleState(raw string) (uuid.UUID, error) {
	return s.parse(raw, purposeGoogleState)
}

func (s *AuthService) IsAdmin(user *models.User) bool {
	return user != nil && s.cfg.IsAdminEmail(user.Email)
}

func (s *AuthService) sign(userID uuid.UUID, email, purpose string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *AuthService) parse(raw, purpose string) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Purpose != purpose {
		return uuid.Nil, fmt.Errorf("%w: wrong token purpose", domain.ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", domain.ErrUnauthorized)
	}
	return id, nil
}
